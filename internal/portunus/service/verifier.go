package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// Resolver looks a tag up in the credential directory.
type Resolver interface {
	Resolve(ctx context.Context, uid uint64) (types.Credential, error)
}

type Verifier struct {
	dir    Resolver
	logger *slog.Logger
}

func NewVerifier(dir Resolver, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{dir: dir, logger: logger}
}

// Decide resolves uid and evaluates it at now. A directory that cannot
// be read denies.
func (v *Verifier) Decide(ctx context.Context, uid uint64, now time.Time) types.Decision {
	cred, err := v.dir.Resolve(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return Evaluate(nil, now)
	}
	if err != nil {
		v.logger.Error("directory unavailable", "tag_uid", uid, "err", err)
		return types.Decision{Reason: types.ReasonDirectoryUnavailable}
	}
	return Evaluate(&cred, now)
}

// Evaluate applies the access rules in order; the first match wins. A
// nil credential is an unknown tag.
func Evaluate(cred *types.Credential, now time.Time) types.Decision {
	switch {
	case cred == nil:
		return types.Decision{Reason: types.ReasonUnknownTag}
	case cred.Tag.Blocked:
		return types.Decision{Reason: types.ReasonTagBlocked}
	case cred.Owner == nil:
		return types.Decision{Reason: types.ReasonTagUnassigned}
	}

	p := cred.Owner
	d := types.Decision{PersonID: p.ID, PersonName: p.DisplayName}
	switch {
	case !p.Active:
		d.Reason = types.ReasonPersonInactive
	case p.Category == types.CategoryVisitor && p.ValidUntil != nil && now.After(*p.ValidUntil):
		d.Reason = types.ReasonVisitorExpired
	default:
		d.Allowed = true
	}
	return d
}
