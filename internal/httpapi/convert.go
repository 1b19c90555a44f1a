package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PRsofteng/start-control-access/internal/portunus/service"
	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// eventFilterFromQuery parses ?from&to&person_id&outcome&limit. Times are
// RFC 3339 or YYYY-MM-DD; a bare "to" date covers that whole day.
func eventFilterFromQuery(r *http.Request) (store.EventFilter, error) {
	q := r.URL.Query()
	f := store.EventFilter{
		PersonID: strings.TrimSpace(q.Get("person_id")),
		Limit:    defaultEventLimit,
	}

	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, _, err := parseQueryTime(v)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.From = t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, dateOnly, err := parseQueryTime(v)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		f.To = t
	}

	switch o := types.Outcome(strings.ToLower(strings.TrimSpace(q.Get("outcome")))); o {
	case "", "all":
	case types.OutcomeAllowed, types.OutcomeDenied:
		f.Outcome = o
	default:
		return f, fmt.Errorf("outcome must be allowed or denied")
	}

	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		if n > maxEventLimit {
			n = maxEventLimit
		}
		f.Limit = n
	}
	return f, nil
}

func parseQueryTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("expected RFC 3339 time or YYYY-MM-DD, got %q", v)
}

func parseTagUID(s string) (uint64, error) {
	uid, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || uid == 0 {
		return 0, service.ErrInvalidTagUID
	}
	return uid, nil
}
