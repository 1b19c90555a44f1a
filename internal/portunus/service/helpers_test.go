package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PRsofteng/start-control-access/internal/clock"
	"github.com/PRsofteng/start-control-access/internal/logging"
	"github.com/PRsofteng/start-control-access/internal/portunus/door"
	"github.com/PRsofteng/start-control-access/internal/portunus/service"
	"github.com/PRsofteng/start-control-access/internal/portunus/store/memory"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // a Monday

const (
	uidJoao       uint64 = 1234567890
	uidMaria      uint64 = 987654321
	uidSpare      uint64 = 567890123
	uidCarlos     uint64 = 456789012
	uidBlocked    uint64 = 111222333
	uidInactive   uint64 = 444555666
	uidNotPresent uint64 = 999
)

type fixture struct {
	clk    *clock.FakeClock
	dir    *service.Directory
	dirs   *memory.DirectoryStore
	events *flakyEvents
	door   *door.Machine
	doors  *doorRecorder
	pub    *publishRecorder
	ledger *service.Ledger
	coord  *service.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:    clock.Fake(epoch),
		dirs:   memory.NewDirectoryStore(),
		events: &flakyEvents{AccessEventStore: memory.NewAccessEventStore()},
		doors:  &doorRecorder{},
		pub:    &publishRecorder{},
		ledger: service.NewLedger(),
	}
	logger := logging.Discard()

	f.dir = service.NewDirectory(f.dirs, f.clk, logger)
	seedDirectory(t, f.dir, f.clk.Now())

	f.door = door.NewMachine(door.Config{
		Clock:  f.clk,
		Timing: door.DefaultTiming(),
		Logger: logger,
		Notify: f.doors.notify,
	})
	f.coord = service.NewCoordinator(service.CoordinatorConfig{
		Verifier:      service.NewVerifier(f.dir, logger),
		Directory:     f.dir,
		Door:          f.door,
		Events:        f.events,
		Ledger:        f.ledger,
		Publisher:     f.pub,
		Clock:         f.clk,
		Logger:        logger,
		AppendRetries: 2,
	})
	return f
}

// finishCycle runs the door timers to completion.
func (f *fixture) finishCycle() {
	f.clk.Advance(5 * time.Second)
}

func seedDirectory(t *testing.T, dir *service.Directory, now time.Time) {
	t.Helper()
	ctx := context.Background()
	inactive := false
	expired := now.Add(-time.Hour)

	persons := []service.PersonInput{
		{ID: "joao", Category: types.CategoryEmployee, DisplayName: "João Silva"},
		{ID: "maria", Category: types.CategoryEmployee, DisplayName: "Maria Souza"},
		{ID: "carlos", Category: types.CategoryVisitor, DisplayName: "Carlos Oliveira", ValidUntil: &expired},
		{ID: "ana", Category: types.CategoryEmployee, DisplayName: "Ana Lima", Active: &inactive},
	}
	for _, p := range persons {
		_, err := dir.CreatePerson(ctx, p)
		require.NoError(t, err)
	}

	tags := []service.TagInput{
		{UID: uidJoao, OwnerID: "joao"},
		{UID: uidMaria, OwnerID: "maria"},
		{UID: uidSpare},
		{UID: uidCarlos, OwnerID: "carlos"},
		{UID: uidBlocked, OwnerID: "joao", Blocked: true},
		{UID: uidInactive, OwnerID: "ana"},
	}
	for _, tg := range tags {
		_, err := dir.CreateTag(ctx, tg)
		require.NoError(t, err)
	}
}

var errDiskFull = errors.New("disk full")

// flakyEvents wraps the memory store with injectable append failures.
// commitThenFail simulates a write that lands but whose ack is lost.
type flakyEvents struct {
	*memory.AccessEventStore

	mu             sync.Mutex
	failAppends    int
	commitThenFail int
	appendCalls    int
}

func (f *flakyEvents) AppendEvent(ctx context.Context, ev types.AccessEvent) error {
	f.mu.Lock()
	f.appendCalls++
	switch {
	case f.failAppends > 0:
		f.failAppends--
		f.mu.Unlock()
		return errDiskFull
	case f.commitThenFail > 0:
		f.commitThenFail--
		f.mu.Unlock()
		if err := f.AccessEventStore.AppendEvent(ctx, ev); err != nil {
			return err
		}
		return errDiskFull
	}
	f.mu.Unlock()
	return f.AccessEventStore.AppendEvent(ctx, ev)
}

func (f *flakyEvents) set(failAppends, commitThenFail int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAppends = failAppends
	f.commitThenFail = commitThenFail
}

type doorRecorder struct {
	mu  sync.Mutex
	trs []types.DoorTransition
}

func (r *doorRecorder) notify(tr types.DoorTransition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trs = append(r.trs, tr)
}

func (r *doorRecorder) states() []types.DoorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.DoorState, 0, len(r.trs))
	for _, tr := range r.trs {
		out = append(out, tr.To)
	}
	return out
}

type publishRecorder struct {
	mu     sync.Mutex
	events []types.AccessEvent
}

func (p *publishRecorder) PublishAccessEvent(ev types.AccessEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *publishRecorder) all() []types.AccessEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.AccessEvent(nil), p.events...)
}

type brokenDirectory struct{}

func (brokenDirectory) Resolve(context.Context, uint64) (types.Credential, error) {
	return types.Credential{}, errors.New("database is locked")
}
