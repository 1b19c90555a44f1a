package door

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PRsofteng/start-control-access/internal/clock"
	"github.com/PRsofteng/start-control-access/internal/logging"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu  sync.Mutex
	trs []types.DoorTransition
}

func (r *recorder) notify(tr types.DoorTransition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trs = append(r.trs, tr)
}

func (r *recorder) states() []types.DoorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.DoorState, 0, len(r.trs))
	for _, tr := range r.trs {
		out = append(out, tr.To)
	}
	return out
}

func newTestMachine(t *testing.T) (*Machine, *clock.FakeClock, *recorder, *LogActuator) {
	t.Helper()
	clk := clock.Fake(epoch)
	rec := &recorder{}
	act := NewLogActuator(logging.Discard())
	m := NewMachine(Config{
		Clock:    clk,
		Timing:   DefaultTiming(),
		Actuator: act,
		Logger:   logging.Discard(),
		Notify:   rec.notify,
	})
	return m, clk, rec, act
}

func TestNext_TransitionTable(t *testing.T) {
	cases := []struct {
		from types.DoorState
		ev   event
		to   types.DoorState
		ok   bool
	}{
		{types.DoorClosed, evOpenCommand, types.DoorOpening, true},
		{types.DoorOpening, evTimerElapsed, types.DoorOpen, true},
		{types.DoorOpen, evTimerElapsed, types.DoorClosing, true},
		{types.DoorClosing, evTimerElapsed, types.DoorClosed, true},
		{types.DoorClosed, evTimerElapsed, types.DoorClosed, false},
		{types.DoorOpening, evOpenCommand, types.DoorOpening, false},
		{types.DoorOpen, evOpenCommand, types.DoorOpen, false},
		{types.DoorClosing, evOpenCommand, types.DoorClosing, false},
	}
	for _, tc := range cases {
		to, ok := next(tc.from, tc.ev)
		assert.Equal(t, tc.ok, ok, "%s/%d", tc.from, tc.ev)
		assert.Equal(t, tc.to, to, "%s/%d", tc.from, tc.ev)
	}
}

func TestMachine_FullCycleFollowsTimings(t *testing.T) {
	m, clk, rec, act := newTestMachine(t)

	require.NoError(t, m.Open())
	assert.Equal(t, types.DoorOpening, m.State())
	unlocks, locks := act.Counts()
	assert.Equal(t, int64(1), unlocks)
	assert.Zero(t, locks)

	clk.Advance(499 * time.Millisecond)
	assert.Equal(t, types.DoorOpening, m.State())

	clk.Advance(time.Millisecond)
	assert.Equal(t, types.DoorOpen, m.State())

	clk.Advance(3 * time.Second)
	assert.Equal(t, types.DoorClosing, m.State())
	_, locks = act.Counts()
	assert.Zero(t, locks, "lock is issued when closing ends")

	clk.Advance(time.Second)
	assert.Equal(t, types.DoorClosed, m.State())
	_, locks = act.Counts()
	assert.Equal(t, int64(1), locks)

	assert.Equal(t, []types.DoorState{
		types.DoorOpening, types.DoorOpen, types.DoorClosing, types.DoorClosed,
	}, rec.states())
	assert.Equal(t, 0, clk.Pending())
}

func TestMachine_TransitionsCarryTimeAndCycle(t *testing.T) {
	m, clk, rec, _ := newTestMachine(t)

	require.NoError(t, m.Open())
	clk.Advance(10 * time.Second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.trs, 4)
	assert.Equal(t, epoch, rec.trs[0].At)
	assert.Equal(t, epoch.Add(500*time.Millisecond), rec.trs[1].At)
	assert.Equal(t, epoch.Add(3500*time.Millisecond), rec.trs[2].At)
	assert.Equal(t, epoch.Add(4500*time.Millisecond), rec.trs[3].At)
	for _, tr := range rec.trs {
		assert.Equal(t, uint64(1), tr.Cycle)
	}
	assert.Equal(t, uint64(1), m.Status().Cycle)
}

func TestMachine_OpenRejectedUntilClosed(t *testing.T) {
	m, clk, _, _ := newTestMachine(t)

	require.NoError(t, m.Open())
	assert.ErrorIs(t, m.Open(), ErrDoorBusy)

	clk.Advance(time.Second)
	assert.ErrorIs(t, m.Open(), ErrDoorBusy, "open")

	clk.Advance(3 * time.Second)
	assert.ErrorIs(t, m.Open(), ErrDoorBusy, "closing")

	clk.Advance(time.Second)
	require.NoError(t, m.Open())
	assert.Equal(t, uint64(2), m.Cycles())
}

func TestMachine_ConcurrentOpensOnlyOneWins(t *testing.T) {
	m, _, rec, _ := newTestMachine(t)

	const callers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Open() == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, uint64(1), m.Cycles())
	assert.Equal(t, []types.DoorState{types.DoorOpening}, rec.states())
}

func TestMachine_ZeroTimingsCompleteSynchronously(t *testing.T) {
	clk := clock.Fake(epoch)
	rec := &recorder{}
	m := NewMachine(Config{Clock: clk, Logger: logging.Discard(), Notify: rec.notify})

	require.NoError(t, m.Open())
	assert.Equal(t, types.DoorClosed, m.State())
	assert.Len(t, rec.states(), 4)
}

// gatedActuator records relay commands in order. Lock blocks until the
// gate is closed.
type gatedActuator struct {
	mu      sync.Mutex
	calls   []string
	locking chan struct{}
	gate    chan struct{}
}

func (g *gatedActuator) Unlock() { g.record("unlock") }

func (g *gatedActuator) Lock() {
	select {
	case g.locking <- struct{}{}:
	default:
	}
	<-g.gate
	g.record("lock")
}

func (g *gatedActuator) record(c string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

func (g *gatedActuator) sequence() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func TestMachine_OpenWaitsForPendingLock(t *testing.T) {
	clk := clock.Fake(epoch)
	rec := &recorder{}
	act := &gatedActuator{locking: make(chan struct{}, 1), gate: make(chan struct{})}
	m := NewMachine(Config{
		Clock:    clk,
		Timing:   DefaultTiming(),
		Actuator: act,
		Logger:   logging.Discard(),
		Notify:   rec.notify,
	})

	require.NoError(t, m.Open())
	clk.Advance(3500 * time.Millisecond)
	require.Equal(t, types.DoorClosing, m.State())

	advanced := make(chan struct{})
	go func() {
		clk.Advance(time.Second)
		close(advanced)
	}()
	<-act.locking

	opened := make(chan error, 1)
	go func() { opened <- m.Open() }()

	select {
	case err := <-opened:
		t.Fatalf("open finished while the relay was still locking: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(act.gate)
	require.NoError(t, <-opened)
	<-advanced

	assert.Equal(t, []string{"unlock", "lock", "unlock"}, act.sequence())
	assert.Equal(t, []types.DoorState{
		types.DoorOpening, types.DoorOpen, types.DoorClosing, types.DoorClosed, types.DoorOpening,
	}, rec.states())
	assert.Equal(t, types.DoorOpening, m.State())
	assert.Equal(t, uint64(2), m.Cycles())
}
