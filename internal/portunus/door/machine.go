// Package door models the single physical door as a state machine driven
// by open commands and phase timers.
package door

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/PRsofteng/start-control-access/internal/clock"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// ErrDoorBusy is returned when an open command arrives while the door is
// anywhere but closed. Commands are rejected, never queued.
var ErrDoorBusy = errors.New("door busy")

type Timing struct {
	OpenLatency  time.Duration // opening -> open
	Hold         time.Duration // open -> closing
	CloseLatency time.Duration // closing -> closed
}

func DefaultTiming() Timing {
	return Timing{
		OpenLatency:  500 * time.Millisecond,
		Hold:         3 * time.Second,
		CloseLatency: time.Second,
	}
}

// phase returns how long the door stays in s before the timer fires.
func (t Timing) phase(s types.DoorState) time.Duration {
	switch s {
	case types.DoorOpening:
		return t.OpenLatency
	case types.DoorOpen:
		return t.Hold
	case types.DoorClosing:
		return t.CloseLatency
	default:
		return 0
	}
}

// Actuator drives the strike relay. Calls are fire-and-forget.
type Actuator interface {
	Unlock()
	Lock()
}

type event int

const (
	evOpenCommand event = iota
	evTimerElapsed
)

// next is the only place door transitions are defined.
func next(s types.DoorState, e event) (types.DoorState, bool) {
	switch {
	case s == types.DoorClosed && e == evOpenCommand:
		return types.DoorOpening, true
	case s == types.DoorOpening && e == evTimerElapsed:
		return types.DoorOpen, true
	case s == types.DoorOpen && e == evTimerElapsed:
		return types.DoorClosing, true
	case s == types.DoorClosing && e == evTimerElapsed:
		return types.DoorClosed, true
	default:
		return s, false
	}
}

// Status is a point-in-time view of the door.
type Status struct {
	State types.DoorState `json:"state"`
	Since time.Time       `json:"since"`
	Cycle uint64          `json:"cycle"`
}

type Config struct {
	Clock    clock.Clock
	Timing   Timing
	Actuator Actuator
	Logger   *slog.Logger

	// Notify receives every transition in order. It runs before the
	// next transition can commit, so it must not block for long.
	Notify func(types.DoorTransition)
}

// Machine is the one door instance. Commands and timer events take step
// for the whole transition, actuator call and notification included, so
// the relay and subscribers see transitions in commit order. mu guards
// the state for readers.
type Machine struct {
	clk      clock.Clock
	timing   Timing
	actuator Actuator
	logger   *slog.Logger
	notify   func(types.DoorTransition)

	step sync.Mutex

	mu     sync.Mutex
	state  types.DoorState
	since  time.Time
	cycles uint64
}

func NewMachine(cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Actuator == nil {
		cfg.Actuator = NewLogActuator(cfg.Logger)
	}
	return &Machine{
		clk:      cfg.Clock,
		timing:   cfg.Timing,
		actuator: cfg.Actuator,
		logger:   cfg.Logger,
		notify:   cfg.Notify,
		state:    types.DoorClosed,
		since:    cfg.Clock.Now(),
	}
}

// Open commands the door open. It returns ErrDoorBusy unless the door is
// closed. The rest of the cycle runs on timers and never blocks the caller.
func (m *Machine) Open() error {
	m.step.Lock()
	defer m.step.Unlock()

	if !m.run(evOpenCommand) {
		return ErrDoorBusy
	}
	return nil
}

func (m *Machine) State() types.DoorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Since: m.since, Cycle: m.cycles}
}

// Cycles counts how many times the door has entered opening.
func (m *Machine) Cycles() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

func (m *Machine) elapse() {
	m.step.Lock()
	defer m.step.Unlock()

	if !m.run(evTimerElapsed) {
		// A timer only exists for a timed phase, so this means two timers
		// were armed for the same phase.
		m.logger.Error("door timer fired in untimed state", "state", m.State())
	}
}

// run commits e and its side effects, then keeps stepping through phases
// with no duration. It arms the timer for the first timed phase. Callers
// hold m.step.
func (m *Machine) run(e event) bool {
	for {
		tr, ok := m.fire(e)
		if !ok {
			return false
		}
		m.apply(tr)

		if tr.To == types.DoorClosed {
			return true
		}
		if d := m.timing.phase(tr.To); d > 0 {
			m.clk.AfterFunc(d, m.elapse)
			return true
		}
		e = evTimerElapsed
	}
}

func (m *Machine) fire(e event) (types.DoorTransition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, ok := next(m.state, e)
	if !ok {
		return types.DoorTransition{From: m.state, To: m.state}, false
	}
	if to == types.DoorOpening {
		m.cycles++
	}
	tr := types.DoorTransition{From: m.state, To: to, At: m.clk.Now(), Cycle: m.cycles}
	m.state = to
	m.since = tr.At
	return tr, true
}

// apply drives the relay and reports the transition.
func (m *Machine) apply(tr types.DoorTransition) {
	switch {
	case tr.To == types.DoorOpening:
		m.actuator.Unlock()
	case tr.From == types.DoorClosing:
		m.actuator.Lock()
	}

	m.logger.Debug("door transition", "from", tr.From, "to", tr.To, "cycle", tr.Cycle)
	if m.notify != nil {
		m.notify(tr)
	}
}
