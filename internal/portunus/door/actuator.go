package door

import (
	"log/slog"
	"sync/atomic"
)

// LogActuator stands in for the strike relay. It logs each command and
// counts them so callers can check the relay was driven.
type LogActuator struct {
	logger  *slog.Logger
	unlocks atomic.Int64
	locks   atomic.Int64
}

func NewLogActuator(logger *slog.Logger) *LogActuator {
	return &LogActuator{logger: logger}
}

func (a *LogActuator) Unlock() {
	a.unlocks.Add(1)
	a.logger.Info("actuator unlock")
}

func (a *LogActuator) Lock() {
	a.locks.Add(1)
	a.logger.Info("actuator lock")
}

func (a *LogActuator) Counts() (unlocks, locks int64) {
	return a.unlocks.Load(), a.locks.Load()
}
