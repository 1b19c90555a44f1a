package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PRsofteng/start-control-access/internal/clock"
)

// Sweeper is what OccupancySweeper drives; *Coordinator implements it.
type Sweeper interface {
	Sweep(ctx context.Context, maxDwell time.Duration) (int, error)
}

// OccupancySweeper periodically closes entries that have stayed open
// longer than MaxDwell, so missed exit taps do not leave phantom
// occupants forever. It runs as a background goroutine and is safe to
// stop via its context or the Stop method.
//
// A MaxDwell of 0 disables sweeping entirely.
type OccupancySweeper struct {
	target   Sweeper
	maxDwell time.Duration
	interval time.Duration
	clk      clock.Clock
	logger   *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

type SweeperConfig struct {
	MaxDwell time.Duration

	// Interval is how often the sweep runs. Defaults to 15 minutes.
	Interval time.Duration
}

// NewOccupancySweeper creates a sweeper but does not start it.
func NewOccupancySweeper(target Sweeper, cfg SweeperConfig, clk clock.Clock, logger *slog.Logger) *OccupancySweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OccupancySweeper{
		target:   target,
		maxDwell: cfg.MaxDwell,
		interval: interval,
		clk:      clk,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs one sweep right away, then repeats on the interval until
// ctx is cancelled or Stop is called.
func (s *OccupancySweeper) Start(ctx context.Context) {
	if s.maxDwell <= 0 {
		s.logger.Info("occupancy sweeper disabled (max dwell=0)")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.logger.Info("occupancy sweeper started", "max_dwell", s.maxDwell, "interval", s.interval)
}

// Stop signals the sweeper to exit and waits for it to finish. Safe to
// call more than once.
func (s *OccupancySweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

func (s *OccupancySweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *OccupancySweeper) sweep(ctx context.Context) {
	n, err := s.target.Sweep(ctx, s.maxDwell)
	if err != nil {
		s.logger.Error("occupancy sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("occupancy sweep closed stale entries", "closed", n)
	}
}
