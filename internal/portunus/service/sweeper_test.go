package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PRsofteng/start-control-access/internal/clock"
	"github.com/PRsofteng/start-control-access/internal/logging"
	"github.com/PRsofteng/start-control-access/internal/portunus/service"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

type countingSweeper struct {
	calls chan time.Duration
	err   error
}

func (c *countingSweeper) Sweep(_ context.Context, maxDwell time.Duration) (int, error) {
	c.calls <- maxDwell
	return 0, c.err
}

func TestOccupancySweeper_DisabledWhenMaxDwellZero(t *testing.T) {
	target := &countingSweeper{calls: make(chan time.Duration, 1)}
	s := service.NewOccupancySweeper(target, service.SweeperConfig{}, clock.Fake(epoch), logging.Discard())

	s.Start(context.Background())
	s.Stop()
	assert.Empty(t, target.calls)
}

func TestOccupancySweeper_RunsOnStartAndEachInterval(t *testing.T) {
	clk := clock.Fake(epoch)
	target := &countingSweeper{calls: make(chan time.Duration, 4)}
	s := service.NewOccupancySweeper(target, service.SweeperConfig{
		MaxDwell: 12 * time.Hour,
		Interval: time.Minute,
	}, clk, logging.Discard())

	s.Start(context.Background())
	defer s.Stop()

	assert.Equal(t, 12*time.Hour, <-target.calls)

	clk.WaitForTimers(1)
	clk.Advance(time.Minute)
	assert.Equal(t, 12*time.Hour, <-target.calls)
}

func TestOccupancySweeper_ErrorsDoNotStopLoop(t *testing.T) {
	clk := clock.Fake(epoch)
	target := &countingSweeper{calls: make(chan time.Duration, 4), err: errors.New("db gone")}
	s := service.NewOccupancySweeper(target, service.SweeperConfig{MaxDwell: time.Hour, Interval: time.Minute}, clk, logging.Discard())

	s.Start(context.Background())
	<-target.calls
	clk.WaitForTimers(1)
	clk.Advance(time.Minute)
	<-target.calls

	s.Stop()
	s.Stop()
}

func TestOccupancySweeper_DrivesCoordinator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.PresentTag(ctx, types.AccessRequest{TagUID: uidJoao})
	require.NoError(t, err)
	f.clk.Advance(13 * time.Hour)

	s := service.NewOccupancySweeper(f.coord, service.SweeperConfig{MaxDwell: 12 * time.Hour}, f.clk, logging.Discard())
	s.Start(ctx)
	f.clk.WaitForTimers(1) // ticker armed after the first sweep
	s.Stop()

	assert.Zero(t, f.coord.CurrentCount())
}
