package sweep

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/robfig/cron"

	"github.com/hrygo/rentflow/internal/timeout"
	"github.com/hrygo/rentflow/server/service/contract"
)

// Sweeper is implemented by *contract.Scheduler.
type Sweeper interface {
	Sweep(ctx context.Context) (contract.SweepResult, error)
}

// Runner sweeps recurring contracts on a cron schedule.
type Runner struct {
	sweeper Sweeper
	spec    string
	running atomic.Bool
}

// NewRunner validates spec, e.g. "@every 5m" or "0 0 * * * *".
func NewRunner(sweeper Sweeper, spec string) (*Runner, error) {
	if _, err := cron.Parse(spec); err != nil {
		return nil, errors.Wrapf(err, "invalid sweep schedule %q", spec)
	}
	return &Runner{
		sweeper: sweeper,
		spec:    spec,
	}, nil
}

// Run sweeps once on startup, then on every tick of the schedule until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx)

	c := cron.New()
	if err := c.AddFunc(r.spec, func() { r.RunOnce(ctx) }); err != nil {
		slog.Error("failed to schedule contract sweep", "spec", r.spec, "error", err)
		return
	}
	c.Start()
	<-ctx.Done()
	c.Stop()
	slog.Info("contract sweep runner stopped")
}

// RunOnce performs a single sweep. It is skipped when the previous one is still running.
func (r *Runner) RunOnce(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		slog.Warn("previous contract sweep still running, skipping")
		return
	}
	defer r.running.Store(false)

	if ctx.Err() != nil {
		return
	}
	sweepCtx, cancel := context.WithTimeout(ctx, timeout.SweepTimeout)
	defer cancel()

	if _, err := r.sweeper.Sweep(sweepCtx); err != nil {
		slog.Error("contract sweep failed", "error", err)
	}
}
