package workers

import (
	"context"
	"log/slog"
	"time"
)

type Sweeper interface {
	SweepDue(ctx context.Context) (int, error)
}

// DeferredSweepWorker runs the deferred-read checks whose timer was lost,
// once at startup and then at every interval.
type DeferredSweepWorker struct {
	log      *slog.Logger
	sweeper  Sweeper
	interval time.Duration
}

func NewDeferredSweepWorker(log *slog.Logger, sweeper Sweeper, interval time.Duration) *DeferredSweepWorker {
	return &DeferredSweepWorker{log: log, sweeper: sweeper, interval: interval}
}

func (w *DeferredSweepWorker) Run(ctx context.Context) error {
	w.log.Info("Starting deferred check sweeper", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeferredSweepWorker) sweep(ctx context.Context) {
	published, err := w.sweeper.SweepDue(ctx)
	if err != nil {
		w.log.Error("Deferred check sweep failed", "error", err)
		return
	}
	if published > 0 {
		w.log.Info("Deferred checks swept", "published", published)
	}
}
