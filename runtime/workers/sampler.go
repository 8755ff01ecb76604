package workers

import (
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// Sample reads one value worth exporting as a gauge.
type Sample struct {
	Name string
	Read func(ctx context.Context) (float64, error)
}

// SamplerWorker periodically copies each sample into the sampled gauge.
// Reads are expected to be cheap and non-blocking; a failed read keeps the
// previous value.
type SamplerWorker struct {
	log      *slog.Logger
	samples  []Sample
	interval time.Duration
}

func NewSamplerWorker(log *slog.Logger, samples []Sample, interval time.Duration) *SamplerWorker {
	return &SamplerWorker{log: log, samples: samples, interval: interval}
}

func (w *SamplerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping sampler")
			return nil
		case <-ticker.C:
			w.sample(ctx)
		}
	}
}

func (w *SamplerWorker) sample(ctx context.Context) {
	for _, s := range w.samples {
		value, err := s.Read(ctx)
		if err != nil {
			w.log.Debug("Sample read failed", "name", s.Name, "error", err)
			continue
		}
		observability.Sampled.WithLabelValues(s.Name).Set(value)
	}
}
