package workers

import (
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSampler_Exports_Values(t *testing.T) {
	req := require.New(t)
	var pending atomic.Int64
	pending.Store(3)
	worker := NewSamplerWorker(slog.Default(), []Sample{
		{Name: "test_pending", Read: func(context.Context) (float64, error) { return float64(pending.Load()), nil }},
		{Name: "test_broken", Read: func(context.Context) (float64, error) { return 0, fmt.Errorf("unavailable") }},
	}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// Given a first sample
	req.Eventually(func() bool {
		return testutil.ToFloat64(observability.Sampled.WithLabelValues("test_pending")) == 3
	}, time.Second, 5*time.Millisecond)

	// When the value changes, the next tick picks it up
	pending.Store(7)
	req.Eventually(func() bool {
		return testutil.ToFloat64(observability.Sampled.WithLabelValues("test_pending")) == 7
	}, time.Second, 5*time.Millisecond)

	cancel()
	req.NoError(<-done)
}
