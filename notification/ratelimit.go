package notification

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"log/slog"
	"sync"
	"time"
)

var _ contract.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is the process-wide rolling send quota.
// Check-then-increment happens under one mutex, so concurrent dispatches never push
// the count past the cap. When a WindowStore is given, every change is written through
// so a restart resumes the current window instead of refilling the quota.
type RateLimiter struct {
	mu     sync.Mutex
	log    *slog.Logger
	store  contract.WindowStore
	limit  int
	window time.Duration
	now    func() time.Time
	state  domain.RateLimitWindow
}

func NewRateLimiter(ctx context.Context, log *slog.Logger, store contract.WindowStore, limit int, window time.Duration) (*RateLimiter, error) {
	r := &RateLimiter{
		log:    log,
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	if store == nil {
		return r, nil
	}
	state, found, err := store.LoadWindow(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		state.Count = min(state.Count, limit)
		r.state = state
		log.Info("Rate limit window restored", "count", state.Count, "reset_at", state.ResetAt)
	}
	return r, nil
}

// WithClock replaces the time source, used by tests to move across windows.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

// CheckAndConsume lazily opens a new window when the current one elapsed, then
// reserves one send if the cap is not reached yet.
func (r *RateLimiter) CheckAndConsume(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetIfElapsed()
	if r.state.Count >= r.limit {
		return false, nil
	}
	r.state.Count++
	r.persist(ctx)
	return true, nil
}

// Consume records a successful send that was not reserved through CheckAndConsume.
func (r *RateLimiter) Consume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetIfElapsed()
	if r.state.Count < r.limit {
		r.state.Count++
	}
	r.persist(ctx)
	return nil
}

// Release gives back a reservation whose send failed for another reason than quota.
func (r *RateLimiter) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Count > 0 {
		r.state.Count--
	}
	r.persist(ctx)
	return nil
}

// Exhaust forces the window to its cap. Called when the provider itself reports the
// quota exceeded, so that later attempts fail fast without reaching the provider.
func (r *RateLimiter) Exhaust(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetIfElapsed()
	r.state.Count = r.limit
	r.persist(ctx)
	r.log.Warn("Rate limit forced to cap", "cap", r.limit, "reset_at", r.state.ResetAt)
	return nil
}

func (r *RateLimiter) Status(_ context.Context) (domain.RateLimitStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetIfElapsed()
	return domain.RateLimitStatus{
		Count:     r.state.Count,
		Cap:       r.limit,
		ResetAt:   r.state.ResetAt,
		Remaining: r.limit - r.state.Count,
	}, nil
}

func (r *RateLimiter) resetIfElapsed() {
	now := r.now()
	if now.After(r.state.ResetAt) {
		r.state = domain.RateLimitWindow{Count: 0, ResetAt: now.Add(r.window).UTC()}
	}
}

func (r *RateLimiter) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveWindow(ctx, r.state); err != nil {
		r.log.Warn("Failed to persist rate limit window", "error", err)
	}
}
