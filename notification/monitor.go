package notification

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ contract.DeferredReadMonitor = (*Monitor)(nil)

const (
	decisionSkipped   = "skipped"
	decisionRead      = "read"
	decisionMissing   = "missing"
	decisionPublished = "published"
)

// Monitor decides, once a grace period elapsed, whether an unread message deserves
// an email alert. Each check is persisted before its timer is armed; whoever claims
// the check first (the timer or the sweeper) runs it, the other one skips it.
type Monitor struct {
	log       *slog.Logger
	messages  contract.MessageStore
	checks    contract.CheckStore
	publisher contract.Publisher
	grace     time.Duration
	now       func() time.Time

	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewMonitor(log *slog.Logger, messages contract.MessageStore, checks contract.CheckStore, publisher contract.Publisher, grace time.Duration) *Monitor {
	return &Monitor{
		log:       log,
		messages:  messages,
		checks:    checks,
		publisher: publisher,
		grace:     grace,
		now:       time.Now,
		timers:    make(map[uuid.UUID]*time.Timer),
	}
}

// OnMessageSent schedules exactly one check for the message. There is no explicit
// cancellation: reading the message before the check makes it a no-op.
func (m *Monitor) OnMessageSent(ctx context.Context, message domain.Message, contact *domain.ContactMetadata) {
	log := m.log.With("message_id", message.ID)
	if contact == nil {
		observability.DeferredChecks.WithLabelValues(decisionSkipped).Inc()
		log.Debug("No contact metadata, deferred notification skipped")
		return
	}

	check := domain.PendingCheck{
		MessageID: message.ID,
		Contact:   *contact,
		CheckAt:   message.CreatedAt.Add(m.grace).UTC(),
	}
	durable := true
	if err := m.checks.SavePendingCheck(ctx, check); err != nil {
		durable = false
		log.Warn("Pending check not persisted, it will not survive a restart", "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	// Detached: the check outlives the request that triggered it.
	detached := context.WithoutCancel(ctx)
	m.wg.Add(1)
	m.timers[message.ID] = time.AfterFunc(check.CheckAt.Sub(m.now()), func() {
		defer m.wg.Done()
		m.forget(message.ID)
		var err error
		if durable {
			_, err = m.Check(detached, check)
		} else {
			_, err = m.evaluate(detached, check)
		}
		if err != nil {
			log.Error("Deferred read check failed", "error", err)
		}
	})
}

// Check claims the pending check and runs it. It reports whether a notification was published.
func (m *Monitor) Check(ctx context.Context, check domain.PendingCheck) (bool, error) {
	claimed, err := m.checks.ClaimPendingCheck(ctx, check.MessageID)
	if err != nil {
		return false, err
	}
	if !claimed {
		m.log.Debug("Pending check already claimed", "message_id", check.MessageID)
		return false, nil
	}
	published, err := m.evaluate(ctx, check)
	if err != nil {
		// Put the claimed check back: it is already due, the next sweep retries it.
		if saveErr := m.checks.SavePendingCheck(ctx, check); saveErr != nil {
			m.log.Error("Failed check could not be restored", "message_id", check.MessageID, "error", saveErr)
		}
	}
	return published, err
}

// SweepDue runs every persisted check whose time has come, typically left behind by a restart.
func (m *Monitor) SweepDue(ctx context.Context) (int, error) {
	due, err := m.checks.DuePendingChecks(ctx, m.now())
	if err != nil {
		return 0, err
	}
	published := 0
	for _, check := range due {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		ok, err := m.Check(ctx, check)
		if err != nil {
			m.log.Error("Swept check failed", "message_id", check.MessageID, "error", err)
			continue
		}
		if ok {
			published++
		}
	}
	return published, nil
}

func (m *Monitor) evaluate(ctx context.Context, check domain.PendingCheck) (bool, error) {
	log := m.log.With("message_id", check.MessageID)
	message, err := m.messages.FindMessage(ctx, check.MessageID)
	if stderrors.Is(err, errors.ErrNotFound) {
		observability.DeferredChecks.WithLabelValues(decisionMissing).Inc()
		log.Warn("Message vanished before its deferred check")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if message.IsRead() {
		observability.DeferredChecks.WithLabelValues(decisionRead).Inc()
		log.Debug("Message read within grace period")
		return false, nil
	}

	notification := event.NewUnreadMessageNotification(message, check.Contact, m.now())
	if err := m.publisher.Publish(ctx, notification); err != nil {
		return false, err
	}
	observability.DeferredChecks.WithLabelValues(decisionPublished).Inc()
	log.Info("Unread message notification published", "recipient", check.Contact.RecipientEmail)
	return true, nil
}

func (m *Monitor) forget(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, id)
}

// Pending returns the number of armed timers.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop disarms every timer. Persisted checks stay in the store for the next sweep.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for id, timer := range m.timers {
		if timer.Stop() {
			m.wg.Done()
		}
		delete(m.timers, id)
	}
}

// Wait blocks until every fired check completed.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
