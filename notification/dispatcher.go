package notification

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type DispatchResult struct {
	RecordID uuid.UUID
	Sent     bool
}

// Dispatcher persists a record before every delivery attempt, so a failed or
// interrupted send always leaves a trace to retry from.
type Dispatcher struct {
	log     *slog.Logger
	store   contract.NotificationStore
	mailer  contract.Mailer
	limiter contract.RateLimiter
	now     func() time.Time
}

func NewDispatcher(log *slog.Logger, store contract.NotificationStore, mailer contract.Mailer, limiter contract.RateLimiter) *Dispatcher {
	return &Dispatcher{log: log, store: store, mailer: mailer, limiter: limiter, now: time.Now}
}

// Dispatch delivers one notification. id identifies the notification across
// redeliveries: a record already sent is not sent again.
func (d *Dispatcher) Dispatch(ctx context.Context, id uuid.UUID, kind string, rendered Rendered) (DispatchResult, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	record, err := d.store.SaveNotificationRecord(ctx, domain.NewNotificationRecord(id, kind, rendered.To, rendered.Subject, rendered.HTML, d.now()))
	if err != nil {
		observability.NotificationsDispatched.WithLabelValues(observability.Failed).Inc()
		return DispatchResult{}, fmt.Errorf("%w: persist notification record: %v", errors.ErrTransient, err)
	}
	result := DispatchResult{RecordID: record.ID}
	log := d.log.With("record_id", record.ID, "type", kind)
	if record.SentAt != nil {
		log.Info("Notification already sent, skipping")
		result.Sent = true
		return result, nil
	}

	allowed, err := d.limiter.CheckAndConsume(ctx)
	if err != nil {
		d.fail(ctx, log, record.ID, err)
		return result, err
	}
	if !allowed {
		d.fail(ctx, log, record.ID, errors.ErrRateLimited)
		return result, errors.ErrRateLimited
	}

	if err := d.mailer.Send(ctx, rendered.To, rendered.Subject, rendered.HTML); err != nil {
		if releaseErr := d.limiter.Release(ctx); releaseErr != nil {
			log.Warn("Failed to release rate limit reservation", "error", releaseErr)
		}
		if stderrors.Is(err, errors.ErrQuotaExceeded) {
			if exhaustErr := d.limiter.Exhaust(ctx); exhaustErr != nil {
				log.Warn("Failed to exhaust rate limit", "error", exhaustErr)
			}
		}
		d.fail(ctx, log, record.ID, err)
		return result, err
	}

	if err := d.store.UpdateNotificationSentAt(ctx, record.ID, d.now()); err != nil {
		// The mail is gone: reporting failure would have it sent twice.
		log.Error("Notification sent but record not updated", "error", err)
	}
	observability.NotificationsDispatched.WithLabelValues(observability.Published).Inc()
	log.Info("Notification sent", "to", rendered.To)
	result.Sent = true
	return result, nil
}

func (d *Dispatcher) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, cause error) {
	observability.NotificationsDispatched.WithLabelValues(observability.Failed).Inc()
	log.Warn("Notification not sent", "error", cause)
	if err := d.store.MarkNotificationFailed(ctx, id, cause.Error()); err != nil {
		log.Error("Failed to mark notification record", "error", err)
	}
}
