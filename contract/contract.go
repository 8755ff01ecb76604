//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is the handle of a live realtime connection.
// Send must not block: a slow or closed peer yields an error instead.
type Connection interface {
	ID() string
	Send(frame event.Frame) error
}

// Authenticated is implemented by connections whose identity was proven during the handshake.
type Authenticated interface {
	Subject() string
}

type MessageStore interface {
	FindMessage(ctx context.Context, id uuid.UUID) (domain.Message, error)
	SaveMessage(ctx context.Context, message domain.Message) error
	// MarkMessageReceived sets ReceivedAt if still unset and reports whether this call did it.
	MarkMessageReceived(ctx context.Context, id uuid.UUID, at time.Time) (domain.Message, bool, error)
	UnreadMessages(ctx context.Context, conversationID, recipientID string) ([]domain.Message, error)
	Messages(ctx context.Context, conversationID string, cursor *string, limit int) ([]domain.Message, *string, error)
	FindConversation(ctx context.Context, id string) (domain.Conversation, error)
	SaveConversation(ctx context.Context, conversation domain.Conversation) error
}

type NotificationStore interface {
	// SaveNotificationRecord stores the record unless one with the same id exists,
	// and returns the stored one.
	SaveNotificationRecord(ctx context.Context, record domain.NotificationRecord) (domain.NotificationRecord, error)
	UpdateNotificationSentAt(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, reason string) error
	PendingNotifications(ctx context.Context) ([]domain.NotificationRecord, error)
}

type CheckStore interface {
	SavePendingCheck(ctx context.Context, check domain.PendingCheck) error
	// ClaimPendingCheck removes the check and reports whether the caller owns it.
	ClaimPendingCheck(ctx context.Context, messageID uuid.UUID) (bool, error)
	DuePendingChecks(ctx context.Context, now time.Time) ([]domain.PendingCheck, error)
}

type WindowStore interface {
	LoadWindow(ctx context.Context) (domain.RateLimitWindow, bool, error)
	SaveWindow(ctx context.Context, window domain.RateLimitWindow) error
}

// Mailer delivers one html email. Errors are classified with the errors package taxonomy.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

type Publisher interface {
	Publish(ctx context.Context, notification event.Notification) error
}

type DeferredReadMonitor interface {
	OnMessageSent(ctx context.Context, message domain.Message, contact *domain.ContactMetadata)
}

// RateLimiter tracks the daily send quota of the mail provider.
// CheckAndConsume reserves one unit when allowed; Release gives back a reservation
// whose send did not succeed.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context) (bool, error)
	Consume(ctx context.Context) error
	Release(ctx context.Context) error
	Exhaust(ctx context.Context) error
	Status(ctx context.Context) (domain.RateLimitStatus, error)
}
