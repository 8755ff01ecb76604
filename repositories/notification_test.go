package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_Notification_Record_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewNotificationRepository(openDB(t), slog.Default())
	at := time.Now().UTC()

	sent := domain.NewNotificationRecord(uuid.New(), "message-or-review", "bob@example.com", "New message", "<p>hi</p>", at)
	failed := domain.NewNotificationRecord(uuid.New(), "message-or-review", "carol@example.com", "New message", "<p>hi</p>", at.Add(time.Second))
	_, err := repository.SaveNotificationRecord(ctx, sent)
	req.NoError(err)
	_, err = repository.SaveNotificationRecord(ctx, failed)
	req.NoError(err)

	// Given both records are pending
	pending, err := repository.PendingNotifications(ctx)
	req.NoError(err)
	req.Len(pending, 2)

	// When one is sent and the other fails
	req.NoError(repository.UpdateNotificationSentAt(ctx, sent.ID, at.Add(time.Minute)))
	req.NoError(repository.MarkNotificationFailed(ctx, failed.ID, "smtp timeout"))

	// Then only the failed one is still owed
	pending, err = repository.PendingNotifications(ctx)
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal(failed.ID, pending[0].ID)
	req.Equal(domain.NotificationFailed, pending[0].State)
	req.Equal("smtp timeout", pending[0].LastError)

	stored, err := repository.FindNotificationRecord(ctx, sent.ID)
	req.NoError(err)
	req.Equal(domain.NotificationSent, stored.State)
	req.NotNil(stored.SentAt)
}

func Test_Update_Unknown_Notification_Record(t *testing.T) {
	req := require.New(t)
	repository := NewNotificationRepository(openDB(t), slog.Default())

	err := repository.UpdateNotificationSentAt(context.Background(), uuid.New(), time.Now())

	req.ErrorIs(err, errors.ErrRecordNotFound)
}

func Test_Save_Notification_Record_Keeps_The_First_One(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewNotificationRepository(openDB(t), slog.Default())
	id := uuid.New()
	at := time.Now().UTC()
	first := domain.NewNotificationRecord(id, "message-or-review", "bob@example.com", "New message", "<p>hi</p>", at)
	_, err := repository.SaveNotificationRecord(ctx, first)
	req.NoError(err)
	req.NoError(repository.UpdateNotificationSentAt(ctx, id, at.Add(time.Minute)))

	// When the same notification is saved again
	stored, err := repository.SaveNotificationRecord(ctx, domain.NewNotificationRecord(id, "message-or-review", "bob@example.com", "New message", "<p>hi</p>", at.Add(time.Hour)))

	// Then the sent record is returned untouched
	req.NoError(err)
	req.Equal(domain.NotificationSent, stored.State)
	req.NotNil(stored.SentAt)
	req.True(at.Equal(stored.CreatedAt))
	all, err := repository.AllNotifications()
	req.NoError(err)
	req.Len(all, 1)
}
