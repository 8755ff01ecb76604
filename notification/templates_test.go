package notification

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Every_Type_Has_A_Template(t *testing.T) {
	req := require.New(t)
	for _, kind := range event.Types() {
		rendered, err := Render(event.Notification{
			Type: kind,
			Data: event.NotificationData{
				Addresses: event.Addresses{Recipient: "bob@example.com"},
				Names:     event.Names{Recipient: "Bob"},
			},
		})
		req.NoError(err, kind)
		req.Equal("bob@example.com", rendered.To)
		req.NotEmpty(rendered.Subject)
		req.Contains(rendered.HTML, "Hello Bob")
	}
}

func Test_Render_Unread_Message(t *testing.T) {
	req := require.New(t)
	message := domain.NewMessage("<b>see you</b>", "alice", "bob", "c1", time.Now())
	n := event.NewUnreadMessageNotification(message, *contact(), time.Now())

	rendered, err := Render(n)

	req.NoError(err)
	req.Equal("New message from Alice", rendered.Subject)
	// Message content is escaped
	req.Contains(rendered.HTML, "&lt;b&gt;see you&lt;/b&gt;")
	req.NotContains(rendered.HTML, "<b>see you</b>")
}

func Test_Render_Other_Uses_Metadata(t *testing.T) {
	req := require.New(t)

	rendered, err := Render(event.Notification{
		Type: event.Other,
		Data: event.NotificationData{
			Addresses: event.Addresses{Recipient: "bob@example.com"},
			Metadata:  map[string]string{"subject": "Account update", "body": "Your password changed"},
		},
	})

	req.NoError(err)
	req.Equal("Account update", rendered.Subject)
	req.Contains(rendered.HTML, "Your password changed")
}

func Test_Render_Without_Recipient(t *testing.T) {
	req := require.New(t)

	_, err := Render(event.Notification{Type: event.BookingReminder})

	req.ErrorIs(err, errors.ErrValidation)
}
