package event

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestType_RoutingKeys_Are_Distinct(t *testing.T) {
	req := require.New(t)
	seen := map[string]Type{}
	for _, kind := range Types() {
		key := kind.RoutingKey()
		req.NotEmpty(key)
		_, duplicate := seen[key]
		req.False(duplicate, "routing key %s reused", key)
		seen[key] = kind
	}
	req.Len(RoutingKeys(), len(Types()))
}

func TestUnmarshalNotification(t *testing.T) {
	req := require.New(t)

	n, err := UnmarshalNotification([]byte(`{"type":"booking-reminder","data":{"addresses":{"recipient":"bob@example.com"},"names":{}},"timestamp":"2026-03-01T10:00:00Z"}`))
	req.NoError(err)
	req.Equal(BookingReminder, n.Type)
	req.Equal("bob@example.com", n.Data.Addresses.Recipient)

	_, err = UnmarshalNotification([]byte(`{"type":"unknown","data":{}}`))
	req.ErrorIs(err, errors.ErrValidation)

	_, err = UnmarshalNotification([]byte(`not json`))
	req.ErrorIs(err, errors.ErrValidation)
}

func TestNewUnreadMessageNotification(t *testing.T) {
	req := require.New(t)
	message := domain.NewMessage("hello", "alice", "bob", "c1", time.Now())
	contact := domain.ContactMetadata{SenderName: "Alice", SenderEmail: "alice@example.com", RecipientName: "Bob", RecipientEmail: "bob@example.com"}

	n := NewUnreadMessageNotification(message, contact, time.Now())

	req.Equal(MessageOrReview, n.Type)
	req.Equal("c1", n.Data.ConversationID)
	req.Equal("bob@example.com", n.Data.Addresses.Recipient)
	req.Equal(message.ID.String(), n.Data.Message.ID)
}

func TestNotification_Identity_Is_Stable(t *testing.T) {
	req := require.New(t)
	message := domain.NewMessage("hello", "alice", "bob", "c1", time.Now())
	contact := domain.ContactMetadata{RecipientEmail: "bob@example.com"}

	// The same message always yields the same notification id
	first := NewUnreadMessageNotification(message, contact, time.Now())
	second := NewUnreadMessageNotification(message, contact, time.Now().Add(time.Hour))
	req.NotEqual(uuid.Nil, first.ID)
	req.Equal(first.ID, second.ID)

	// A body without id gets one derived from its bytes
	body := []byte(`{"type":"other","data":{"addresses":{"recipient":"bob@example.com"},"names":{}},"timestamp":"2026-03-01T10:00:00Z"}`)
	a, err := UnmarshalNotification(body)
	req.NoError(err)
	b, err := UnmarshalNotification(body)
	req.NoError(err)
	req.NotEqual(uuid.Nil, a.ID)
	req.Equal(a.ID, b.ID)

	// An explicit id survives a round trip
	raw, err := first.Marshal()
	req.NoError(err)
	decoded, err := UnmarshalNotification(raw)
	req.NoError(err)
	req.Equal(first.ID, decoded.ID)
}
