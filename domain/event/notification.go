package event

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/google/uuid"
)

// notificationNamespace seeds the name-based ids of notifications.
var notificationNamespace = uuid.MustParse("6f1c2a4e-3b8d-5e7f-9a0b-1c2d3e4f5a6b")

// Type tags a notification. The set is closed: each type owns one routing key.
type Type string

const (
	BookingConfirmation Type = "booking-confirmation"
	BookingReminder     Type = "booking-reminder"
	BookingModification Type = "booking-modification"
	MessageOrReview     Type = "message-or-review"
	Other               Type = "other"
)

var routingKeys = map[Type]string{
	BookingConfirmation: "booking.confirmation",
	BookingReminder:     "booking.reminder",
	BookingModification: "booking.modification",
	MessageOrReview:     "message.review",
	Other:               "notification.other",
}

// Types lists every notification type in routing order.
func Types() []Type {
	return []Type{BookingConfirmation, BookingReminder, BookingModification, MessageOrReview, Other}
}

// RoutingKeys returns the fixed binding set of the work queue.
func RoutingKeys() []string {
	keys := make([]string, 0, len(routingKeys))
	for _, t := range Types() {
		keys = append(keys, routingKeys[t])
	}
	return keys
}

func (t Type) Valid() bool {
	_, ok := routingKeys[t]
	return ok
}

func (t Type) RoutingKey() string {
	if key, ok := routingKeys[t]; ok {
		return key
	}
	return routingKeys[Other]
}

func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed := Type(s)
	if !parsed.Valid() {
		return fmt.Errorf("%w: unknown notification type %q", errors.ErrValidation, s)
	}
	*t = parsed
	return nil
}

type Addresses struct {
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient"`
}

type Names struct {
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

type Dates struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

type MessageSummary struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type ReviewData struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type NotificationData struct {
	ConversationID string            `json:"conversationId,omitempty"`
	Addresses      Addresses         `json:"addresses"`
	Names          Names             `json:"names"`
	Dates          *Dates            `json:"dates,omitempty"`
	ServiceFee     *float64          `json:"serviceFee,omitempty"`
	Message        *MessageSummary   `json:"message,omitempty"`
	ReviewData     *ReviewData       `json:"reviewData,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Notification is immutable once published. ID stays the same across redeliveries
// and retries, so the ledger keeps one record per notification.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Type      Type             `json:"type"`
	Data      NotificationData `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewUnreadMessageNotification builds the event published when a message is still
// unread once the grace period elapsed.
func NewUnreadMessageNotification(m domain.Message, contact domain.ContactMetadata, at time.Time) Notification {
	return Notification{
		ID:   uuid.NewSHA1(notificationNamespace, []byte("unread-message:"+m.ID.String())),
		Type: MessageOrReview,
		Data: NotificationData{
			ConversationID: m.ConversationID,
			Addresses:      Addresses{Sender: contact.SenderEmail, Recipient: contact.RecipientEmail},
			Names:          Names{Sender: contact.SenderName, Recipient: contact.RecipientName},
			Message: &MessageSummary{
				ID:        m.ID.String(),
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			},
		},
		Timestamp: at.UTC(),
	}
}

func (n Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

func UnmarshalNotification(b []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	// Producers outside the relay may omit the id: the body itself is stable.
	if n.ID == uuid.Nil {
		n.ID = uuid.NewSHA1(notificationNamespace, b)
	}
	return n, nil
}
