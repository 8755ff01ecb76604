// Package domain contains core concepts of the relay.
// This file defines Message snapshots and the read transition rule.
// Messages are owned by the store; the core only handles copies.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a direct message between the two participants of a conversation.
// ReceivedAt is nil while the message is unread.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	Content        string     `json:"content"`
	FromID         string     `json:"fromId"`
	ToID           string     `json:"toId"`
	ConversationID string     `json:"conversationId"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReceivedAt     *time.Time `json:"receivedAt"`
}

func NewMessage(content, fromID, toID, conversationID string, at time.Time) Message {
	return Message{
		ID:             uuid.New(),
		Content:        content,
		FromID:         fromID,
		ToID:           toID,
		ConversationID: conversationID,
		CreatedAt:      at.UTC(),
	}
}

func (m Message) IsRead() bool {
	return m.ReceivedAt != nil
}

// MarkReceived returns a copy of the message marked as read at the given time.
// ReceivedAt only moves from nil to a value: an already read message is returned
// unchanged and the boolean reports false.
func (m Message) MarkReceived(at time.Time) (Message, bool) {
	if m.IsRead() {
		return m, false
	}
	receivedAt := at.UTC()
	m.ReceivedAt = &receivedAt
	return m, true
}

// ContactMetadata is supplied by the sender with a message so that the recipient
// can be alerted by email if the message stays unread.
type ContactMetadata struct {
	SenderName     string `json:"senderName" validate:"required,max=120"`
	SenderEmail    string `json:"senderEmail" validate:"required,email"`
	RecipientName  string `json:"recipientName" validate:"required,max=120"`
	RecipientEmail string `json:"recipientEmail" validate:"required,email"`
}
