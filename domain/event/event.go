// Package event defines the frames exchanged over the realtime transport
// and the notification events published onto the queue.
package event

import (
	"encoding/json"
	"time"

	"chat-relay/domain"

	"github.com/google/uuid"
)

// Inbound event names.
const (
	Join                 = "join"
	ConversationEnter    = "conversation:enter"
	ConversationLeave    = "conversation:leave"
	MessageSend          = "message:send"
	MessageMarkRead      = "message:mark-read"
	ConversationMarkRead = "conversation:mark-read"
	UsersOnline          = "users:online"
	ConversationHistory  = "conversation:history"
)

// Outbound event names.
const (
	UserOnline          = "user:online"
	UserOffline         = "user:offline"
	MessageSent         = "message:sent"
	MessageReceived     = "message:received"
	MessageReadReceipt  = "message:read-receipt"
	MessageAutoRead     = "message:auto-read"
	MessageError        = "message:error"
	OnlineUsersSnapshot = UsersOnline
	HistoryPage         = ConversationHistory
)

// Frame is an outbound realtime event.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func NewFrame(name string, data any) Frame {
	return Frame{Event: name, Data: data}
}

// Inbound is a realtime event as received; Data is decoded once the event name is known.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinPayload struct {
	UserID string `json:"userId" validate:"required"`
}

type EnterPayload struct {
	UserID         string `json:"userId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
}

type LeavePayload struct {
	UserID string `json:"userId" validate:"required"`
}

type SendPayload struct {
	Content        string                  `json:"content"`
	FromID         string                  `json:"fromId"`
	ToID           string                  `json:"toId"`
	ConversationID string                  `json:"conversationId"`
	Contact        *domain.ContactMetadata `json:"contact,omitempty"`
}

type MarkReadPayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	UserID    string `json:"userId" validate:"required"`
}

type ConversationMarkReadPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId" validate:"required"`
}

type HistoryPayload struct {
	ConversationID string  `json:"conversationId" validate:"required"`
	UserID         string  `json:"userId" validate:"required"`
	Cursor         *string `json:"cursor,omitempty"`
	Limit          int     `json:"limit,omitempty" validate:"gte=0,lte=200"`
}

type UserStatus struct {
	UserID string `json:"userId"`
}

type OnlineUsers struct {
	UserIDs []string `json:"userIds"`
}

// ReadReceipt is sent to the author when the recipient read a message,
// and to the recipient as an auto-read notice.
type ReadReceipt struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

func NewReadReceipt(m domain.Message) ReadReceipt {
	r := ReadReceipt{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		ReaderID:       m.ToID,
	}
	if m.ReceivedAt != nil {
		r.ReceivedAt = *m.ReceivedAt
	}
	return r
}

type History struct {
	Messages []domain.Message `json:"messages"`
	Cursor   *string          `json:"cursor,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
