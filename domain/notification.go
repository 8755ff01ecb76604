package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationState string

const (
	NotificationPending NotificationState = "pending"
	NotificationSent    NotificationState = "sent"
	NotificationFailed  NotificationState = "failed"
)

// NotificationRecord is persisted before any delivery attempt.
// A record with a nil SentAt is still owed to its recipient.
type NotificationRecord struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	HTML      string            `json:"html"`
	State     NotificationState `json:"state"`
	CreatedAt time.Time         `json:"createdAt"`
	SentAt    *time.Time        `json:"sentAt"`
	LastError string            `json:"lastError,omitempty"`
}

// NewNotificationRecord keys the record by the notification id, so every delivery
// attempt of one notification lands on the same record.
func NewNotificationRecord(id uuid.UUID, kind, to, subject, html string, at time.Time) NotificationRecord {
	return NotificationRecord{
		ID:        id,
		Type:      kind,
		To:        to,
		Subject:   subject,
		HTML:      html,
		State:     NotificationPending,
		CreatedAt: at.UTC(),
	}
}

// PendingCheck is the durable trace of a scheduled deferred-read check.
type PendingCheck struct {
	MessageID uuid.UUID       `json:"messageId"`
	Contact   ContactMetadata `json:"contact"`
	CheckAt   time.Time       `json:"checkAt"`
}

func (p PendingCheck) IsDue(now time.Time) bool {
	return !p.CheckAt.After(now)
}

// RateLimitWindow counts successful sends within the current window.
type RateLimitWindow struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

type RateLimitStatus struct {
	Count     int       `json:"count"`
	Cap       int       `json:"cap"`
	ResetAt   time.Time `json:"resetAt"`
	Remaining int       `json:"remaining"`
}
