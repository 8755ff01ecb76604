package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrNotFound             = fmt.Errorf("not found")
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrRecordNotFound       = fmt.Errorf("notification record %w", ErrNotFound)

	ErrForbidden        = fmt.Errorf("forbidden")
	ErrNotRecipient     = fmt.Errorf("%w: requester is not the recipient", ErrForbidden)
	ErrNotParticipant   = fmt.Errorf("%w: requester is not a participant", ErrForbidden)
	ErrNotJoined        = fmt.Errorf("%w: connection has not joined", ErrForbidden)
	ErrIdentityMismatch = fmt.Errorf("%w: user does not match the connection identity", ErrForbidden)

	ErrValidation   = fmt.Errorf("validation error")
	ErrUnknownEvent = fmt.Errorf("%w: unknown event", ErrValidation)

	// ErrTransient marks infrastructure failures worth retrying (connection, timeout).
	ErrTransient         = fmt.Errorf("transient infrastructure error")
	ErrBrokerUnavailable = fmt.Errorf("%w: broker unavailable", ErrTransient)

	// ErrPermanentProvider marks provider rejections that must never be retried.
	ErrPermanentProvider = fmt.Errorf("permanent provider error")
	ErrQuotaExceeded     = fmt.Errorf("%w: daily quota exceeded", ErrPermanentProvider)
	ErrProviderAuth      = fmt.Errorf("%w: authentication failed", ErrPermanentProvider)
	ErrRateLimited       = fmt.Errorf("%w: local send quota exhausted", ErrPermanentProvider)

	ErrInternal = fmt.Errorf("internal error")

	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrConnectionSlow   = fmt.Errorf("connection outgoing buffer full")
	ErrInvalidToken     = fmt.Errorf("invalid token")
)
