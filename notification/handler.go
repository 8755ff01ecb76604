package notification

import (
	"chat-relay/domain/event"
	"context"
	"log/slog"
)

// Handler turns a queued notification into an email.
// Returned errors keep their classification so the consumer can decide between
// ack, requeue and retry.
type Handler struct {
	log        *slog.Logger
	dispatcher *Dispatcher
}

func NewHandler(log *slog.Logger, dispatcher *Dispatcher) *Handler {
	return &Handler{log: log, dispatcher: dispatcher}
}

func (h *Handler) Handle(ctx context.Context, n event.Notification) error {
	rendered, err := Render(n)
	if err != nil {
		return err
	}
	result, err := h.dispatcher.Dispatch(ctx, n.ID, string(n.Type), rendered)
	if err != nil {
		return err
	}
	h.log.Debug("Notification handled", "type", n.Type, "record_id", result.RecordID)
	return nil
}
