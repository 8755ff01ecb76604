package runtime

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const defaultMaxContentLength = 4000

// Coordinator drives the send / deliver / read protocol.
// A message is Created once stored, Delivered when pushed to a present recipient,
// and Read once its ReceivedAt is set. Absent recipients catch up through history.
type Coordinator struct {
	log              *slog.Logger
	store            contract.MessageStore
	monitor          contract.DeferredReadMonitor
	presence         *PresenceRegistry
	maxContentLength int
	now              func() time.Time
}

func NewCoordinator(log *slog.Logger, store contract.MessageStore, monitor contract.DeferredReadMonitor, maxContentLength int) *Coordinator {
	if maxContentLength <= 0 {
		maxContentLength = defaultMaxContentLength
	}
	return &Coordinator{
		log:              log,
		store:            store,
		monitor:          monitor,
		presence:         NewPresenceRegistry(log),
		maxContentLength: maxContentLength,
		now:              time.Now,
	}
}

func (c *Coordinator) Presence() *PresenceRegistry {
	return c.presence
}

// Join binds the user to the connection. When the transport authenticated the
// connection, the user must be the authenticated one.
func (c *Coordinator) Join(userID string, conn contract.Connection) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", errors.ErrValidation)
	}
	if authenticated, ok := conn.(contract.Authenticated); ok {
		if subject := authenticated.Subject(); subject != "" && subject != userID {
			return errors.ErrIdentityMismatch
		}
	}
	c.presence.Register(userID, conn)
	c.log.Info("User joined", "user_id", userID, "connection_id", conn.ID())
	return nil
}

func (c *Coordinator) EnterConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := c.participantConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	if !c.presence.Enter(userID, conversationID) {
		return errors.ErrNotJoined
	}
	c.log.Debug("Conversation entered", "user_id", userID, "conversation_id", conversationID)
	return nil
}

func (c *Coordinator) LeaveConversation(userID string) {
	c.presence.Leave(userID)
}

func (c *Coordinator) Disconnect(conn contract.Connection) {
	if userID, ok := c.presence.Unregister(conn); ok {
		c.log.Info("User left", "user_id", userID, "connection_id", conn.ID())
	}
}

func (c *Coordinator) OnlineUsers() []string {
	return c.presence.OnlineUsers()
}

// Send stores the message then delivers it. Delivery side effects are best effort:
// only validation, authorization and storage failures are returned.
func (c *Coordinator) Send(ctx context.Context, cmd domain.SendCommand) (domain.Message, error) {
	if err := c.validateSend(cmd); err != nil {
		return domain.Message{}, err
	}
	conversation, err := c.store.FindConversation(ctx, cmd.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if counterpart, ok := conversation.Counterpart(cmd.FromID); !ok || counterpart != cmd.ToID {
		return domain.Message{}, errors.ErrNotParticipant
	}

	message := domain.NewMessage(cmd.Content, cmd.FromID, cmd.ToID, cmd.ConversationID, c.now())
	if err := c.store.SaveMessage(ctx, message); err != nil {
		return domain.Message{}, fmt.Errorf("%w: save message: %v", errors.ErrInternal, err)
	}
	log := c.log.With("message_id", message.ID, "conversation_id", message.ConversationID)

	delivered := c.presence.Push(message.ToID, event.NewFrame(event.MessageReceived, message))
	c.presence.Push(message.FromID, event.NewFrame(event.MessageSent, message))
	log.Debug("Message sent", "delivered", delivered)

	if delivered && c.presence.IsViewing(message.ToID, message.ConversationID) {
		message = c.autoRead(ctx, log, message)
	}

	c.monitor.OnMessageSent(ctx, message, cmd.Contact)
	return message, nil
}

func (c *Coordinator) autoRead(ctx context.Context, log *slog.Logger, message domain.Message) domain.Message {
	read, transitioned, err := c.store.MarkMessageReceived(ctx, message.ID, c.now())
	if err != nil {
		log.Error("Auto-read failed", "error", err)
		return message
	}
	if !transitioned {
		return read
	}
	receipt := event.NewReadReceipt(read)
	c.presence.Push(read.FromID, event.NewFrame(event.MessageReadReceipt, receipt))
	c.presence.Push(read.ToID, event.NewFrame(event.MessageAutoRead, receipt))
	log.Debug("Message auto-read")
	return read
}

// MarkRead is idempotent: a read message keeps its first ReceivedAt and the
// receipt is emitted again.
func (c *Coordinator) MarkRead(ctx context.Context, messageID uuid.UUID, requesterID string) (domain.Message, error) {
	message, err := c.store.FindMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if message.ToID != requesterID {
		return domain.Message{}, errors.ErrNotRecipient
	}
	read, transitioned, err := c.store.MarkMessageReceived(ctx, messageID, c.now())
	if err != nil {
		return domain.Message{}, err
	}
	c.presence.Push(read.FromID, event.NewFrame(event.MessageReadReceipt, event.NewReadReceipt(read)))
	c.log.Debug("Message marked read", "message_id", messageID, "transitioned", transitioned)
	return read, nil
}

// MarkConversationRead marks every unread message addressed to the requester and
// returns those that changed.
func (c *Coordinator) MarkConversationRead(ctx context.Context, conversationID, requesterID string) ([]domain.Message, error) {
	conversation, err := c.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	sender, _ := conversation.Counterpart(requesterID)
	unread, err := c.store.UnreadMessages(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	at := c.now()
	var updated []domain.Message
	for _, message := range unread {
		read, transitioned, err := c.store.MarkMessageReceived(ctx, message.ID, at)
		if err != nil {
			return updated, err
		}
		if !transitioned {
			continue
		}
		updated = append(updated, read)
		c.presence.Push(sender, event.NewFrame(event.MessageReadReceipt, event.NewReadReceipt(read)))
	}
	c.log.Debug("Conversation marked read", "conversation_id", conversationID, "count", len(updated))
	return updated, nil
}

func (c *Coordinator) History(ctx context.Context, query domain.HistoryQuery) (event.History, error) {
	if err := auth.Validate(query); err != nil {
		return event.History{}, err
	}
	if _, err := c.participantConversation(ctx, query.ConversationID, query.RequesterID); err != nil {
		return event.History{}, err
	}
	messages, cursor, err := c.store.Messages(ctx, query.ConversationID, query.Cursor, query.Limit)
	if err != nil {
		return event.History{}, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return event.History{Messages: messages, Cursor: cursor}, nil
}

// Close disconnects every user.
func (c *Coordinator) Close() {
	for _, conn := range c.presence.Connections() {
		c.Disconnect(conn)
	}
}

// HandleEvent is the realtime boundary: any failure is answered with a
// message:error frame on the same connection, which stays open.
func (c *Coordinator) HandleEvent(ctx context.Context, conn contract.Connection, inbound event.Inbound) {
	err := c.handle(ctx, conn, inbound)
	if err == nil {
		return
	}
	c.log.Warn("Realtime event failed", "event", inbound.Event, "connection_id", conn.ID(), "error", err)
	if sendErr := conn.Send(event.NewFrame(event.MessageError, event.ErrorPayload{Error: publicError(err)})); sendErr != nil {
		c.log.Debug("Error frame not sent", "connection_id", conn.ID(), "error", sendErr)
	}
}

func (c *Coordinator) handle(ctx context.Context, conn contract.Connection, inbound event.Inbound) error {
	if inbound.Event == event.Join {
		var p event.JoinPayload
		if err := decode(inbound.Data, &p); err != nil {
			return err
		}
		return c.Join(p.UserID, conn)
	}

	owner, joined := c.presence.Owner(conn)
	if !joined {
		return errors.ErrNotJoined
	}

	switch inbound.Event {
	case event.ConversationEnter:
		var p event.EnterPayload
		if err := decodeAs(inbound.Data, &p, owner, func() string { return p.UserID }); err != nil {
			return err
		}
		return c.EnterConversation(ctx, owner, p.ConversationID)

	case event.ConversationLeave:
		var p event.LeavePayload
		if err := decodeAs(inbound.Data, &p, owner, func() string { return p.UserID }); err != nil {
			return err
		}
		c.LeaveConversation(owner)
		return nil

	case event.MessageSend:
		var p event.SendPayload
		if err := decodeAs(inbound.Data, &p, owner, func() string { return p.FromID }); err != nil {
			return err
		}
		_, err := c.Send(ctx, domain.SendCommand{
			Content:        p.Content,
			FromID:         owner,
			ToID:           p.ToID,
			ConversationID: p.ConversationID,
			Contact:        p.Contact,
		})
		return err

	case event.MessageMarkRead:
		var p event.MarkReadPayload
		if err := decodeAs(inbound.Data, &p, owner, func() string { return p.UserID }); err != nil {
			return err
		}
		id, err := uuid.Parse(p.MessageID)
		if err != nil {
			return fmt.Errorf("%w: message id: %v", errors.ErrValidation, err)
		}
		_, err = c.MarkRead(ctx, id, owner)
		return err

	case event.ConversationMarkRead:
		var p event.ConversationMarkReadPayload
		if err := decodeAs(inbound.Data, &p, owner, func() string { return p.UserID }); err != nil {
			return err
		}
		_, err := c.MarkConversationRead(ctx, p.ConversationID, owner)
		return err

	case event.UsersOnline:
		return conn.Send(event.NewFrame(event.OnlineUsersSnapshot, event.OnlineUsers{UserIDs: c.OnlineUsers()}))

	case event.ConversationHistory:
		var p event.HistoryPayload
		if err := decodeAs(inbound.Data, &p, owner, func() string { return p.UserID }); err != nil {
			return err
		}
		history, err := c.History(ctx, domain.HistoryQuery{
			ConversationID: p.ConversationID,
			RequesterID:    owner,
			Cursor:         p.Cursor,
			Limit:          p.Limit,
		})
		if err != nil {
			return err
		}
		return conn.Send(event.NewFrame(event.HistoryPage, history))

	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownEvent, inbound.Event)
	}
}

func (c *Coordinator) validateSend(cmd domain.SendCommand) error {
	if err := auth.Validate(cmd); err != nil {
		return err
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return fmt.Errorf("%w: blank content", errors.ErrValidation)
	}
	if utf8.RuneCountInString(cmd.Content) > c.maxContentLength {
		return fmt.Errorf("%w: content longer than %d characters", errors.ErrValidation, c.maxContentLength)
	}
	return nil
}

func (c *Coordinator) participantConversation(ctx context.Context, conversationID, userID string) (domain.Conversation, error) {
	conversation, err := c.store.FindConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conversation.HasParticipant(userID) {
		return domain.Conversation{}, errors.ErrNotParticipant
	}
	return conversation, nil
}

func decode(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errors.ErrValidation)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return auth.Validate(target)
}

// decodeAs decodes the payload and checks that the user it names is the connection owner.
func decodeAs(data json.RawMessage, target any, owner string, claimed func() string) error {
	if err := decode(data, target); err != nil {
		return err
	}
	if claimed() != owner {
		return errors.ErrIdentityMismatch
	}
	return nil
}

// publicError keeps the taxonomy message of client errors and hides the rest.
func publicError(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrValidation),
		stderrors.Is(err, errors.ErrForbidden),
		stderrors.Is(err, errors.ErrNotFound):
		return err.Error()
	default:
		return errors.ErrInternal.Error()
	}
}
