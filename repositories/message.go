package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ contract.MessageStore = MessageRepository{}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

func messageKey(id uuid.UUID) []byte {
	return []byte("msg:" + id.String())
}

func conversationKey(id string) []byte {
	return []byte("conversation:" + id)
}

// conversationIndexPrefix carries the id length so that no conversation prefix
// is a prefix of another one ("c1" against "c1:x").
func conversationIndexPrefix(conversationID string) string {
	return fmt.Sprintf("idx:conv:%d:%s:", len(conversationID), conversationID)
}

// conversationIndexKey is formatted as "idx:conv:{len}:{conversation}:{timestamp_padded}:{uuid}" to:
//  1. Keep a conversation's messages sorted chronologically (19-digit zero padding).
//  2. Disambiguate two messages created at the same nanosecond.
func conversationIndexKey(message domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s",
		conversationIndexPrefix(message.ConversationID),
		message.CreatedAt.UnixNano(),
		message.ID,
	))
}

// SaveMessage upserts the message and its position in the conversation index.
func (m MessageRepository) SaveMessage(_ context.Context, message domain.Message) error {
	return m.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, messageKey(message.ID), message); err != nil {
			return err
		}
		return txn.Set(conversationIndexKey(message), message.ID[:])
	})
}

func (m MessageRepository) FindMessage(_ context.Context, id uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, messageKey(id), &message)
	})
	if isNotFound(err) {
		return domain.Message{}, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, id)
	}
	return message, err
}

// MarkMessageReceived performs the unread -> read transition inside a single transaction.
// Concurrent callers race on the commit: badger rejects the loser with a conflict, which
// re-reads the message and then observes it as already read.
func (m MessageRepository) MarkMessageReceived(_ context.Context, id uuid.UUID, at time.Time) (domain.Message, bool, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var message domain.Message
		var transitioned bool
		err := m.db.Update(func(txn *badger.Txn) error {
			var stored domain.Message
			if err := getJSON(txn, messageKey(id), &stored); err != nil {
				return err
			}
			message, transitioned = stored.MarkReceived(at)
			if !transitioned {
				return nil
			}
			return setJSON(txn, messageKey(id), message)
		})
		switch {
		case err == nil:
			return message, transitioned, nil
		case isNotFound(err):
			return domain.Message{}, false, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, id)
		case isConflict(err):
			m.log.Debug("Conflicting read transition, retrying", "message_id", id, "attempt", attempt+1)
			continue
		default:
			return domain.Message{}, false, err
		}
	}
	return domain.Message{}, false, fmt.Errorf("%w: read transition of %s kept conflicting", errors.ErrTransient, id)
}

// UnreadMessages returns, oldest first, the unread messages addressed to recipientID.
func (m MessageRepository) UnreadMessages(_ context.Context, conversationID, recipientID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(conversationIndexPrefix(conversationID))
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			message, err := messageFromIndex(txn, it.Item())
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Filter(messages, func(item domain.Message, _ int) bool {
		return item.ToID == recipientID && !item.IsRead()
	}), nil
}

// Messages retrieves a page of a conversation, newest first, using a reverse prefix scan.
// The returned cursor is the index position of the last message of the page, or nil when
// the history is exhausted.
func (m MessageRepository) Messages(_ context.Context, conversationID string, cursor *string, limit int) ([]domain.Message, *string, error) {
	if limit <= 0 || limit > m.limitMessages {
		limit = m.limitMessages
	}
	var messages []domain.Message
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := conversationIndexPrefix(conversationID)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Past the newest possible position, then walk backwards
			seekKey = append([]byte(prefixStr), []byte("9999999999999999999")...)
		default:
			seekKey = append([]byte(prefixStr), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			message, err := messageFromIndex(txn, item)
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(messages) < limit {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

func messageFromIndex(txn *badger.Txn, item *badger.Item) (domain.Message, error) {
	var id uuid.UUID
	err := item.Value(func(val []byte) error {
		parsed, err := uuid.FromBytes(val)
		id = parsed
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	var message domain.Message
	if err = getJSON(txn, messageKey(id), &message); err != nil {
		return domain.Message{}, fmt.Errorf("index entry %s: %w", item.Key(), err)
	}
	return message, nil
}

func (m MessageRepository) SaveConversation(_ context.Context, conversation domain.Conversation) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, conversationKey(conversation.ID), conversation)
	})
}

func (m MessageRepository) FindConversation(_ context.Context, id string) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := m.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, conversationKey(id), &conversation)
	})
	if isNotFound(err) {
		return domain.Conversation{}, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, id)
	}
	return conversation, err
}
