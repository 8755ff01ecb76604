package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ contract.NotificationStore = NotificationRepository{}

const notificationPrefix = "notification:"

// NotificationRepository is the ledger of every notification the dispatcher attempted.
// Records with a nil SentAt are the backlog of a resweep job.
type NotificationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewNotificationRepository(db *badger.DB, log *slog.Logger) NotificationRepository {
	return NotificationRepository{db: db, log: log}
}

func notificationKey(id uuid.UUID) []byte {
	return []byte(notificationPrefix + id.String())
}

// SaveNotificationRecord inserts the record once. A redelivered notification gets
// the existing record back, sent or not.
func (n NotificationRepository) SaveNotificationRecord(_ context.Context, record domain.NotificationRecord) (domain.NotificationRecord, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var stored domain.NotificationRecord
		err := n.db.Update(func(txn *badger.Txn) error {
			err := getJSON(txn, notificationKey(record.ID), &stored)
			if err == nil {
				return nil
			}
			if !isNotFound(err) {
				return err
			}
			stored = record
			return setJSON(txn, notificationKey(record.ID), record)
		})
		switch {
		case err == nil:
			return stored, nil
		case isConflict(err):
			n.log.Debug("Conflicting notification insert, retrying", "record_id", record.ID)
			continue
		default:
			return domain.NotificationRecord{}, err
		}
	}
	return domain.NotificationRecord{}, fmt.Errorf("%w: insert of record %s kept conflicting", errors.ErrTransient, record.ID)
}

func (n NotificationRepository) FindNotificationRecord(_ context.Context, id uuid.UUID) (domain.NotificationRecord, error) {
	var record domain.NotificationRecord
	err := n.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, notificationKey(id), &record)
	})
	if isNotFound(err) {
		return domain.NotificationRecord{}, fmt.Errorf("%w: %s", errors.ErrRecordNotFound, id)
	}
	return record, err
}

func (n NotificationRepository) UpdateNotificationSentAt(_ context.Context, id uuid.UUID, at time.Time) error {
	return n.update(id, func(record *domain.NotificationRecord) {
		sentAt := at.UTC()
		record.SentAt = &sentAt
		record.State = domain.NotificationSent
		record.LastError = ""
	})
}

// MarkNotificationFailed keeps the record owed (SentAt stays nil) and remembers why.
func (n NotificationRepository) MarkNotificationFailed(_ context.Context, id uuid.UUID, reason string) error {
	return n.update(id, func(record *domain.NotificationRecord) {
		record.State = domain.NotificationFailed
		record.LastError = reason
	})
}

// PendingNotifications lists unsent records, oldest first.
func (n NotificationRepository) PendingNotifications(_ context.Context) ([]domain.NotificationRecord, error) {
	records, err := n.AllNotifications()
	if err != nil {
		return nil, err
	}
	return lo.Filter(records, func(item domain.NotificationRecord, _ int) bool {
		return item.SentAt == nil
	}), nil
}

// AllNotifications lists the whole ledger, oldest first.
func (n NotificationRepository) AllNotifications() ([]domain.NotificationRecord, error) {
	records, err := scanJSON[domain.NotificationRecord](n.db, []byte(notificationPrefix))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(records, func(a, b domain.NotificationRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return records, nil
}

func (n NotificationRepository) update(id uuid.UUID, mutate func(record *domain.NotificationRecord)) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := n.db.Update(func(txn *badger.Txn) error {
			var record domain.NotificationRecord
			if err := getJSON(txn, notificationKey(id), &record); err != nil {
				return err
			}
			mutate(&record)
			return setJSON(txn, notificationKey(id), record)
		})
		switch {
		case err == nil:
			return nil
		case isNotFound(err):
			return fmt.Errorf("%w: %s", errors.ErrRecordNotFound, id)
		case isConflict(err):
			n.log.Debug("Conflicting notification update, retrying", "record_id", id)
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("%w: update of record %s kept conflicting", errors.ErrTransient, id)
}
