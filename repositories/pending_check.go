package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ contract.CheckStore = CheckRepository{}

const checkPrefix = "check:"

// CheckRepository persists scheduled deferred-read checks so that a restart
// does not lose the notifications they would have produced.
type CheckRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewCheckRepository(db *badger.DB, log *slog.Logger) CheckRepository {
	return CheckRepository{db: db, log: log}
}

func checkKey(messageID uuid.UUID) []byte {
	return []byte(checkPrefix + messageID.String())
}

func (c CheckRepository) SavePendingCheck(_ context.Context, check domain.PendingCheck) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, checkKey(check.MessageID), check)
	})
}

// ClaimPendingCheck deletes the check. Only the caller whose transaction commits the
// delete gets true: a missing key or a conflicting commit means someone else ran it.
func (c CheckRepository) ClaimPendingCheck(_ context.Context, messageID uuid.UUID) (bool, error) {
	err := c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(checkKey(messageID)); err != nil {
			return err
		}
		return txn.Delete(checkKey(messageID))
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err), isConflict(err):
		c.log.Debug("Pending check already claimed", "message_id", messageID)
		return false, nil
	default:
		return false, err
	}
}

func (c CheckRepository) DuePendingChecks(_ context.Context, now time.Time) ([]domain.PendingCheck, error) {
	checks, err := scanJSON[domain.PendingCheck](c.db, []byte(checkPrefix))
	if err != nil {
		return nil, err
	}
	return lo.Filter(checks, func(item domain.PendingCheck, _ int) bool {
		return item.IsDue(now)
	}), nil
}
