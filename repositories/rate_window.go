package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"

	"github.com/dgraph-io/badger/v4"
)

var _ contract.WindowStore = WindowRepository{}

var windowKey = []byte("ratelimit:window")

// WindowRepository keeps the rate limit window across restarts, so a daily quota
// is not silently refilled by redeploying.
type WindowRepository struct {
	db *badger.DB
}

func NewWindowRepository(db *badger.DB) WindowRepository {
	return WindowRepository{db: db}
}

func (w WindowRepository) LoadWindow(_ context.Context) (domain.RateLimitWindow, bool, error) {
	var window domain.RateLimitWindow
	err := w.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, windowKey, &window)
	})
	if isNotFound(err) {
		return domain.RateLimitWindow{}, false, nil
	}
	if err != nil {
		return domain.RateLimitWindow{}, false, err
	}
	return window, true, nil
}

func (w WindowRepository) SaveWindow(_ context.Context, window domain.RateLimitWindow) error {
	return w.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, windowKey, window)
	})
}
