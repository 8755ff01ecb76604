package repositories

import (
	"encoding/json"
	stderrors "errors"

	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds read-modify-write retries when badger reports a conflicting commit.
const maxConflictRetries = 5

func getJSON(txn *badger.Txn, key []byte, target any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, target)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set(key, bytes)
}

// scanJSON decodes every value stored under prefix, in key order.
func scanJSON[T any](db *badger.DB, prefix []byte) ([]T, error) {
	var values []T
	err := db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var value T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &value)
			}); err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	return values, err
}

func isNotFound(err error) bool {
	return stderrors.Is(err, badger.ErrKeyNotFound)
}

func isConflict(err error) bool {
	return stderrors.Is(err, badger.ErrConflict)
}
