package badger

import (
	"context"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/interfaces"
)

const lockKeyPrefix = "lock:"

// LockStorage implements keyed TTL leases on raw Badger entries. The entry
// TTL releases leases held by crashed workers; Release drops them early.
type LockStorage struct {
	db     *badgerdb.DB
	logger arbor.ILogger
}

// NewLockStorage creates a new LockStorage instance
func NewLockStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LockStore {
	return &LockStorage{
		db:     db.Store().Badger(),
		logger: logger,
	}
}

// Acquire takes the lease for key if nobody holds it. Returns false without
// error when the lease is already held.
func (s *LockStorage) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	acquired := false
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		k := []byte(lockKeyPrefix + key)
		_, err := txn.Get(k)
		if err == nil {
			// Lease exists and has not expired (Badger hides expired entries)
			return nil
		}
		if err != badgerdb.ErrKeyNotFound {
			return err
		}

		entry := badgerdb.NewEntry(k, []byte(time.Now().UTC().Format(time.RFC3339Nano))).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if !acquired {
		s.logger.Debug().Str("key", key).Msg("Lock already held")
	}
	return acquired, nil
}

// Release drops the lease for key. Releasing an unheld lease is a no-op.
func (s *LockStorage) Release(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete([]byte(lockKeyPrefix + key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		return err
	})
}
