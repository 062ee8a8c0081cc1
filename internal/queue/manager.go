package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/models"
)

// storedMessage is the internal structure persisted in Badger
type storedMessage struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// Manager implements a persistent queue on BadgerDB with delayed visibility.
// Delayed enqueue doubles as the retry-backoff scheduling mechanism: a job
// scheduled for retry is re-enqueued with VisibleAt in the future.
type Manager struct {
	db                *badgerdb.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewManager creates a new Badger-backed queue manager
func NewManager(db *badgerdb.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &Manager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Enqueue adds a message that becomes visible immediately
func (m *Manager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	return m.enqueueAt(msg, time.Now())
}

// EnqueueDelayed adds a message that becomes visible after delay
func (m *Manager) EnqueueDelayed(ctx context.Context, msg models.QueueMessage, delay time.Duration) error {
	return m.enqueueAt(msg, time.Now().Add(delay))
}

func (m *Manager) enqueueAt(msg models.QueueMessage, visibleAt time.Time) error {
	qMsg := storedMessage{
		ID:         uuid.New().String(),
		Body:       msg,
		EnqueuedAt: time.Now(),
		VisibleAt:  visibleAt,
	}

	data, err := json.Marshal(qMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	// Message data lives at queue:{name}:msg:{id}; a visibility index at
	// queue:{name}:index:{nanos}:{id} keeps ready messages scan-ordered.
	return m.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(m.msgKey(qMsg.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, qMsg.ID), []byte{})
	})
}

// Receive pulls the next visible message. Returns the message and a delete
// function to call after successful processing. Messages received more than
// maxReceive times are dropped to the dead-letter prefix.
func (m *Manager) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	var delivered *storedMessage

	err := m.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(m.indexPrefix())
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index keys are time-ordered; nothing later is ready
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if err == badgerdb.ErrKeyNotFound {
				// Orphaned index entry
				_ = txn.Delete(key)
				continue
			}
			if err != nil {
				return err
			}

			var qMsg storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &qMsg)
			}); err != nil {
				return err
			}

			qMsg.ReceiveCount++
			if qMsg.ReceiveCount > m.maxReceive {
				if err := m.deadLetter(txn, key, &qMsg); err != nil {
					return err
				}
				continue
			}

			// Push visibility forward so other workers skip this message
			qMsg.VisibleAt = now.Add(m.visibilityTimeout)
			data, err := json.Marshal(qMsg)
			if err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(qMsg.VisibleAt, qMsg.ID), []byte{}); err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(qMsg.ID), data); err != nil {
				return err
			}

			delivered = &qMsg
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if delivered == nil {
		return nil, nil, models.ErrNoMessage
	}

	deleteFn := func() error {
		return m.delete(delivered.ID, delivered.VisibleAt)
	}
	return &delivered.Body, deleteFn, nil
}

func (m *Manager) deadLetter(txn *badgerdb.Txn, indexKey []byte, qMsg *storedMessage) error {
	m.logger.Warn().
		Str("message_id", qMsg.ID).
		Str("job_id", qMsg.Body.JobID).
		Int("receive_count", qMsg.ReceiveCount).
		Msg("Message exceeded max receives, moving to dead-letter")

	data, err := json.Marshal(qMsg)
	if err != nil {
		return err
	}
	if err := txn.Set(m.deadKey(qMsg.ID), data); err != nil {
		return err
	}
	if err := txn.Delete(indexKey); err != nil {
		return err
	}
	return txn.Delete(m.msgKey(qMsg.ID))
}

func (m *Manager) delete(id string, visibleAt time.Time) error {
	return m.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(m.indexKey(visibleAt, id)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete(m.msgKey(id)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return nil
	})
}

// Depth returns the number of pending messages (visible or not)
func (m *Manager) Depth(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (m *Manager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *Manager) deadKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dead:%s", m.queueName, id))
}

func (m *Manager) indexPrefix() string {
	return fmt.Sprintf("queue:%s:index:", m.queueName)
}

func (m *Manager) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", m.indexPrefix(), visibleAt.UnixNano(), id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	rest := strings.TrimPrefix(string(key), m.indexPrefix())
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed index key: %s", key)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos), parts[1], nil
}
