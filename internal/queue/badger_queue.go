package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
)

// storedMessage is the internal structure stored in Badger. The visibility
// index key carries VisibleAt so redelivery is a scan, not a table sweep.
type storedMessage struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// BadgerQueue implements a persistent queue using BadgerDB
type BadgerQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBadgerQueue creates a new Badger-backed queue
func NewBadgerQueue(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (interfaces.Queue, error) {
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

	return &BadgerQueue{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Name returns the queue name
func (q *BadgerQueue) Name() string {
	return q.queueName
}

// Enqueue adds a message to the queue, visible immediately.
func (q *BadgerQueue) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	return q.enqueueAt(msg, time.Now())
}

// EnqueueWithDelay adds a message that becomes visible after the delay.
// Used for retry-after-rollback scheduling.
func (q *BadgerQueue) EnqueueWithDelay(ctx context.Context, msg models.QueueMessage, delay time.Duration) error {
	return q.enqueueAt(msg, time.Now().Add(delay))
}

func (q *BadgerQueue) enqueueAt(msg models.QueueMessage, visibleAt time.Time) error {
	id := msg.JobID
	if id == "" {
		id = uuid.New().String()
	}

	sMsg := storedMessage{
		ID:         id,
		Body:       msg,
		EnqueuedAt: time.Now(),
		VisibleAt:  visibleAt,
	}

	data, err := json.Marshal(sMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	// Message data lives at queue:{name}:msg:{id}; a separate
	// queue:{name}:index:{visibleAt}:{id} key keeps messages sorted by
	// visibility for the Receive scan.
	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(sMsg.VisibleAt, id), []byte{})
	})
}

// Receive pulls the next visible message from the queue. The returned delete
// function removes the message after successful processing; an unacknowledged
// message becomes visible again once its visibility timeout lapses.
func (q *BadgerQueue) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	var sMsg storedMessage
	var msgID string
	var oldIndexKey []byte

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}

			if ts.After(now) {
				// Index keys are sorted by timestamp, nothing further is ready.
				break
			}

			itemMsg, err := txn.Get(q.msgKey(id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := itemMsg.Value(func(val []byte) error {
				return json.Unmarshal(val, &sMsg)
			}); err != nil {
				return err
			}

			if sMsg.ReceiveCount >= q.maxReceive {
				// Drop poison messages instead of redelivering forever
				q.logger.Warn().
					Str("queue", q.queueName).
					Str("job_id", id).
					Int("receive_count", sMsg.ReceiveCount).
					Msg("Dropping message after max receive count")
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			found = true
			msgID = id
			oldIndexKey = key
			break
		}

		if !found {
			return models.ErrNoMessage
		}

		sMsg.ReceiveCount++
		sMsg.VisibleAt = time.Now().Add(q.visibilityTimeout)

		newData, err := json.Marshal(sMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msgID), newData); err != nil {
			return err
		}

		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(sMsg.VisibleAt, msgID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}

	deleteFn := func() error {
		return q.deleteMessage(msgID)
	}

	return &sMsg.Body, deleteFn, nil
}

// Cancel removes a waiting message by job ID. A message already claimed by a
// worker is not interrupted; its job state records the cancellation instead.
func (q *BadgerQueue) Cancel(ctx context.Context, jobID string) error {
	return q.deleteMessage(jobID)
}

func (q *BadgerQueue) deleteMessage(id string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Already deleted
			}
			return err
		}

		var current storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(current.VisibleAt, id)); err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		return txn.Delete(q.msgKey(id))
	})
}

// Close closes the queue (no-op, the DB is managed externally)
func (q *BadgerQueue) Close() error {
	return nil
}

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.queueName, id))
}

func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so lexical ordering matches numeric ordering
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.queueName, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", q.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	if len(suffix) < 21 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
