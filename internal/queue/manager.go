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
)

// ErrNoMessage is returned when no message is ready for delivery.
var ErrNoMessage = errors.New("no messages in queue")

// ErrDuplicateJob is returned when an enqueue carries a dedup ID that is
// already waiting or in flight.
var ErrDuplicateJob = errors.New("duplicate job already queued")

// Message is the internal envelope stored in Badger.
type Message struct {
	ID           string          `json:"id"`
	DedupID      string          `json:"dedup_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
}

// FailedRecord is a message that exhausted its delivery attempts. A bounded
// number of these are retained for inspection; completed messages are
// discarded immediately.
type FailedRecord struct {
	Message   Message   `json:"message"`
	FailedAt  time.Time `json:"failed_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Manager implements a persistent queue on BadgerDB. Delivery is at-least-once
// within a visibility lease; a message received maxReceive times without
// completion moves to the failed retention ring.
type Manager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	retryBackoff      time.Duration
	failedRetention   int
	logger            arbor.ILogger
}

// NewManager creates a Badger-backed queue manager. The database is managed
// externally and shared with record storage; the queue owns its key space.
func NewManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, retryBackoff time.Duration, failedRetention int, logger arbor.ILogger) (*Manager, error) {
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
		maxReceive = 2
	}
	if retryBackoff <= 0 {
		retryBackoff = 30 * time.Second
	}
	if failedRetention <= 0 {
		failedRetention = 100
	}

	return &Manager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		retryBackoff:      retryBackoff,
		failedRetention:   failedRetention,
		logger:            logger,
	}, nil
}

// Enqueue adds a message. If dedupID is non-empty and a message with the same
// dedup ID is still waiting or in flight, ErrDuplicateJob is returned and
// nothing is written.
func (m *Manager) Enqueue(ctx context.Context, dedupID string, payload []byte) (string, error) {
	id := uuid.New().String()
	now := time.Now()

	msg := Message{
		ID:         id,
		DedupID:    dedupID,
		Payload:    payload,
		EnqueuedAt: now,
		VisibleAt:  now, // Immediately visible
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if dedupID != "" {
			dk := m.dedupKey(dedupID)
			if _, err := txn.Get(dk); err == nil {
				return ErrDuplicateJob
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(dk, []byte(id)); err != nil {
				return err
			}
		}

		if err := txn.Set(m.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(msg.VisibleAt, id), []byte{})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Receive pulls the next visible message and leases it for the visibility
// timeout. Messages that already hit the receive limit are moved to the
// failed ring during the scan. Returns ErrNoMessage when nothing is ready.
func (m *Manager) Receive(ctx context.Context) (*Message, error) {
	var claimed Message

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
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
				// Index keys sort by visibility time; nothing later is ready.
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var msg Message
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			if msg.ReceiveCount >= m.maxReceive {
				// Lease expired after the final attempt: retire it
				if err := m.retire(txn, key, msg, "visibility lease expired after final attempt"); err != nil {
					return err
				}
				continue
			}

			msg.ReceiveCount++
			msg.VisibleAt = now.Add(m.visibilityTimeout)

			newData, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(msg.ID), newData); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(msg.VisibleAt, msg.ID), []byte{}); err != nil {
				return err
			}

			claimed = msg
			return nil
		}

		return ErrNoMessage
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// Complete removes a delivered message and releases its dedup reservation.
// Completed messages leave no record.
func (m *Manager) Complete(ctx context.Context, msg *Message) error {
	return m.db.Update(func(txn *badger.Txn) error {
		current, err := m.load(txn, msg.ID)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already gone
			}
			return err
		}
		return m.remove(txn, current)
	})
}

// Fail records a delivery failure. If attempts remain the message becomes
// visible again after the fixed retry backoff; otherwise it moves to the
// failed ring and its dedup reservation is released.
func (m *Manager) Fail(ctx context.Context, msg *Message, cause error) error {
	return m.db.Update(func(txn *badger.Txn) error {
		current, err := m.load(txn, msg.ID)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}

		reason := ""
		if cause != nil {
			reason = cause.Error()
		}

		if current.ReceiveCount >= m.maxReceive {
			return m.retire(txn, m.indexKey(current.VisibleAt, current.ID), current, reason)
		}

		oldIndex := m.indexKey(current.VisibleAt, current.ID)
		current.VisibleAt = time.Now().Add(m.retryBackoff)

		data, err := json.Marshal(current)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(current.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.indexKey(current.VisibleAt, current.ID), []byte{})
	})
}

// Counts reports waiting, active (leased) and retained-failed message counts.
func (m *Manager) Counts(ctx context.Context) (waiting, active, failed int, err error) {
	err = m.db.View(func(txn *badger.Txn) error {
		now := time.Now()

		opts := badger.DefaultIteratorOptions
		msgPrefix := []byte(fmt.Sprintf("queue:%s:msg:", m.queueName))
		it := txn.NewIterator(opts)
		for it.Seek(msgPrefix); it.ValidForPrefix(msgPrefix); it.Next() {
			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				continue
			}
			if msg.ReceiveCount > 0 && msg.VisibleAt.After(now) {
				active++
			} else {
				waiting++
			}
		}
		it.Close()

		opts2 := badger.DefaultIteratorOptions
		opts2.PrefetchValues = false
		failedPrefix := []byte(fmt.Sprintf("queue:%s:failed:", m.queueName))
		it2 := txn.NewIterator(opts2)
		defer it2.Close()
		for it2.Seek(failedPrefix); it2.ValidForPrefix(failedPrefix); it2.Next() {
			failed++
		}
		return nil
	})
	return waiting, active, failed, err
}

// DeleteFailedBefore removes retained failed records older than cutoff.
func (m *Manager) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:failed:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, _, err := m.parseKeyAfter(key, prefix)
			if err != nil {
				continue
			}
			if ts.After(cutoff) {
				break
			}
			stale = append(stale, key)
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// retire moves a message to the failed ring, trims the ring to the retention
// bound and drops the message, index entry and dedup reservation.
func (m *Manager) retire(txn *badger.Txn, indexKey []byte, msg Message, reason string) error {
	record := FailedRecord{
		Message:   msg,
		FailedAt:  time.Now(),
		LastError: reason,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := txn.Set(m.failedKey(record.FailedAt, msg.ID), data); err != nil {
		return err
	}
	if err := m.trimFailed(txn); err != nil {
		return err
	}

	if err := txn.Delete(indexKey); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if err := txn.Delete(m.msgKey(msg.ID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if msg.DedupID != "" {
		if err := txn.Delete(m.dedupKey(msg.DedupID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}

	if m.logger != nil {
		m.logger.Warn().
			Str("message_id", msg.ID).
			Str("dedup_id", msg.DedupID).
			Int("receive_count", msg.ReceiveCount).
			Str("reason", reason).
			Msg("Queue message retired to failed ring")
	}
	return nil
}

// trimFailed deletes the oldest failed records beyond the retention bound.
// Keys sort by failure time, so the iterator yields oldest first.
func (m *Manager) trimFailed(txn *badger.Txn) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	prefix := []byte(fmt.Sprintf("queue:%s:failed:", m.queueName))

	var keys [][]byte
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for len(keys) > m.failedRetention {
		if err := txn.Delete(keys[0]); err != nil {
			return err
		}
		keys = keys[1:]
	}
	return nil
}

func (m *Manager) remove(txn *badger.Txn, msg Message) error {
	if err := txn.Delete(m.indexKey(msg.VisibleAt, msg.ID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if err := txn.Delete(m.msgKey(msg.ID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if msg.DedupID != "" {
		if err := txn.Delete(m.dedupKey(msg.DedupID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}
	return nil
}

func (m *Manager) load(txn *badger.Txn, id string) (Message, error) {
	var msg Message
	item, err := txn.Get(m.msgKey(id))
	if err != nil {
		return msg, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	return msg, err
}

// Key helpers. Timestamps are zero padded to 20 digits so lexicographic key
// order matches chronological order.

func (m *Manager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *Manager) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *Manager) dedupKey(dedupID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dedup:%s", m.queueName, dedupID))
}

func (m *Manager) failedKey(failedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:failed:%020d:%s", m.queueName, failedAt.UnixNano(), id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
	return m.parseKeyAfter(key, prefix)
}

func (m *Manager) parseKeyAfter(key, prefix []byte) (time.Time, string, error) {
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}
	suffix := string(key[len(prefix):])
	if len(suffix) < 21 { // 20 digits + colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
