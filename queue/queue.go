// Package queue holds outgoing messages that could not be dispatched
// because the event channel was down, and drives the retry schedule for
// sends that failed while connected.
//
// Queued entries survive restarts. Flushing preserves submission order
// and removes an entry only after its dispatch succeeds, so a crash
// mid-flush re-sends rather than loses.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/civicmesh/chatsync/storage"
	"github.com/civicmesh/chatsync/transport"
)

const keyPrefix = "queue:"

// Entry is one deferred outgoing message. RetryCount carries the failed
// send attempts already spent on the message, so the retry ceiling holds
// across restarts.
type Entry struct {
	ClientTempID string                `json:"clientTempId"`
	ThreadID     string                `json:"threadId"`
	Payload      transport.SendPayload `json:"payload"`
	CreatedAt    time.Time             `json:"createdAt"`
	RetryCount   int                   `json:"retryCount"`
}

// Queue is a durable FIFO of deferred sends, one namespace per thread.
type Queue struct {
	store storage.Store
}

// New creates a queue backed by the given store.
func New(store storage.Store) *Queue {
	return &Queue{store: store}
}

// entryKey orders entries by submission time within a thread. Nanosecond
// timestamps are zero-padded so lexicographic scan order matches
// chronological order; the temp ID breaks same-nanosecond ties.
func entryKey(threadID string, createdAt time.Time, tempID string) string {
	return fmt.Sprintf("%s%s:%020d:%s", keyPrefix, threadID, createdAt.UnixNano(), tempID)
}

func threadPrefix(threadID string) string {
	return keyPrefix + threadID + ":"
}

// Push appends an entry to the thread's queue.
func (q *Queue) Push(e Entry) error {
	if e.ClientTempID == "" {
		return fmt.Errorf("queue entry missing client temp id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding queue entry: %w", err)
	}
	if err := q.store.Set(entryKey(e.ThreadID, e.CreatedAt, e.ClientTempID), data); err != nil {
		return fmt.Errorf("persisting queue entry: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Push",
		"thread_id":      e.ThreadID,
		"client_temp_id": e.ClientTempID,
	}).Debug("Queued message for later dispatch")
	return nil
}

// Entries returns the thread's pending entries oldest first.
func (q *Queue) Entries(threadID string) ([]Entry, error) {
	var out []Entry
	err := q.store.Scan(threadPrefix(threadID), func(key string, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Entries",
				"key":      key,
				"error":    err.Error(),
			}).Warn("Skipping corrupt queue entry")
			return nil
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning queue: %w", err)
	}
	return out, nil
}

// Len reports the number of pending entries for the thread.
func (q *Queue) Len(threadID string) (int, error) {
	n := 0
	err := q.store.Scan(threadPrefix(threadID), func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}

// Remove deletes the entry for the given temp ID, if present. Used after
// a successful dispatch and when the user deletes a pending message.
func (q *Queue) Remove(threadID, tempID string) error {
	var key string
	err := q.store.Scan(threadPrefix(threadID), func(k string, v []byte) error {
		var e Entry
		if json.Unmarshal(v, &e) == nil && e.ClientTempID == tempID {
			key = k
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning queue: %w", err)
	}
	if key == "" {
		return nil
	}
	return q.store.Delete(key)
}

// DispatchFunc sends one queued entry. A nil return means the entry may
// be removed from the queue.
type DispatchFunc func(e Entry) error

// Flush dispatches the thread's entries oldest first. Each entry is
// removed only after its dispatch succeeds. The first dispatch failure
// stops the flush so ordering is preserved on the next attempt; entries
// already dispatched stay removed. Returns the number dispatched.
func (q *Queue) Flush(threadID string, dispatch DispatchFunc) (int, error) {
	entries, err := q.Entries(threadID)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range entries {
		if err := dispatch(e); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":       "Flush",
				"thread_id":      threadID,
				"client_temp_id": e.ClientTempID,
				"sent":           sent,
				"error":          err.Error(),
			}).Warn("Queue flush interrupted")
			return sent, err
		}
		if err := q.Remove(threadID, e.ClientTempID); err != nil {
			return sent, fmt.Errorf("removing dispatched entry: %w", err)
		}
		sent++
	}

	if sent > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "Flush",
			"thread_id": threadID,
			"sent":      sent,
		}).Info("Flushed offline queue")
	}
	return sent, nil
}
