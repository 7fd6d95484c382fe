package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// PebbleStore is the durable Store backed by a Pebble database. Writes are
// synced so queued messages survive process restarts mid-flush.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database at the given path.
func OpenPebble(path string) (*PebbleStore, error) {
	logrus.WithFields(logrus.Fields{
		"function": "OpenPebble",
		"path":     path,
	}).Info("Opening local state store")

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpenPebble",
			"path":     path,
			"error":    err.Error(),
		}).Error("Failed to open local state store")
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}

	return &PebbleStore{db: db}, nil
}

// Get returns the value for key and whether it exists.
func (s *PebbleStore) Get(key string) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, ErrClosed
	}
	value, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), value...)
	if err := closer.Close(); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Set durably writes key to value.
func (s *PebbleStore) Set(key string, value []byte) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Set([]byte(key), value, pebble.Sync)
}

// Delete removes key.
func (s *PebbleStore) Delete(key string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Delete([]byte(key), pebble.Sync)
}

// Scan visits all keys with the given prefix in ascending key order.
func (s *PebbleStore) Scan(prefix string, fn func(key string, value []byte) error) error {
	if s.db == nil {
		return ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value := append([]byte(nil), iter.Value()...)
		if err := fn(string(iter.Key()), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Local state store closed")
	return err
}

// prefixUpperBound returns the smallest key greater than every key that
// has the given prefix, for use as an exclusive iterator upper bound.
func prefixUpperBound(prefix []byte) []byte {
	bound := append([]byte(nil), prefix...)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}
