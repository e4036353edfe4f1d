// Package storage persists string key/value pairs in a bbolt database. The
// jsrt command exposes a Store to scripts as localStorage.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("local")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// Store is a bbolt-backed key/value store. Keys iterate in byte order.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the store database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	return &Store{db: db}, nil
}

// DefaultPath returns the store location under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "jsrt", "storage.db"), nil
}

// encodeKey prefixes key with a zero byte, since bbolt rejects empty keys.
// The prefix keeps byte order.
func encodeKey(key string) []byte {
	return append([]byte{0}, key...)
}

func decodeKey(k []byte) string {
	return string(k[1:])
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrClosed
	}
	var (
		value string
		ok    bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketName).Get(encodeKey(key)); v != nil {
			// bbolt values are only valid inside the transaction.
			value, ok = string(v), true
		}
		return nil
	})
	return value, ok, err
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key, value string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(encodeKey(key), []byte(value))
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(encodeKey(key))
	})
}

// Clear removes every key.
func (s *Store) Clear() error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
}

// Key returns the i-th key in byte order.
func (s *Store) Key(i int) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrClosed
	}
	if i < 0 {
		return "", false, nil
	}
	var (
		key string
		ok  bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		n := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if n == i {
				key, ok = decodeKey(k), true
				return nil
			}
			n++
		}
		return nil
	})
	return key, ok, err
}

// Len reports the number of stored keys.
func (s *Store) Len() (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
