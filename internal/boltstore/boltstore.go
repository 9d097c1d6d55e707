// Package boltstore keeps license records in a bbolt database.
package boltstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nanosip/nanosip-license/pkg/licensing"
)

const (
	bucketLicense = "license"
	lockTimeout   = 2 * time.Second
)

// Store implements licensing.Storage on a single bbolt file. The file is
// opened for each operation so the daemon and interactive commands can share
// it; bbolt holds an exclusive lock while a handle is open.
type Store struct {
	path string
}

// Open creates the database at path if needed and returns a Store for it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create license db dir: %w", err)
	}
	s := &Store{path: path}
	if err := s.update(func(*bbolt.Bucket) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// Close is a no-op; no handle outlives an operation.
func (s *Store) Close() error {
	return nil
}

func (s *Store) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open license db %s: %w", s.path, err)
	}
	return db, nil
}

func (s *Store) update(fn func(*bbolt.Bucket) error) error {
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketLicense))
		if err != nil {
			return err
		}
		return fn(b)
	})
}

func (s *Store) Read(key string) ([]byte, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil, licensing.ErrStorageNotFound
	}
	db, err := s.open(true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var out []byte
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLicense))
		if b == nil {
			return licensing.ErrStorageNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return licensing.ErrStorageNotFound
		}
		// v is only valid for the life of the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Write(key string, data []byte) error {
	if key == "" {
		return errors.New("empty storage key")
	}
	return s.update(func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), data)
	})
}

func (s *Store) Delete(key string) error {
	return s.update(func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}
