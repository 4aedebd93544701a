package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"veridano/repository"
)

var rawBucket = []byte("raw")

// Open opens (creating if needed) the bbolt database backing raw content
// and ingestion leases.
func Open(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobstore directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open blobstore: %w", err)
	}
	return db, nil
}

// Store keeps raw fetched bytes keyed by "source/id" for auditability.
// Normalized text is read only from the document store thereafter.
type Store struct {
	db *bolt.DB
}

func New(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rawBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create raw bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(key string, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rawBucket).Put([]byte(key), data)
	})
	if err != nil {
		return &repository.StoreError{Op: "blob put", Err: err}
	}
	return nil
}

func (s *Store) Get(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rawBucket).Get([]byte(key))
		if v == nil {
			return repository.ErrNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
