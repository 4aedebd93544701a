package ingest

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"veridano/repository"
)

var leaseBucket = []byte("source_leases")

// LeaseManager hands out per-source mutual-exclusion leases so two
// invocations of the same source never process overlapping windows
// concurrently. Leases expire after a TTL, so a crashed run cannot wedge
// its source forever.
type LeaseManager struct {
	db  *bolt.DB
	ttl time.Duration
}

func NewLeaseManager(db *bolt.DB, ttl time.Duration) (*LeaseManager, error) {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(leaseBucket)
		return err
	})
	if err != nil {
		return nil, &repository.StoreError{Op: "init lease bucket", Err: err}
	}
	return &LeaseManager{db: db, ttl: ttl}, nil
}

// Acquire takes the lease for a source. It returns false when an unexpired
// lease is already held. Check and set happen in one write transaction.
func (m *LeaseManager) Acquire(source string) (bool, error) {
	acquired := false
	err := m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(leaseBucket)
		now := time.Now()
		if v := bucket.Get([]byte(source)); v != nil && len(v) == 8 {
			expiry := time.Unix(0, int64(binary.BigEndian.Uint64(v)))
			if now.Before(expiry) {
				return nil
			}
		}
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(now.Add(m.ttl).UnixNano()))
		if err := bucket.Put([]byte(source), val); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, &repository.StoreError{Op: "acquire lease", Err: err}
	}
	return acquired, nil
}

// Release frees the lease early.
func (m *LeaseManager) Release(source string) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(leaseBucket).Delete([]byte(source))
	})
	if err != nil {
		return &repository.StoreError{Op: "release lease", Err: err}
	}
	return nil
}
