package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

type boltEntry struct {
	Value     string `json:"v"`
	ExpiresAt int64  `json:"e,omitempty"`
}

// BoltStore keeps one region in its own bucket of a bolt database.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

// NewBoltStore creates the bucket if needed.
func NewBoltStore(db *bolt.DB, bucket string) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return &BoltStore{db: db, bucket: []byte(bucket), now: time.Now}, nil
}

func (s *BoltStore) Get(_ context.Context, key string) (string, bool, error) {
	var entry boltEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s from bolt: %w", key, err)
	}
	if !found || (entry.ExpiresAt != 0 && s.now().UnixNano() >= entry.ExpiresAt) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (s *BoltStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := boltEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl).UnixNano()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), raw)
	})
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Clear recreates the bucket.
func (s *BoltStore) Clear(context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}
