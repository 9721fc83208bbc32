package kv

import (
	"bytes"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bolt is a Substrate persisted in a single bbolt bucket.
// It is safe for concurrent use by multiple goroutines.
type Bolt struct {
	db       *bolt.DB
	bucket   []byte
	maxBytes int64

	mu   sync.Mutex
	used int64
}

// BoltOptions configures OpenBolt.
type BoltOptions struct {
	// Bucket is the name of the bbolt bucket to use. Defaults to "stash".
	Bucket string
	// MaxBytes caps the summed size of all keys and values. <= 0 is unlimited.
	MaxBytes int64
}

// OpenBolt initializes or opens a Bolt store at the given path.
func OpenBolt(path string, opts BoltOptions) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	bucket := []byte("stash")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}

	var used int64
	if err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			used += int64(len(k) + len(v))
			return nil
		})
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Bolt{db: db, bucket: bucket, maxBytes: opts.MaxBytes, used: used}, nil
}

// Close closes the underlying database.
func (s *Bolt) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements Substrate.
func (s *Bolt) Get(key string) ([]byte, bool, error) {
	var out []byte
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		exists = true
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, exists, nil
}

// Set implements Substrate.
func (s *Bolt) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		next = s.used + entrySize(key, value)
		if old := b.Get([]byte(key)); old != nil {
			next -= entrySize(key, old)
		}
		if s.maxBytes > 0 && next > s.maxBytes {
			return ErrQuotaExceeded
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return err
	}
	s.used = next
	return nil
}

// Delete implements Substrate.
func (s *Bolt) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var freed int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if old := b.Get([]byte(key)); old != nil {
			freed = entrySize(key, old)
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	s.used -= freed
	return nil
}

// Keys implements Substrate. bbolt keeps keys in byte order, so the
// result is already sorted.
func (s *Bolt) Keys(prefix string) ([]string, error) {
	keys := make([]string, 0)
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
