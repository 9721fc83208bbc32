// Package cache implements a time-to-live read-through cache over a kv.Substrate.
//
// Each ExpiringCache owns one namespace and persists every entry under its own
// key, "cache:<namespace>:<key>". Freshness is decided by the reader: Get takes
// the maximum acceptable age per call, so two callers may apply different
// windows to the same entry.
package cache

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/kv"
	"github.com/hpungsan/stash/internal/logging"
)

// Namespaces used by the application.
const (
	NamespaceAPI      = "api"
	NamespaceVelocity = "velocity"
	NamespaceSyslog   = "syslog"
)

// Entry is a cached value and the time it was stored.
type Entry[T any] struct {
	Value    T
	StoredAt time.Time
}

// record is the persisted form of an Entry.
type record[T any] struct {
	Value    T     `json:"value"`
	StoredAt int64 `json:"stored_at"` // unix nanoseconds
}

// Option configures an ExpiringCache.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for write failures and self-healing reads.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ExpiringCache is a TTL cache for values of type T.
type ExpiringCache[T any] struct {
	store     kv.Substrate
	namespace string
	prefix    string
	now       func() time.Time
	log       *zap.Logger
}

// New creates a cache over store for the given namespace.
func New[T any](store kv.Substrate, namespace string, opts ...Option) *ExpiringCache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &ExpiringCache[T]{
		store:     store,
		namespace: namespace,
		prefix:    "cache:" + namespace + ":",
		now:       o.now,
		log:       logging.OrNop(o.logger).With(zap.String("cache", namespace)),
	}
}

// Namespace returns the cache's namespace.
func (c *ExpiringCache[T]) Namespace() string {
	return c.namespace
}

// Put overwrites any entry for key, stamping the current time.
// A substrate rejection is logged and returned as StorageWriteFailure;
// entries stored under other keys are unaffected.
func (c *ExpiringCache[T]) Put(key string, value T) error {
	data, err := json.Marshal(record[T]{Value: value, StoredAt: c.now().UnixNano()})
	if err != nil {
		return errors.NewInvalidRequest("value is not serializable: " + err.Error())
	}

	storeKey := c.prefix + key
	if err := c.store.Set(storeKey, data); err != nil {
		c.log.Error("cache write failed", zap.String("key", storeKey), zap.Error(err))
		return errors.NewStorageWriteFailure(storeKey, err)
	}
	return nil
}

// Get returns the value for key if it is no older than maxAge.
// A stale entry is deleted and reported as a miss.
func (c *ExpiringCache[T]) Get(key string, maxAge time.Duration) (T, bool) {
	var zero T
	entry, ok := c.GetRaw(key)
	if !ok {
		return zero, false
	}
	if c.now().Sub(entry.StoredAt) > maxAge {
		c.drop(c.prefix+key, "stale")
		return zero, false
	}
	return entry.Value, true
}

// GetRaw returns the entry for key regardless of age.
func (c *ExpiringCache[T]) GetRaw(key string) (Entry[T], bool) {
	storeKey := c.prefix + key
	data, ok, err := c.store.Get(storeKey)
	if err != nil {
		c.log.Warn("cache read failed", zap.String("key", storeKey), zap.Error(err))
		return Entry[T]{}, false
	}
	if !ok {
		return Entry[T]{}, false
	}

	var rec record[T]
	if err := json.Unmarshal(data, &rec); err != nil || rec.StoredAt == 0 {
		c.heal(storeKey, err)
		return Entry[T]{}, false
	}
	storedAt := time.Unix(0, rec.StoredAt)
	if storedAt.After(c.now()) {
		// storedAt <= now must always hold; a future stamp means the
		// payload cannot be trusted.
		c.heal(storeKey, nil)
		return Entry[T]{}, false
	}

	return Entry[T]{Value: rec.Value, StoredAt: storedAt}, true
}

// Delete removes the entry for key.
func (c *ExpiringCache[T]) Delete(key string) error {
	storeKey := c.prefix + key
	if err := c.store.Delete(storeKey); err != nil {
		c.log.Error("cache delete failed", zap.String("key", storeKey), zap.Error(err))
		return errors.NewStorageWriteFailure(storeKey, err)
	}
	return nil
}

// Keys returns the logical keys currently stored, ascending.
func (c *ExpiringCache[T]) Keys() ([]string, error) {
	storeKeys, err := c.store.Keys(c.prefix)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	keys := make([]string, len(storeKeys))
	for i, k := range storeKeys {
		keys[i] = strings.TrimPrefix(k, c.prefix)
	}
	return keys, nil
}

// Clear removes every entry in this cache's namespace and nothing else.
// It returns the number of entries removed.
func (c *ExpiringCache[T]) Clear() (int, error) {
	storeKeys, err := c.store.Keys(c.prefix)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	removed := 0
	for _, k := range storeKeys {
		if err := c.store.Delete(k); err != nil {
			c.log.Error("cache clear failed", zap.String("key", k), zap.Error(err))
			return removed, errors.NewStorageWriteFailure(k, err)
		}
		removed++
	}
	return removed, nil
}

func (c *ExpiringCache[T]) heal(storeKey string, cause error) {
	c.log.Warn("dropping corrupt cache entry",
		zap.String("key", storeKey),
		zap.Error(errors.NewStorageReadCorruption(storeKey, cause)))
	c.drop(storeKey, "corrupt")
}

func (c *ExpiringCache[T]) drop(storeKey, reason string) {
	if err := c.store.Delete(storeKey); err != nil {
		c.log.Warn("cache evict failed", zap.String("key", storeKey), zap.String("reason", reason), zap.Error(err))
	}
}
