// Package syslog keeps a small journal of system events in the syslog cache
// namespace. Entries are keyed by ULID so key order is chronological, and
// are read with GetRaw so reading never evicts them; only Trim does.
package syslog

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/stash/internal/cache"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/kv"
)

// Levels
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry is a single journal line.
type Entry struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Record is an Entry together with its key and timestamp.
type Record struct {
	ID      string         `json:"id"`
	At      time.Time      `json:"at"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Journal appends and reads system log entries.
type Journal struct {
	entries *cache.ExpiringCache[Entry]
	now     func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a Journal over store. now may be nil to use time.Now.
func New(store kv.Substrate, now func() time.Time, logger *zap.Logger) *Journal {
	if now == nil {
		now = time.Now
	}
	return &Journal{
		entries: cache.New[Entry](store, cache.NamespaceSyslog, cache.WithClock(now), cache.WithLogger(logger)),
		now:     now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Append stores a new entry and returns its id.
func (j *Journal) Append(level, message string, fields map[string]any) (string, error) {
	switch level {
	case LevelInfo, LevelWarn, LevelError:
	default:
		return "", errors.NewInvalidRequest("level must be one of: info, warn, error")
	}

	id, err := j.newID()
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if err := j.entries.Put(id, Entry{Level: level, Message: message, Fields: fields}); err != nil {
		return "", err
	}
	return id, nil
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (j *Journal) Recent(n int) ([]Record, error) {
	keys, err := j.entries.Keys()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, min(len(keys), max(n, 0)))
	for i := len(keys) - 1; i >= 0; i-- {
		if n > 0 && len(records) == n {
			break
		}
		e, ok := j.entries.GetRaw(keys[i])
		if !ok {
			continue
		}
		records = append(records, Record{
			ID:      keys[i],
			At:      e.StoredAt,
			Level:   e.Value.Level,
			Message: e.Value.Message,
			Fields:  e.Value.Fields,
		})
	}
	return records, nil
}

// Trim deletes entries older than maxAge and returns how many were removed.
func (j *Journal) Trim(maxAge time.Duration) (int, error) {
	keys, err := j.entries.Keys()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		// Get evicts stale entries as a side effect.
		if _, fresh := j.entries.Get(k, maxAge); !fresh {
			removed++
		}
	}
	return removed, nil
}

// Clear deletes every entry.
func (j *Journal) Clear() (int, error) {
	return j.entries.Clear()
}

func (j *Journal) newID() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(j.now()), j.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
