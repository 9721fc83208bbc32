package kv

import (
	"sort"
	"strings"
	"sync"
)

// Memory is a map-backed Substrate. It is used as the in-process fake for
// tests and for the "memory" backend.
type Memory struct {
	mu       sync.RWMutex
	data     map[string][]byte
	used     int64
	maxBytes int64
	failSet  func(key string) error
	failGet  func(key string) error
}

// NewMemory creates an empty Memory store. maxBytes <= 0 means unlimited.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

// FailWrites installs a hook consulted before every Set. A non-nil return
// aborts the write with that error. Pass nil to remove the hook.
func (m *Memory) FailWrites(fn func(key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet = fn
}

// FailReads installs a hook consulted before every Get, like FailWrites.
func (m *Memory) FailReads(fn func(key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet = fn
}

// Get implements Substrate.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failGet != nil {
		if err := m.failGet(key); err != nil {
			return nil, false, err
		}
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements Substrate.
func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		if err := m.failSet(key); err != nil {
			return err
		}
	}

	next := m.used + entrySize(key, value)
	if old, ok := m.data[key]; ok {
		next -= entrySize(key, old)
	}
	if m.maxBytes > 0 && next > m.maxBytes {
		return ErrQuotaExceeded
	}

	m.data[key] = append([]byte(nil), value...)
	m.used = next
	return nil
}

// Delete implements Substrate.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= entrySize(key, old)
		delete(m.data, key)
	}
	return nil
}

// Keys implements Substrate.
func (m *Memory) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Used returns the number of bytes currently counted against the quota.
func (m *Memory) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}
