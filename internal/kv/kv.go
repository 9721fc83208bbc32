// Package kv defines the key-value substrate every persistent component is
// layered on, plus in-memory and bbolt implementations.
package kv

import "errors"

// Substrate is a synchronous, profile-scoped, string-keyed byte store.
// It offers no transactions and no cross-key atomicity. Writes may fail
// when the backing store runs out of room.
type Substrate interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)
	// Set unconditionally stores value under key.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Keys returns every key starting with prefix, sorted ascending.
	Keys(prefix string) ([]string, error)
}

// ErrQuotaExceeded is returned by Set when the write would push the store
// past its configured byte quota. The store is left unchanged.
var ErrQuotaExceeded = errors.New("kv: storage quota exceeded")

// entrySize is the number of bytes a key/value pair counts against a quota.
func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
