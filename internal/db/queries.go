package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/stash/internal/kv"
)

// Store is a kv.Substrate backed by the kv table.
type Store struct {
	db       *sql.DB
	maxBytes int64
}

var _ kv.Substrate = (*Store)(nil)

// NewStore wraps an initialized database. maxBytes <= 0 means unlimited.
func NewStore(db *sql.DB, maxBytes int64) *Store {
	return &Store{db: db, maxBytes: maxBytes}
}

// Get implements kv.Substrate.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set implements kv.Substrate. When a quota is configured the size check
// and the write share one transaction.
func (s *Store) Set(key string, value []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.maxBytes > 0 {
		var used, old int64
		if err := tx.QueryRow("SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(value)), 0) FROM kv").Scan(&used); err != nil {
			return err
		}
		err := tx.QueryRow("SELECT LENGTH(CAST(key AS BLOB)) + LENGTH(value) FROM kv WHERE key = ?", key).Scan(&old)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if used-old+int64(len(key)+len(value)) > s.maxBytes {
			return kv.ErrQuotaExceeded
		}
	}

	_, err = tx.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Delete implements kv.Substrate.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// Keys implements kv.Substrate.
func (s *Store) Keys(prefix string) ([]string, error) {
	// LIKE would treat % and _ in prefix as wildcards; a range scan on the
	// primary key does not.
	rows, err := s.db.Query("SELECT key FROM kv WHERE key >= ? ORDER BY key ASC", prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(k, prefix) {
			break
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
