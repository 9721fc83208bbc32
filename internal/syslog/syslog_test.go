package syslog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/kv"
)

func TestAppendRecent_NewestFirst(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	j := New(kv.NewMemory(0), clock, nil)

	for _, msg := range []string{"first", "second", "third"} {
		_, err := j.Append(LevelInfo, msg, nil)
		require.NoError(t, err)
	}
	// Same-millisecond entries still sort by append order.
	now = now.Add(time.Second)
	_, err := j.Append(LevelWarn, "fourth", map[string]any{"purged": 2})
	require.NoError(t, err)

	all, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "fourth", all[0].Message)
	assert.Equal(t, LevelWarn, all[0].Level)
	assert.Equal(t, float64(2), all[0].Fields["purged"])
	assert.Equal(t, "first", all[3].Message)

	two, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, []string{"fourth", "third"}, []string{two[0].Message, two[1].Message})
}

func TestAppend_InvalidLevel(t *testing.T) {
	j := New(kv.NewMemory(0), nil, nil)

	_, err := j.Append("chatty", "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestRecent_DoesNotEvict(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	j := New(kv.NewMemory(0), func() time.Time { return now }, nil)

	_, err := j.Append(LevelInfo, "old news", nil)
	require.NoError(t, err)
	now = now.Add(400 * 24 * time.Hour)

	records, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "old news", records[0].Message)
}

func TestTrim(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	j := New(kv.NewMemory(0), func() time.Time { return now }, nil)

	_, err := j.Append(LevelInfo, "old", nil)
	require.NoError(t, err)
	now = now.Add(48 * time.Hour)
	_, err = j.Append(LevelInfo, "new", nil)
	require.NoError(t, err)

	removed, err := j.Trim(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	records, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Message)
}

func TestAppend_WriteFailure(t *testing.T) {
	store := kv.NewMemory(0)
	store.FailWrites(func(string) error { return kv.ErrQuotaExceeded })
	j := New(store, nil, nil)

	_, err := j.Append(LevelError, "cannot persist", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageWriteFailure))
}

func TestClear(t *testing.T) {
	store := kv.NewMemory(0)
	j := New(store, nil, nil)
	require.NoError(t, store.Set("vault:artifacts", []byte("{}")))

	_, err := j.Append(LevelInfo, "a", nil)
	require.NoError(t, err)

	n, err := j.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := store.Get("vault:artifacts")
	require.NoError(t, err)
	assert.True(t, ok)
}
