package vault

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/stash/internal/artifact"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/kv"
)

const day = 24 * time.Hour

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newVault(t *testing.T, maxCapacity int) (*Vault, *testClock, *kv.Memory) {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	store := kv.NewMemory(0)
	v := New(store, Options{
		MaxCapacity:            maxCapacity,
		WarningThreshold:       maxCapacity - 1,
		TrashRetention:         30 * day,
		DataMinimizationWindow: 180 * day,
		Now:                    clk.Now,
	})
	return v, clk, store
}

func art(id, title string) artifact.Artifact {
	return artifact.Artifact{
		ID:            id,
		Kind:          artifact.KindChannel,
		Title:         title,
		MetricPrimary: "1.2M subs",
		Payload:       json.RawMessage(`{"channel_id":"` + id + `"}`),
	}
}

func save(t *testing.T, v *Vault, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := v.Upsert(art(id, "title "+id))
		require.NoError(t, err)
	}
}

func ids(t *testing.T, v *Vault, scope artifact.State) []string {
	t.Helper()
	items, err := v.List(scope, Filter{})
	require.NoError(t, err)
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = a.ID
	}
	return out
}

func TestUpsert_Idempotence(t *testing.T) {
	v, _, _ := newVault(t, 50)

	_, err := v.Upsert(art("A", "X"))
	require.NoError(t, err)
	_, err = v.Upsert(art("A", "Y"))
	require.NoError(t, err)

	active, err := v.List(artifact.StateActive, Filter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "A", active[0].ID)
	assert.Equal(t, "Y", active[0].Title)
}

func TestUpsert_ReplacePreservesCreatedAt(t *testing.T) {
	v, clk, _ := newVault(t, 50)

	first, err := v.Upsert(art("A", "X"))
	require.NoError(t, err)
	created := first.CreatedAt

	clk.Advance(10 * day)
	second, err := v.Upsert(art("A", "Y"))
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.Equal(created), "createdAt must not move on replace")
	assert.True(t, second.UpdatedAt.Equal(clk.Now()))
}

func TestUpsert_MovesToFront(t *testing.T) {
	v, clk, _ := newVault(t, 50)
	save(t, v, "A", "B", "C")
	assert.Equal(t, []string{"C", "B", "A"}, ids(t, v, artifact.StateActive))

	clk.Advance(time.Minute)
	save(t, v, "A")
	assert.Equal(t, []string{"A", "C", "B"}, ids(t, v, artifact.StateActive))
}

func TestUpsert_Validation(t *testing.T) {
	v, _, _ := newVault(t, 50)

	tests := []struct {
		name string
		a    artifact.Artifact
	}{
		{"blank id", artifact.Artifact{ID: "  ", Kind: artifact.KindVideo}},
		{"unknown kind", artifact.Artifact{ID: "x", Kind: "playlist"}},
		{"bad payload", artifact.Artifact{ID: "x", Kind: artifact.KindVideo, Payload: json.RawMessage(`{`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Upsert(tt.a)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
}

func TestCapacityEnforcementScenario(t *testing.T) {
	v, _, _ := newVault(t, 3)

	save(t, v, "A", "B", "C")
	assert.ElementsMatch(t, []string{"A", "B", "C"}, ids(t, v, artifact.StateActive))

	_, err := v.Upsert(art("D", "d"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCapacityExceeded))
	assert.ElementsMatch(t, []string{"A", "B", "C"}, ids(t, v, artifact.StateActive))

	_, err = v.SoftDelete("A")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "C"}, ids(t, v, artifact.StateActive))
	assert.ElementsMatch(t, []string{"A"}, ids(t, v, artifact.StateTrashed))

	save(t, v, "D")
	assert.ElementsMatch(t, []string{"B", "C", "D"}, ids(t, v, artifact.StateActive))

	_, err = v.Restore("A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCapacityExceeded))

	_, err = v.SoftDelete("B")
	require.NoError(t, err)
	restored, err := v.Restore("A")
	require.NoError(t, err)
	assert.Nil(t, restored.TrashedAt)
	assert.ElementsMatch(t, []string{"C", "D", "A"}, ids(t, v, artifact.StateActive))
}

func TestUpsert_ReplaceAtCapacitySkipsCap(t *testing.T) {
	v, _, _ := newVault(t, 2)
	save(t, v, "A", "B")

	got, err := v.Upsert(art("A", "renamed"))
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
}

func TestUpsert_RevivesTrashedID(t *testing.T) {
	v, _, _ := newVault(t, 2)
	save(t, v, "A", "B")
	_, err := v.SoftDelete("A")
	require.NoError(t, err)

	got, err := v.Upsert(art("A", "again"))
	require.NoError(t, err)
	assert.Equal(t, artifact.StateActive, got.State)
	assert.Nil(t, got.TrashedAt)
	assert.Empty(t, ids(t, v, artifact.StateTrashed))

	// Full again: a trashed id cannot be revived through upsert either.
	_, err = v.SoftDelete("B")
	require.NoError(t, err)
	save(t, v, "C")
	_, err = v.Upsert(art("B", "b"))
	assert.True(t, errors.Is(err, errors.ErrCapacityExceeded))
}

func TestList_Filters(t *testing.T) {
	v, _, _ := newVault(t, 50)

	_, err := v.Upsert(art("c1", "Lo-Fi Beats Radio"))
	require.NoError(t, err)
	vid := art("v1", "How I edit BEATS")
	vid.Kind = artifact.KindVideo
	_, err = v.Upsert(vid)
	require.NoError(t, err)
	_, err = v.Upsert(art("c2", "Cooking"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"no filter", Filter{}, []string{"c2", "v1", "c1"}},
		{"text is case-insensitive", Filter{Text: "beats"}, []string{"v1", "c1"}},
		{"kind", Filter{Kind: "video"}, []string{"v1"}},
		{"kind all", Filter{Kind: KindAll, Text: "BEATS"}, []string{"v1", "c1"}},
		{"kind and text", Filter{Kind: "channel", Text: "beats"}, []string{"c1"}},
		{"no match", Filter{Text: "zzz"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := v.List(artifact.StateActive, tt.filter)
			require.NoError(t, err)
			got := make([]string, len(items))
			for i, a := range items {
				got[i] = a.ID
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = v.List("purged", Filter{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = v.List(artifact.StateActive, Filter{Kind: "playlist"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestList_ReturnsCopies(t *testing.T) {
	v, _, _ := newVault(t, 50)
	save(t, v, "A")

	items, err := v.List(artifact.StateActive, Filter{})
	require.NoError(t, err)
	items[0].Title = "mutated"
	items[0].Payload[0] = 'X'

	got, err := v.Get("A")
	require.NoError(t, err)
	assert.Equal(t, "title A", got.Title)
	assert.JSONEq(t, `{"channel_id":"A"}`, string(got.Payload))
}

func TestStateFlipsDoNotReorder(t *testing.T) {
	v, _, _ := newVault(t, 50)
	save(t, v, "A", "B", "C")

	_, err := v.SoftDelete("B")
	require.NoError(t, err)
	_, err = v.Restore("B")
	require.NoError(t, err)

	assert.Equal(t, []string{"C", "B", "A"}, ids(t, v, artifact.StateActive))
}

func TestNotFound(t *testing.T) {
	v, _, _ := newVault(t, 50)
	save(t, v, "active")
	save(t, v, "trashed")
	_, err := v.SoftDelete("trashed")
	require.NoError(t, err)

	_, err = v.SoftDelete("trashed")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "soft delete of trashed id")
	_, err = v.SoftDelete("missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = v.Restore("active")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "restore of active id")

	err = v.PermanentlyDelete("active")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "destroy of active id")

	_, err = v.Get("missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	got, err := v.Get("trashed")
	require.NoError(t, err)
	assert.Equal(t, artifact.StateTrashed, got.State)
}

func TestSoftDeleteAndPermanentlyDelete(t *testing.T) {
	v, clk, _ := newVault(t, 50)
	save(t, v, "A")

	clk.Advance(time.Hour)
	trashed, err := v.SoftDelete("A")
	require.NoError(t, err)
	assert.Equal(t, artifact.StateTrashed, trashed.State)
	require.NotNil(t, trashed.TrashedAt)
	assert.True(t, trashed.TrashedAt.Equal(clk.Now()))

	require.NoError(t, v.PermanentlyDelete("A"))
	_, err = v.Get("A")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPurgeExpired_TrashBoundary(t *testing.T) {
	v, clk, _ := newVault(t, 50)
	save(t, v, "A")
	_, err := v.SoftDelete("A")
	require.NoError(t, err)
	trashedAt := clk.Now()

	res, err := v.PurgeExpired(trashedAt.Add(30 * day))
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{}, res, "exactly at retention is retained")
	assert.Equal(t, []string{"A"}, ids(t, v, artifact.StateTrashed))

	res, err = v.PurgeExpired(trashedAt.Add(30*day + time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{TrashExpired: 1}, res)
	assert.Empty(t, ids(t, v, artifact.StateTrashed))
}

func TestPurgeExpired_DataMinimizationBoundary(t *testing.T) {
	v, clk, _ := newVault(t, 50)
	created := clk.Now()
	save(t, v, "active", "trashed")

	// Re-saving later must not extend the horizon.
	clk.Advance(100 * day)
	save(t, v, "active")
	clk.Advance(70 * day)
	_, err := v.SoftDelete("trashed")
	require.NoError(t, err)

	res, err := v.PurgeExpired(created.Add(180 * day))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total())

	res, err = v.PurgeExpired(created.Add(180*day + time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Minimized: 2}, res)
	assert.Empty(t, ids(t, v, artifact.StateActive))
	assert.Empty(t, ids(t, v, artifact.StateTrashed))

	again, err := v.PurgeExpired(created.Add(365 * day))
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{}, again)
}

func TestClearVault(t *testing.T) {
	v, clk, _ := newVault(t, 50)
	save(t, v, "A", "B", "C")
	_, err := v.SoftDelete("A")
	require.NoError(t, err)
	firstTrash := clk.Now()

	clk.Advance(time.Hour)
	n, err := v.ClearVault()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, ids(t, v, artifact.StateActive))
	assert.ElementsMatch(t, []string{"A", "B", "C"}, ids(t, v, artifact.StateTrashed))

	a, err := v.Get("A")
	require.NoError(t, err)
	assert.True(t, a.TrashedAt.Equal(firstTrash), "already trashed items keep their trashedAt")

	n, err = v.ClearVault()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmptyTrash(t *testing.T) {
	v, _, _ := newVault(t, 50)
	save(t, v, "A", "B")
	_, err := v.SoftDelete("A")
	require.NoError(t, err)

	n, err := v.EmptyTrash()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"B"}, ids(t, v, artifact.StateActive))
	assert.Empty(t, ids(t, v, artifact.StateTrashed))
}

func TestUsage(t *testing.T) {
	v, _, _ := newVault(t, 3)
	save(t, v, "A")

	u, err := v.Usage()
	require.NoError(t, err)
	assert.Equal(t, Usage{Active: 1, Capacity: 3, WarningThreshold: 2}, u)

	save(t, v, "B")
	u, err = v.Usage()
	require.NoError(t, err)
	assert.True(t, u.NearCapacity)
	assert.False(t, u.Full)

	save(t, v, "C")
	_, err = v.SoftDelete("C")
	require.NoError(t, err)
	save(t, v, "D")
	u, err = v.Usage()
	require.NoError(t, err)
	assert.Equal(t, 3, u.Active)
	assert.Equal(t, 1, u.Trashed)
	assert.True(t, u.Full)
}

func TestLoad_CorruptCollectionSelfHeals(t *testing.T) {
	v, _, store := newVault(t, 50)
	require.NoError(t, store.Set(StorageKey, []byte(`{"items":[{"id":`)))

	items, err := v.List(artifact.StateActive, Filter{})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, ok, err := store.Get(StorageKey)
	require.NoError(t, err)
	assert.False(t, ok, "corrupt key is dropped")

	save(t, v, "fresh")
	assert.Equal(t, []string{"fresh"}, ids(t, v, artifact.StateActive))
}

func TestWriteFailure_LeavesStateUnchanged(t *testing.T) {
	v, _, store := newVault(t, 50)
	save(t, v, "A")

	store.FailWrites(func(string) error { return kv.ErrQuotaExceeded })

	_, err := v.Upsert(art("B", "b"))
	assert.True(t, errors.Is(err, errors.ErrStorageWriteFailure))
	_, err = v.SoftDelete("A")
	assert.True(t, errors.Is(err, errors.ErrStorageWriteFailure))
	_, err = v.ClearVault()
	assert.True(t, errors.Is(err, errors.ErrStorageWriteFailure))

	store.FailWrites(nil)
	assert.Equal(t, []string{"A"}, ids(t, v, artifact.StateActive))
	assert.Empty(t, ids(t, v, artifact.StateTrashed))
}

func TestZeroLimitsDisabled(t *testing.T) {
	clk := &testClock{t: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	v := New(kv.NewMemory(0), Options{Now: clk.Now})

	for i := range 60 {
		save(t, v, fmt.Sprintf("id-%02d", i))
	}
	_, err := v.SoftDelete("id-00")
	require.NoError(t, err)

	res, err := v.PurgeExpired(clk.Now().Add(10000 * day))
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{}, res)

	u, err := v.Usage()
	require.NoError(t, err)
	assert.Equal(t, 59, u.Active)
	assert.Equal(t, 1, u.Trashed)
	assert.False(t, u.Full)
	assert.False(t, u.NearCapacity)
}

func TestReadFailure_NothingIsOverwritten(t *testing.T) {
	v, clk, store := newVault(t, 50)
	save(t, v, "A", "B", "C")
	_, err := v.SoftDelete("A")
	require.NoError(t, err)
	before, _, err := store.Get(StorageKey)
	require.NoError(t, err)

	store.FailReads(func(string) error { return stderrors.New("database is locked") })

	_, err = v.Upsert(art("D", "d"))
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure), "upsert: %v", err)
	_, err = v.Get("B")
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))
	_, err = v.List(artifact.StateActive, Filter{})
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))
	_, err = v.SoftDelete("B")
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))
	_, err = v.Restore("A")
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))
	assert.True(t, errors.Is(v.PermanentlyDelete("A"), errors.ErrStorageReadFailure))
	_, err = v.ClearVault()
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))
	_, err = v.EmptyTrash()
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))
	_, err = v.PurgeExpired(clk.Now().Add(400 * day))
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))
	_, err = v.Usage()
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))
	_, err = v.Import(exportOf(t, imported("E", "e", clk.Now())), ImportModeReplace)
	assert.True(t, errors.Is(err, errors.ErrStorageReadFailure))

	store.FailReads(nil)
	after, ok, err := store.Get(StorageKey)
	require.NoError(t, err)
	require.True(t, ok, "the collection must not be dropped")
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"C", "B"}, ids(t, v, artifact.StateActive))
	assert.Equal(t, []string{"A"}, ids(t, v, artifact.StateTrashed))
}

func TestPersistsAcrossInstances(t *testing.T) {
	v, clk, store := newVault(t, 50)
	save(t, v, "A", "B")

	other := New(store, Options{MaxCapacity: 50, Now: clk.Now})
	assert.Equal(t, []string{"B", "A"}, ids(t, other, artifact.StateActive))
}
