// Package popularity tracks free-text search queries by frequency and recency.
package popularity

import (
	"cmp"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/kv"
	"github.com/hpungsan/stash/internal/logging"
)

// StorageKey is the substrate key holding the serialized record collection.
const StorageKey = "popularity:queries"

// Mode is the kind of search a query was issued from.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeChannel Mode = "channel"
)

// QueryRecord is one tracked query, keyed by its normalized text.
type QueryRecord struct {
	Query        string    `json:"query"`
	HitCount     int       `json:"hit_count"`
	LastAccessed time.Time `json:"last_accessed"`
	Mode         Mode      `json:"mode"`
}

// PruneResult reports what a Prune pass removed.
type PruneResult struct {
	Aged     int `json:"aged"`
	Overflow int `json:"overflow"`
}

// Options configures a Tracker.
type Options struct {
	// MaxQueries is the record count the capacity pass trims down to.
	// Zero disables the capacity pass.
	MaxQueries int
	// PruneThreshold is the age past which the age pass deletes a record.
	// Zero disables the age pass.
	PruneThreshold time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
}

// Tracker records queries and evicts them by age, then by capacity.
type Tracker struct {
	store      kv.Substrate
	maxQueries int
	threshold  time.Duration
	now        func() time.Time
	log        *zap.Logger
}

type document struct {
	Version int           `json:"version"`
	Records []QueryRecord `json:"records"`
}

// New creates a Tracker over store.
func New(store kv.Substrate, opts Options) *Tracker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:      store,
		maxQueries: opts.MaxQueries,
		threshold:  opts.PruneThreshold,
		now:        now,
		log:        logging.OrNop(opts.Logger).With(zap.String("component", "popularity")),
	}
}

// Normalize trims surrounding whitespace and case-folds q.
func Normalize(q string) string {
	// Casers carry state and must not be shared across goroutines.
	return cases.Fold().String(strings.TrimSpace(q))
}

// Record counts one occurrence of query. Blank input is ignored and returns
// a nil record. An empty mode defaults to keyword.
func (t *Tracker) Record(query string, mode Mode) (*QueryRecord, error) {
	if mode == "" {
		mode = ModeKeyword
	}
	if mode != ModeKeyword && mode != ModeChannel {
		return nil, errors.NewInvalidRequest("mode must be one of: keyword, channel")
	}
	key := Normalize(query)
	if key == "" {
		return nil, nil
	}

	records, err := t.load()
	if err != nil {
		return nil, err
	}
	now := t.now()

	i := slices.IndexFunc(records, func(r QueryRecord) bool { return r.Query == key })
	if i >= 0 {
		records[i].HitCount++
		records[i].LastAccessed = now
		records[i].Mode = mode
	} else {
		records = append(records, QueryRecord{Query: key, HitCount: 1, LastAccessed: now, Mode: mode})
		i = len(records) - 1
	}
	rec := records[i]

	if err := t.save(records); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Top returns up to n records by HitCount descending. Equal counts are
// ordered by normalized query ascending. n <= 0 returns none; use All for
// every record.
func (t *Tracker) Top(n int) ([]QueryRecord, error) {
	if n <= 0 {
		return []QueryRecord{}, nil
	}
	records, err := t.All()
	if err != nil {
		return nil, err
	}
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// All returns every record in popularity order.
func (t *Tracker) All() ([]QueryRecord, error) {
	records, err := t.load()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []QueryRecord{}
	}
	slices.SortFunc(records, byPopularity)
	return records, nil
}

// Prune deletes records not accessed within the prune threshold, then trims
// the survivors to MaxQueries by dropping the lowest HitCount first (oldest
// LastAccessed first among equals). Safe to call on every read.
func (t *Tracker) Prune() (PruneResult, error) {
	records, err := t.load()
	if err != nil {
		return PruneResult{}, err
	}

	kept := slices.Clone(records)
	if t.threshold > 0 {
		cutoff := t.now().Add(-t.threshold)
		kept = slices.DeleteFunc(kept, func(r QueryRecord) bool {
			return r.LastAccessed.Before(cutoff)
		})
	}
	result := PruneResult{Aged: len(records) - len(kept)}

	if t.maxQueries > 0 && len(kept) > t.maxQueries {
		slices.SortFunc(kept, byEvictionPriority)
		result.Overflow = len(kept) - t.maxQueries
		kept = kept[result.Overflow:]
	}

	if result.Aged == 0 && result.Overflow == 0 {
		return result, nil
	}
	slices.SortFunc(kept, byPopularity)
	if err := t.save(kept); err != nil {
		return PruneResult{}, err
	}
	t.log.Info("pruned query records", zap.Int("aged", result.Aged), zap.Int("overflow", result.Overflow))
	return result, nil
}

// Clear removes every record.
func (t *Tracker) Clear() error {
	if err := t.store.Delete(StorageKey); err != nil {
		return errors.NewStorageWriteFailure(StorageKey, err)
	}
	return nil
}

// byPopularity orders by HitCount descending, then Query ascending.
func byPopularity(a, b QueryRecord) int {
	if c := cmp.Compare(b.HitCount, a.HitCount); c != 0 {
		return c
	}
	return cmp.Compare(a.Query, b.Query)
}

// byEvictionPriority puts the first record to evict first: lowest HitCount,
// then oldest LastAccessed, then Query descending.
func byEvictionPriority(a, b QueryRecord) int {
	if c := cmp.Compare(a.HitCount, b.HitCount); c != 0 {
		return c
	}
	if c := a.LastAccessed.Compare(b.LastAccessed); c != 0 {
		return c
	}
	return cmp.Compare(b.Query, a.Query)
}

// load reads the collection. A payload that fails to parse is dropped and
// the tracker starts over empty. A failed read is returned so that no caller
// writes over records it could not see.
func (t *Tracker) load() ([]QueryRecord, error) {
	data, ok, err := t.store.Get(StorageKey)
	if err != nil {
		t.log.Error("query records read failed", zap.Error(err))
		return nil, errors.NewStorageReadFailure(StorageKey, err)
	}
	if !ok {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.log.Warn("dropping corrupt query records", zap.Error(errors.NewStorageReadCorruption(StorageKey, err)))
		if err := t.store.Delete(StorageKey); err != nil {
			t.log.Warn("failed to drop corrupt query records", zap.Error(err))
		}
		return nil, nil
	}
	return doc.Records, nil
}

func (t *Tracker) save(records []QueryRecord) error {
	if records == nil {
		records = []QueryRecord{}
	}
	data, err := json.Marshal(document{Version: 1, Records: records})
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := t.store.Set(StorageKey, data); err != nil {
		t.log.Error("query records write failed", zap.Error(err))
		return errors.NewStorageWriteFailure(StorageKey, err)
	}
	return nil
}
