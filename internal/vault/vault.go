// Package vault stores user-curated artifacts with a soft-delete lifecycle.
//
// Every artifact is either active or trashed; purged artifacts are gone.
// The whole collection is persisted as one JSON document under StorageKey
// and rewritten on every mutation, in most-recently-upserted-first order.
// Lifecycle flips never reorder it. Two processes writing the same profile
// overwrite each other's changes: last writer wins.
package vault

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/stash/internal/artifact"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/kv"
	"github.com/hpungsan/stash/internal/logging"
)

// StorageKey is the substrate key holding the serialized vault.
const StorageKey = "vault:artifacts"

// KindAll disables kind filtering in List.
const KindAll = "all"

// Options configures a Vault. A zero limit disables that limit.
type Options struct {
	// MaxCapacity caps the active set. <= 0 means unlimited.
	MaxCapacity int
	// WarningThreshold is advisory and only reported through Usage.
	WarningThreshold int
	// TrashRetention is how long a trashed artifact is kept. Zero keeps
	// trash until it is emptied.
	TrashRetention time.Duration
	// DataMinimizationWindow is the maximum age of any artifact. Zero
	// disables the age limit.
	DataMinimizationWindow time.Duration
	Now                    func() time.Time
	Logger                 *zap.Logger
}

// Filter narrows List results.
type Filter struct {
	// Text is matched case-insensitively as a substring of the title.
	Text string `json:"text,omitempty"`
	// Kind restricts results to one kind. Empty or "all" matches every kind.
	Kind string `json:"kind,omitempty"`
}

// PurgeResult reports what PurgeExpired removed.
type PurgeResult struct {
	TrashExpired int `json:"trash_expired"`
	Minimized    int `json:"minimized"`
}

// Total returns the number of artifacts removed.
func (r PurgeResult) Total() int {
	return r.TrashExpired + r.Minimized
}

// Usage summarizes how full the vault is.
type Usage struct {
	Active           int  `json:"active"`
	Trashed          int  `json:"trashed"`
	Capacity         int  `json:"capacity"`
	WarningThreshold int  `json:"warning_threshold"`
	NearCapacity     bool `json:"near_capacity"`
	Full             bool `json:"full"`
}

// Vault is the artifact collection store.
type Vault struct {
	store kv.Substrate
	opts  Options
	now   func() time.Time
	log   *zap.Logger
}

type document struct {
	Version int                 `json:"version"`
	Items   []artifact.Artifact `json:"items"`
}

// New creates a Vault over store.
func New(store kv.Substrate, opts Options) *Vault {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Vault{
		store: store,
		opts:  opts,
		now:   now,
		log:   logging.OrNop(opts.Logger).With(zap.String("component", "vault")),
	}
}

// Upsert inserts a or replaces the artifact with the same id, and moves it
// to the front of the collection.
//
// Replacing an active id never consults the cap. Saving a new id, or an id
// that is currently trashed, while the active set is full fails with
// CapacityExceeded; nothing is evicted to make room. Replacing keeps the
// original CreatedAt so re-saving never extends the data-minimization horizon.
func (v *Vault) Upsert(a artifact.Artifact) (*artifact.Artifact, error) {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if !a.Kind.Valid() {
		return nil, errors.NewInvalidRequest("invalid kind: " + string(a.Kind))
	}
	if len(a.Payload) > 0 && !json.Valid(a.Payload) {
		return nil, errors.NewInvalidRequest("payload must be valid JSON")
	}

	items, err := v.load()
	if err != nil {
		return nil, err
	}
	now := v.now()

	a = a.Clone()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.State = artifact.StateActive
	a.TrashedAt = nil

	i := indexOf(items, a.ID)
	if i >= 0 {
		if items[i].State != artifact.StateActive && v.full(items) {
			return nil, errors.NewCapacityExceeded(v.opts.MaxCapacity)
		}
		a.CreatedAt = items[i].CreatedAt
		items = slices.Delete(items, i, i+1)
	} else if v.full(items) {
		return nil, errors.NewCapacityExceeded(v.opts.MaxCapacity)
	}

	items = slices.Insert(items, 0, a)
	if err := v.save(items); err != nil {
		return nil, err
	}
	out := a.Clone()
	return &out, nil
}

// Get returns the artifact with id in either state.
func (v *Vault) Get(id string) (*artifact.Artifact, error) {
	items, err := v.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(items, id)
	if i < 0 {
		return nil, errors.NewNotFound(id, "")
	}
	out := items[i].Clone()
	return &out, nil
}

// List returns the artifacts in scope that match filter, most recently
// upserted first.
func (v *Vault) List(scope artifact.State, filter Filter) ([]artifact.Artifact, error) {
	if scope == "" {
		scope = artifact.StateActive
	}
	if scope != artifact.StateActive && scope != artifact.StateTrashed {
		return nil, errors.NewInvalidRequest("scope must be one of: active, trashed")
	}
	kind := artifact.Kind(strings.TrimSpace(filter.Kind))
	if kind == KindAll {
		kind = ""
	}
	if kind != "" && !kind.Valid() {
		return nil, errors.NewInvalidRequest("invalid kind: " + string(kind))
	}

	items, err := v.load()
	if err != nil {
		return nil, err
	}
	out := make([]artifact.Artifact, 0)
	for _, a := range items {
		if a.State != scope {
			continue
		}
		if kind != "" && a.Kind != kind {
			continue
		}
		if !a.MatchesTitle(filter.Text) {
			continue
		}
		out = append(out, a.Clone())
	}
	return out, nil
}

// SoftDelete moves an active artifact to the trash.
func (v *Vault) SoftDelete(id string) (*artifact.Artifact, error) {
	items, err := v.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(items, id)
	if i < 0 || items[i].State != artifact.StateActive {
		return nil, errors.NewNotFound(id, string(artifact.StateActive))
	}

	now := v.now()
	items[i].State = artifact.StateTrashed
	items[i].TrashedAt = &now

	if err := v.save(items); err != nil {
		return nil, err
	}
	out := items[i].Clone()
	return &out, nil
}

// Restore moves a trashed artifact back to the active set. It fails with
// CapacityExceeded when the active set is full.
func (v *Vault) Restore(id string) (*artifact.Artifact, error) {
	items, err := v.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(items, id)
	if i < 0 || items[i].State != artifact.StateTrashed {
		return nil, errors.NewNotFound(id, string(artifact.StateTrashed))
	}
	if v.full(items) {
		return nil, errors.NewCapacityExceeded(v.opts.MaxCapacity)
	}

	items[i].State = artifact.StateActive
	items[i].TrashedAt = nil

	if err := v.save(items); err != nil {
		return nil, err
	}
	out := items[i].Clone()
	return &out, nil
}

// PermanentlyDelete removes a trashed artifact for good.
func (v *Vault) PermanentlyDelete(id string) error {
	items, err := v.load()
	if err != nil {
		return err
	}
	i := indexOf(items, id)
	if i < 0 || items[i].State != artifact.StateTrashed {
		return errors.NewNotFound(id, string(artifact.StateTrashed))
	}
	return v.save(slices.Delete(items, i, i+1))
}

// ClearVault moves every active artifact to the trash and returns how many
// moved. Already trashed artifacts are untouched.
func (v *Vault) ClearVault() (int, error) {
	items, err := v.load()
	if err != nil {
		return 0, err
	}
	now := v.now()
	moved := 0
	for i := range items {
		if items[i].State != artifact.StateActive {
			continue
		}
		t := now
		items[i].State = artifact.StateTrashed
		items[i].TrashedAt = &t
		moved++
	}
	if moved == 0 {
		return 0, nil
	}
	if err := v.save(items); err != nil {
		return 0, err
	}
	return moved, nil
}

// EmptyTrash permanently deletes every trashed artifact.
func (v *Vault) EmptyTrash() (int, error) {
	items, err := v.load()
	if err != nil {
		return 0, err
	}
	before := len(items)
	kept := slices.DeleteFunc(items, func(a artifact.Artifact) bool {
		return a.State == artifact.StateTrashed
	})
	removed := before - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := v.save(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// PurgeExpired removes trashed artifacts trashed more than TrashRetention
// before now, and any artifact created more than DataMinimizationWindow
// before now regardless of state. An artifact exactly at either boundary is
// kept. Safe to call redundantly.
func (v *Vault) PurgeExpired(now time.Time) (PurgeResult, error) {
	items, err := v.load()
	if err != nil {
		return PurgeResult{}, err
	}
	var res PurgeResult

	kept := make([]artifact.Artifact, 0, len(items))
	for _, a := range items {
		switch {
		case v.opts.TrashRetention > 0 && a.State == artifact.StateTrashed &&
			a.TrashedAt != nil && now.Sub(*a.TrashedAt) > v.opts.TrashRetention:
			res.TrashExpired++
		case v.opts.DataMinimizationWindow > 0 && now.Sub(a.CreatedAt) > v.opts.DataMinimizationWindow:
			res.Minimized++
		default:
			kept = append(kept, a)
		}
	}

	if res.Total() == 0 {
		return res, nil
	}
	if err := v.save(kept); err != nil {
		return PurgeResult{}, err
	}
	v.log.Info("purged expired artifacts",
		zap.Int("trash_expired", res.TrashExpired),
		zap.Int("minimized", res.Minimized))
	return res, nil
}

// Usage reports active and trashed counts against the configured limits.
func (v *Vault) Usage() (Usage, error) {
	items, err := v.load()
	if err != nil {
		return Usage{}, err
	}
	active := countActive(items)
	u := Usage{
		Active:           active,
		Trashed:          len(items) - active,
		Capacity:         v.opts.MaxCapacity,
		WarningThreshold: v.opts.WarningThreshold,
		Full:             v.full(items),
	}
	u.NearCapacity = u.Full || (v.opts.WarningThreshold > 0 && active >= v.opts.WarningThreshold)
	return u, nil
}

func (v *Vault) full(items []artifact.Artifact) bool {
	return v.opts.MaxCapacity > 0 && countActive(items) >= v.opts.MaxCapacity
}

func countActive(items []artifact.Artifact) int {
	n := 0
	for _, a := range items {
		if a.State == artifact.StateActive {
			n++
		}
	}
	return n
}

func indexOf(items []artifact.Artifact, id string) int {
	id = strings.TrimSpace(id)
	return slices.IndexFunc(items, func(a artifact.Artifact) bool { return a.ID == id })
}

// load reads the collection. A payload that fails to parse is dropped and
// the vault starts over empty. A failed read is returned as is so that no
// caller writes over a document it could not see.
func (v *Vault) load() ([]artifact.Artifact, error) {
	data, ok, err := v.store.Get(StorageKey)
	if err != nil {
		v.log.Error("vault read failed", zap.Error(err))
		return nil, errors.NewStorageReadFailure(StorageKey, err)
	}
	if !ok {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		v.log.Warn("dropping corrupt vault", zap.Error(errors.NewStorageReadCorruption(StorageKey, err)))
		if err := v.store.Delete(StorageKey); err != nil {
			v.log.Warn("failed to drop corrupt vault", zap.Error(err))
		}
		return nil, nil
	}
	return doc.Items, nil
}

func (v *Vault) save(items []artifact.Artifact) error {
	if items == nil {
		items = []artifact.Artifact{}
	}
	data, err := json.Marshal(document{Version: 1, Items: items})
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := v.store.Set(StorageKey, data); err != nil {
		v.log.Error("vault write failed", zap.Int("items", len(items)), zap.Error(err))
		return errors.NewStorageWriteFailure(StorageKey, err)
	}
	return nil
}
