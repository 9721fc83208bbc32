package artifact

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Kind is the type of analyzed subject an artifact snapshots.
type Kind string

const (
	KindChannel            Kind = "channel"
	KindVideo              Kind = "video"
	KindOutlier            Kind = "outlier"
	KindTrend              Kind = "trend"
	KindThumbnailStrategy  Kind = "thumbnailStrategy"
	KindAlgorithmDiagnosis Kind = "algorithmDiagnosis"
	KindMyChannel          Kind = "myChannel"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{
	KindChannel, KindVideo, KindOutlier, KindTrend,
	KindThumbnailStrategy, KindAlgorithmDiagnosis, KindMyChannel,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// State is an artifact's lifecycle state. Purged artifacts are simply absent.
type State string

const (
	StateActive  State = "active"
	StateTrashed State = "trashed"
)

// Artifact is a user-saved snapshot of an analyzed subject.
type Artifact struct {
	// ID is supplied by the producer and unique across active and trashed items
	ID string `json:"id"`

	// Kind is the type of subject
	Kind Kind `json:"kind"`

	// Title is the display title; list text filters match against it
	Title string `json:"title"`

	// ThumbnailRef is an optional image reference
	ThumbnailRef *string `json:"thumbnail_ref,omitempty"`

	// MetricPrimary and MetricSecondary are preformatted headline metrics
	MetricPrimary   string `json:"metric_primary"`
	MetricSecondary string `json:"metric_secondary"`

	// ExternalURL optionally links to the subject on the provider's site
	ExternalURL *string `json:"external_url,omitempty"`

	// Payload is the producer's opaque snapshot body
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is when the id was first saved; it bounds the artifact's lifetime
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last upsert time
	UpdatedAt time.Time `json:"updated_at"`

	// State is the lifecycle state
	State State `json:"state"`

	// TrashedAt is set if and only if State is StateTrashed
	TrashedAt *time.Time `json:"trashed_at,omitempty"`
}

// Clone returns a deep copy so callers never share memory with the vault.
func (a Artifact) Clone() Artifact {
	out := a
	if a.ThumbnailRef != nil {
		v := *a.ThumbnailRef
		out.ThumbnailRef = &v
	}
	if a.ExternalURL != nil {
		v := *a.ExternalURL
		out.ExternalURL = &v
	}
	if a.TrashedAt != nil {
		v := *a.TrashedAt
		out.TrashedAt = &v
	}
	if a.Payload != nil {
		out.Payload = slices.Clone(a.Payload)
	}
	return out
}

// MatchesTitle reports whether query is a case-insensitive substring of the
// title. An empty or blank query matches everything.
func (a Artifact) MatchesTitle(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(a.Title), strings.ToLower(q))
}
