package artifact

// ExportHeader is the first line of a JSONL vault export.
type ExportHeader struct {
	StashExport   bool   `json:"_stash_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportSchemaVersion is written into every export header.
const ExportSchemaVersion = "1.0"

// ExportRecord is one line of a JSONL export. It carries either the header
// fields or an artifact, so a reader can decode every line into it.
type ExportRecord struct {
	// Header detection field - true only for header line
	StashExport bool `json:"_stash_export,omitempty"`

	// Header fields (only present in header line)
	SchemaVersion string `json:"schema_version,omitempty"`
	ExportedAt    int64  `json:"exported_at,omitempty"`

	Artifact
}
