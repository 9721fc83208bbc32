package vault

import (
	"bufio"
	"bytes"
	"cmp"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/stash/internal/artifact"
	"github.com/hpungsan/stash/internal/errors"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on collision, nothing is written
	ImportModeReplace ImportMode = "replace" // overwrite on collision
	ImportModeSkip    ImportMode = "skip"    // keep the existing artifact on collision
)

// ExportResult describes a finished export.
type ExportResult struct {
	Path       string `json:"path,omitempty"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ImportResult describes a finished import.
type ImportResult struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// ImportError is a per-line problem found while importing.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 4 << 20

// Export writes a header line followed by every artifact, active and
// trashed, in collection order.
func (v *Vault) Export(w io.Writer) (*ExportResult, error) {
	items, err := v.load()
	if err != nil {
		return nil, err
	}
	res := &ExportResult{ExportedAt: v.now().Unix()}

	enc := json.NewEncoder(w)
	header := artifact.ExportHeader{
		StashExport:   true,
		SchemaVersion: artifact.ExportSchemaVersion,
		ExportedAt:    res.ExportedAt,
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}
	for _, a := range items {
		if err := enc.Encode(a); err != nil {
			return nil, errors.NewInternal(err)
		}
		res.Count++
	}
	return res, nil
}

// ExportFile exports to path. The file is written to a temporary sibling
// and renamed into place, so an existing export survives a failed run.
func (v *Vault) ExportFile(path string) (*ExportResult, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	bw := bufio.NewWriter(file)
	res, err := v.Export(bw)
	if err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	res.Path = path
	return res, nil
}

// ImportFile imports the JSONL export at path.
func (v *Vault) ImportFile(path string, mode ImportMode) (*ImportResult, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	file, err := openFileNoFollowRead(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return v.Import(file, mode)
}

// Import merges an export stream into the vault. Imported artifacts keep
// their own timestamps and state; expired ones go at the next purge.
//
// In error mode any bad line or id collision aborts the import. In the other
// modes bad lines are reported and skipped. Nothing is written if the
// resulting active set would exceed the cap.
func (v *Vault) Import(r io.Reader, mode ImportMode) (*ImportResult, error) {
	if mode == "" {
		mode = ImportModeError
	}
	if mode != ImportModeError && mode != ImportModeReplace && mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace, skip")
	}

	records, parseErrors, err := parseExport(r)
	if err != nil {
		return nil, err
	}
	if mode == ImportModeError && len(parseErrors) > 0 {
		pe := parseErrors[0]
		return nil, errors.NewInvalidRequest(fmt.Sprintf("line %d: %s", pe.Line, pe.Message))
	}

	res := &ImportResult{Errors: parseErrors, Skipped: len(parseErrors)}
	items, err := v.load()
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		i := indexOf(items, rec.ID)
		switch {
		case i < 0:
			items = append(items, rec)
			res.Imported++
		case mode == ImportModeReplace:
			items[i] = rec
			res.Imported++
		case mode == ImportModeSkip:
			res.Skipped++
		default:
			return nil, errors.NewAlreadyExists(rec.ID)
		}
	}

	if res.Imported == 0 {
		return res, nil
	}
	if v.opts.MaxCapacity > 0 && countActive(items) > v.opts.MaxCapacity {
		return nil, errors.NewCapacityExceeded(v.opts.MaxCapacity)
	}

	// Collection order is upsert recency, which UpdatedAt records.
	slices.SortStableFunc(items, func(a, b artifact.Artifact) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if err := v.save(items); err != nil {
		return nil, err
	}
	v.log.Info("imported artifacts",
		zap.String("mode", string(mode)),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// parseExport reads every line of an export. A missing or unsupported
// header fails the whole stream; bad records are returned as ImportErrors.
func parseExport(r io.Reader) ([]artifact.Artifact, []ImportError, error) {
	var records []artifact.Artifact
	var parseErrors []ImportError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNum := 0
	sawHeader := false

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec artifact.ExportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			if !sawHeader {
				return nil, nil, errors.NewInvalidRequest("not a stash export: missing header")
			}
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}

		if !sawHeader {
			if !rec.StashExport {
				return nil, nil, errors.NewInvalidRequest("not a stash export: missing header")
			}
			if major(rec.SchemaVersion) != major(artifact.ExportSchemaVersion) {
				return nil, nil, errors.NewInvalidRequest("unsupported export schema version: " + rec.SchemaVersion)
			}
			sawHeader = true
			continue
		}

		a := rec.Artifact
		if msg := checkImported(&a); msg != "" {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				ID:      a.ID,
				Code:    "INVALID_RECORD",
				Message: msg,
			})
			continue
		}
		records = append(records, a)
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, errors.NewInvalidRequest(fmt.Sprintf("failed to read export: %v", err))
	}
	if !sawHeader {
		return nil, nil, errors.NewInvalidRequest("not a stash export: missing header")
	}

	// The last occurrence of an id within one file wins.
	seen := make(map[string]int, len(records))
	deduped := records[:0]
	for _, rec := range records {
		if j, ok := seen[rec.ID]; ok {
			deduped[j] = rec
			continue
		}
		seen[rec.ID] = len(deduped)
		deduped = append(deduped, rec)
	}
	return deduped, parseErrors, nil
}

// checkImported normalizes a decoded artifact and returns a message when it
// cannot be accepted.
func checkImported(a *artifact.Artifact) string {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return "missing id field"
	}
	if !a.Kind.Valid() {
		return "invalid kind: " + string(a.Kind)
	}
	if a.CreatedAt.IsZero() {
		return "missing created_at"
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	switch cmp.Or(a.State, artifact.StateActive) {
	case artifact.StateActive:
		a.State = artifact.StateActive
		a.TrashedAt = nil
	case artifact.StateTrashed:
		if a.TrashedAt == nil {
			return "trashed artifact without trashed_at"
		}
	default:
		return "invalid state: " + string(a.State)
	}
	return ""
}

func major(version string) string {
	before, _, _ := strings.Cut(version, ".")
	return before
}
