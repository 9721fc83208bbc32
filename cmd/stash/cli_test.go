package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/stash/internal/app"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/kv"
)

// setupTestApp creates an app over an in-memory store with a fixed clock.
func setupTestApp(t *testing.T) (*app.App, *time.Time) {
	t.Helper()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendMemory
	cfg.MaxCapacity = 2
	cfg.WarningThreshold = 1

	a, err := app.Open(cfg, t.TempDir(), nil,
		app.WithStore(kv.NewMemory(0)),
		app.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("failed to open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, &now
}

// run executes the CLI with args and returns what it wrote.
func run(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp := newCLIApp(a)
	cliApp.Writer = &out
	cliApp.ErrWriter = io.Discard
	err := cliApp.Run(append([]string{"stash"}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, a *app.App, args ...string) map[string]any {
	t.Helper()
	out, err := run(t, a, args...)
	if err != nil {
		t.Fatalf("stash %s: %v", strings.Join(args, " "), err)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output %q: %v", out, err)
	}
	return result
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected [%s] error, got nil", code)
	}
	if !strings.HasPrefix(err.Error(), "["+code+"]") {
		t.Errorf("expected [%s] error, got %q", code, err.Error())
	}
}

func save(t *testing.T, a *app.App, id, title string) map[string]any {
	t.Helper()
	return mustRun(t, a, "vault", "save", "--id", id, "--kind", "channel", "--title", title,
		"--metric-primary", "1.2M subs", "--payload", `{"subscribers":1200000}`)
}

func TestVaultSaveGet(t *testing.T) {
	a, _ := setupTestApp(t)

	saved := save(t, a, "UC1", "Lo-Fi Girl")
	if saved["id"] != "UC1" || saved["state"] != "active" {
		t.Errorf("unexpected save output: %v", saved)
	}

	got := mustRun(t, a, "vault", "get", "UC1")
	if got["title"] != "Lo-Fi Girl" {
		t.Errorf("title = %v, want Lo-Fi Girl", got["title"])
	}
	payload, _ := got["payload"].(map[string]any)
	if payload["subscribers"] != float64(1200000) {
		t.Errorf("payload = %v", got["payload"])
	}
}

func TestVaultSave_Errors(t *testing.T) {
	a, _ := setupTestApp(t)

	_, err := run(t, a, "vault", "save", "--id", "x", "--kind", "podcast")
	expectCode(t, err, "INVALID_REQUEST")

	_, err = run(t, a, "vault", "save", "--id", "x", "--kind", "video", "--payload", "{nope")
	expectCode(t, err, "INVALID_REQUEST")

	save(t, a, "A", "a")
	save(t, a, "B", "b")
	_, err = run(t, a, "vault", "save", "--id", "C", "--kind", "video")
	expectCode(t, err, "CAPACITY_EXCEEDED")

	// Replacing an existing id is allowed at capacity.
	save(t, a, "A", "renamed")
}

func TestVaultLifecycle(t *testing.T) {
	a, now := setupTestApp(t)
	save(t, a, "A", "Alpha")
	*now = now.Add(time.Minute)
	save(t, a, "B", "Beta")

	list := mustRun(t, a, "vault", "list")
	if list["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", list["count"])
	}
	items := list["items"].([]any)
	if items[0].(map[string]any)["id"] != "B" {
		t.Errorf("most recent first: got %v", items[0])
	}

	trashed := mustRun(t, a, "vault", "delete", "A")
	if trashed["state"] != "trashed" {
		t.Errorf("state = %v, want trashed", trashed["state"])
	}

	list = mustRun(t, a, "vault", "list", "--scope", "trashed")
	if list["count"] != float64(1) {
		t.Errorf("trashed count = %v, want 1", list["count"])
	}

	_, err := run(t, a, "vault", "destroy", "B")
	expectCode(t, err, "NOT_FOUND")

	restored := mustRun(t, a, "vault", "restore", "A")
	if restored["state"] != "active" {
		t.Errorf("state = %v, want active", restored["state"])
	}

	cleared := mustRun(t, a, "vault", "clear")
	if cleared["trashed"] != float64(2) {
		t.Errorf("trashed = %v, want 2", cleared["trashed"])
	}

	destroyed := mustRun(t, a, "vault", "destroy", "A")
	if destroyed["destroyed"] != true {
		t.Errorf("unexpected destroy output: %v", destroyed)
	}

	emptied := mustRun(t, a, "vault", "empty-trash")
	if emptied["destroyed"] != float64(1) {
		t.Errorf("destroyed = %v, want 1", emptied["destroyed"])
	}

	_, err = run(t, a, "vault", "get")
	expectCode(t, err, "INVALID_REQUEST")
}

func TestVaultListFilters(t *testing.T) {
	a, _ := setupTestApp(t)
	save(t, a, "A", "Lo-Fi Girl")
	mustRun(t, a, "vault", "save", "--id", "V1", "--kind", "video", "--title", "Lo-Fi Mix")

	list := mustRun(t, a, "vault", "list", "--kind", "video")
	if list["count"] != float64(1) {
		t.Errorf("kind filter count = %v, want 1", list["count"])
	}
	list = mustRun(t, a, "vault", "list", "-q", "girl")
	if list["count"] != float64(1) {
		t.Errorf("text filter count = %v, want 1", list["count"])
	}

	_, err := run(t, a, "vault", "list", "--scope", "purged")
	expectCode(t, err, "INVALID_REQUEST")
}

func TestVaultPurgeAndUsage(t *testing.T) {
	a, now := setupTestApp(t)
	save(t, a, "A", "Alpha")
	mustRun(t, a, "vault", "delete", "A")

	usage := mustRun(t, a, "vault", "usage")
	if usage["trashed"] != float64(1) || usage["active"] != float64(0) {
		t.Errorf("unexpected usage: %v", usage)
	}

	*now = now.Add(31 * 24 * time.Hour)
	purged := mustRun(t, a, "vault", "purge")
	if purged["trash_expired"] != float64(1) {
		t.Errorf("unexpected purge output: %v", purged)
	}
}

func TestVaultExportImport(t *testing.T) {
	a, _ := setupTestApp(t)
	save(t, a, "A", "Alpha")

	path := filepath.Join(t.TempDir(), "vault.jsonl")
	exported := mustRun(t, a, "vault", "export", "--path", path)
	if exported["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", exported["count"])
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("export file missing: %v", err)
	}

	_, err := run(t, a, "vault", "import", "--path", path)
	expectCode(t, err, "ALREADY_EXISTS")

	skipped := mustRun(t, a, "vault", "import", "--path", path, "--mode", "skip")
	if skipped["skipped"] != float64(1) {
		t.Errorf("unexpected import output: %v", skipped)
	}

	out, err := run(t, a, "vault", "export", "--path", "-")
	if err != nil {
		t.Fatalf("export to stdout: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Errorf("expected header and one record, got %d lines", len(lines))
	}
}

func TestVaultExport_DefaultPath(t *testing.T) {
	a, _ := setupTestApp(t)
	save(t, a, "A", "Alpha")

	exported := mustRun(t, a, "vault", "export")
	want := filepath.Join(a.BaseDir, "exports", "vault-2026-06-01T100000.jsonl")
	if exported["path"] != want {
		t.Errorf("path = %v, want %s", exported["path"], want)
	}
}

func TestVaultReport(t *testing.T) {
	a, _ := setupTestApp(t)
	save(t, a, "A", "Alpha")

	out, err := run(t, a, "vault", "report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, "# Vault report") || !strings.Contains(out, "Alpha") {
		t.Errorf("unexpected markdown report:\n%s", out)
	}

	out, err = run(t, a, "vault", "report", "--html")
	if err != nil {
		t.Fatalf("html report: %v", err)
	}
	if !strings.Contains(out, "<table>") {
		t.Errorf("expected an html table:\n%s", out)
	}
}

func TestQueryCommands(t *testing.T) {
	a, _ := setupTestApp(t)

	rec := mustRun(t, a, "query", "record", "Lo-Fi", "Beats")
	if rec["query"] != "lo-fi beats" || rec["hit_count"] != float64(1) {
		t.Errorf("unexpected record output: %v", rec)
	}
	mustRun(t, a, "query", "record", "--mode", "channel", "lo-fi beats")
	mustRun(t, a, "query", "record", "camp")

	blank := mustRun(t, a, "query", "record", "  ")
	if blank["recorded"] != false {
		t.Errorf("blank query should not record: %v", blank)
	}

	_, err := run(t, a, "query", "record", "--mode", "playlist", "x")
	expectCode(t, err, "INVALID_REQUEST")

	top := mustRun(t, a, "query", "top", "--n", "1")
	queries := top["queries"].([]any)
	if len(queries) != 1 || queries[0].(map[string]any)["query"] != "lo-fi beats" {
		t.Errorf("unexpected top output: %v", top)
	}

	_, err = run(t, a, "query", "top", "--n", "-1")
	expectCode(t, err, "INVALID_REQUEST")

	pruned := mustRun(t, a, "query", "prune")
	if pruned["aged"] != float64(0) || pruned["overflow"] != float64(0) {
		t.Errorf("unexpected prune output: %v", pruned)
	}
}

func TestCacheCommands(t *testing.T) {
	a, now := setupTestApp(t)

	put := mustRun(t, a, "cache", "put", "--value", `{"items":[1,2]}`, "api", "search:cats")
	if put["stored"] != true {
		t.Errorf("unexpected put output: %v", put)
	}

	got := mustRun(t, a, "cache", "get", "--max-age", "10m", "api", "search:cats")
	if got["hit"] != true {
		t.Errorf("expected hit: %v", got)
	}

	*now = now.Add(11 * time.Minute)
	raw := mustRun(t, a, "cache", "get", "api", "search:cats")
	if raw["hit"] != true {
		t.Errorf("raw read ignores age: %v", raw)
	}
	stale := mustRun(t, a, "cache", "get", "--max-age", "10m", "api", "search:cats")
	if stale["hit"] != false {
		t.Errorf("expected miss past max age: %v", stale)
	}

	_, err := run(t, a, "cache", "put", "--value", "{bad", "velocity", "UC1")
	expectCode(t, err, "INVALID_REQUEST")

	_, err = run(t, a, "cache", "get", "syslog", "x")
	expectCode(t, err, "INVALID_REQUEST")

	_, err = run(t, a, "cache", "get", "--max-age", "soon", "api", "x")
	expectCode(t, err, "INVALID_REQUEST")

	mustRun(t, a, "cache", "put", "--value", `3.5`, "velocity", "UC1")
	cleared := mustRun(t, a, "cache", "clear", "velocity")
	if cleared["removed"] != float64(1) {
		t.Errorf("removed = %v, want 1", cleared["removed"])
	}
}

func TestLogTail(t *testing.T) {
	a, now := setupTestApp(t)
	save(t, a, "A", "Alpha")
	mustRun(t, a, "vault", "delete", "A")

	// A list past the retention window purges and journals the pass.
	*now = now.Add(31 * 24 * time.Hour)
	mustRun(t, a, "vault", "list")

	tail := mustRun(t, a, "log", "tail")
	if tail["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", tail["count"])
	}
	entry := tail["entries"].([]any)[0].(map[string]any)
	if entry["message"] != "maintenance" {
		t.Errorf("unexpected entry: %v", entry)
	}

	cleared := mustRun(t, a, "cache", "clear", "syslog")
	if cleared["removed"] != float64(1) {
		t.Errorf("removed = %v, want 1", cleared["removed"])
	}
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"90m", 90 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"-1d", 0, true},
		{"-5m", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseMaxAge(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseMaxAge(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMaxAge(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseMaxAge(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
