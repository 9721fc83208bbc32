package mcp

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/stash/internal/artifact"
)

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

func kindNames(withAll bool) []string {
	names := make([]string, 0, len(artifact.Kinds)+1)
	if withAll {
		names = append(names, "all")
	}
	for _, k := range artifact.Kinds {
		names = append(names, string(k))
	}
	return names
}

var vaultSaveToolDef = mcp.NewTool("vault_save",
	mcp.WithDescription(multiline(
		"Save an artifact to the vault, replacing any artifact with the same id.",
		"Fails with CAPACITY_EXCEEDED when the vault is full and the id is new or trashed.",
	)),
	mcp.WithString("id", mcp.Required(), mcp.Description("Producer-supplied artifact id")),
	mcp.WithString("kind", mcp.Required(), mcp.Enum(kindNames(false)...), mcp.Description("Artifact kind")),
	mcp.WithString("title", mcp.Required(), mcp.Description("Display title")),
	mcp.WithString("thumbnail_ref", mcp.Description("Optional thumbnail reference")),
	mcp.WithString("metric_primary", mcp.Description("Preformatted headline metric")),
	mcp.WithString("metric_secondary", mcp.Description("Preformatted secondary metric")),
	mcp.WithString("external_url", mcp.Description("Optional link to the subject")),
	mcp.WithObject("payload", mcp.Description("Opaque snapshot body")),
)

var vaultGetToolDef = mcp.NewTool("vault_get",
	mcp.WithDescription("Fetch one artifact by id, active or trashed."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Artifact id")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var vaultListToolDef = mcp.NewTool("vault_list",
	mcp.WithDescription("List artifacts most recently saved first, optionally filtered by title text and kind."),
	mcp.WithString("scope", mcp.Enum("active", "trashed"), mcp.Description("Which set to list (default active)")),
	mcp.WithString("text", mcp.Description("Case-insensitive title substring")),
	mcp.WithString("kind", mcp.Enum(kindNames(true)...), mcp.Description("Kind filter (default all)")),
)

var vaultDeleteToolDef = mcp.NewTool("vault_delete",
	mcp.WithDescription("Move an active artifact to the trash."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Artifact id")),
)

var vaultRestoreToolDef = mcp.NewTool("vault_restore",
	mcp.WithDescription("Move a trashed artifact back to the vault. Fails with CAPACITY_EXCEEDED when the vault is full."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Artifact id")),
)

var vaultDestroyToolDef = mcp.NewTool("vault_destroy",
	mcp.WithDescription("Permanently delete a trashed artifact. The caller must have the user's consent."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Artifact id")),
	mcp.WithDestructiveHintAnnotation(true),
)

var vaultClearToolDef = mcp.NewTool("vault_clear",
	mcp.WithDescription("Move every active artifact to the trash."),
)

var vaultEmptyTrashToolDef = mcp.NewTool("vault_empty_trash",
	mcp.WithDescription("Permanently delete every trashed artifact. The caller must have the user's consent."),
	mcp.WithDestructiveHintAnnotation(true),
)

var vaultPurgeToolDef = mcp.NewTool("vault_purge",
	mcp.WithDescription("Remove trashed artifacts past retention and any artifact past the data-minimization window."),
)

var vaultUsageToolDef = mcp.NewTool("vault_usage",
	mcp.WithDescription("Report active and trashed counts against the capacity cap and warning threshold."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var queryRecordToolDef = mcp.NewTool("query_record",
	mcp.WithDescription("Record a search query. Queries are trimmed and case-folded; blank queries are ignored."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
	mcp.WithString("mode", mcp.Enum("keyword", "channel"), mcp.Description("Search mode (default keyword)")),
)

var queryTopToolDef = mcp.NewTool("query_top",
	mcp.WithDescription("Most-hit queries, ties broken by query text."),
	mcp.WithNumber("n", mcp.Description("Maximum results (default 10)")),
)

var queryPruneToolDef = mcp.NewTool("query_prune",
	mcp.WithDescription("Drop stale queries, then the least popular ones beyond the configured limit."),
)

var cacheGetToolDef = mcp.NewTool("cache_get",
	mcp.WithDescription("Read a cached value. An entry older than max_age_seconds is evicted and reported as a miss."),
	mcp.WithString("namespace", mcp.Required(), mcp.Enum("api", "velocity"), mcp.Description("Cache namespace")),
	mcp.WithString("key", mcp.Required(), mcp.Description("Cache key")),
	mcp.WithNumber("max_age_seconds", mcp.Description("Freshness window; 0 returns the entry regardless of age")),
)

var cachePutToolDef = mcp.NewTool("cache_put",
	mcp.WithDescription("Store a value in the cache, stamped with the current time."),
	mcp.WithString("namespace", mcp.Required(), mcp.Enum("api", "velocity"), mcp.Description("Cache namespace")),
	mcp.WithString("key", mcp.Required(), mcp.Description("Cache key")),
	mcp.WithObject("value", mcp.Required(), mcp.Description("JSON value to cache")),
)

var cacheClearToolDef = mcp.NewTool("cache_clear",
	mcp.WithDescription("Delete every entry in a cache namespace."),
	mcp.WithString("namespace", mcp.Required(), mcp.Enum("api", "velocity", "syslog"), mcp.Description("Cache namespace")),
)

var logTailToolDef = mcp.NewTool("log_tail",
	mcp.WithDescription("Most recent system log entries, newest first."),
	mcp.WithNumber("n", mcp.Description("Maximum entries (default 20)")),
	mcp.WithReadOnlyHintAnnotation(true),
)
