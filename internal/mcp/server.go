package mcp

import (
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/stash/internal/app"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"vault", "query", "cache", "log"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"vault_save": {
		def:     vaultSaveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultSave },
	},
	"vault_get": {
		def:     vaultGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultGet },
	},
	"vault_list": {
		def:     vaultListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultList },
	},
	"vault_delete": {
		def:     vaultDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultDelete },
	},
	"vault_restore": {
		def:     vaultRestoreToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultRestore },
	},
	"vault_destroy": {
		def:     vaultDestroyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultDestroy },
	},
	"vault_clear": {
		def:     vaultClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultClear },
	},
	"vault_empty_trash": {
		def:     vaultEmptyTrashToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultEmptyTrash },
	},
	"vault_purge": {
		def:     vaultPurgeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultPurge },
	},
	"vault_usage": {
		def:     vaultUsageToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVaultUsage },
	},
	"query_record": {
		def:     queryRecordToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueryRecord },
	},
	"query_top": {
		def:     queryTopToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueryTop },
	},
	"query_prune": {
		def:     queryPruneToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueryPrune },
	},
	"cache_get": {
		def:     cacheGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheGet },
	},
	"cache_put": {
		def:     cachePutToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCachePut },
	},
	"cache_clear": {
		def:     cacheClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheClear },
	},
	"log_tail": {
		def:     logTailToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLogTail },
	},
}

// AllToolNames returns a sorted list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if !slices.Contains(KnownTypes, name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "vault_save" → "vault").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if slices.Contains(types, GetTypeForTool(name)) {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with Stash tools registered.
// Tools listed in the config's DisabledTools or belonging to its
// DisabledTypes are excluded from registration.
func NewServer(a *app.App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"stash",
		version,
		server.WithRecovery(),
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(a)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(a.Config.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range a.Config.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(a *app.App, version string) error {
	return server.ServeStdio(NewServer(a, version))
}
