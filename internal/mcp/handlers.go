package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/stash/internal/app"
	"github.com/hpungsan/stash/internal/artifact"
	"github.com/hpungsan/stash/internal/cache"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/popularity"
	"github.com/hpungsan/stash/internal/vault"
)

// Default result sizes.
const (
	defaultTopN     = 10
	defaultLogTailN = 20
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// Request types for each tool

// IDRequest is the argument shape of every single-artifact tool.
type IDRequest struct {
	ID string `json:"id"`
}

// SaveRequest represents the arguments for vault_save.
type SaveRequest struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	Title           string          `json:"title"`
	ThumbnailRef    *string         `json:"thumbnail_ref,omitempty"`
	MetricPrimary   string          `json:"metric_primary,omitempty"`
	MetricSecondary string          `json:"metric_secondary,omitempty"`
	ExternalURL     *string         `json:"external_url,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// ListRequest represents the arguments for vault_list.
type ListRequest struct {
	Scope string `json:"scope,omitempty"`
	Text  string `json:"text,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// RecordRequest represents the arguments for query_record.
type RecordRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
}

// CountRequest represents the arguments for query_top and log_tail.
type CountRequest struct {
	N *int `json:"n,omitempty"`
}

// CacheRequest represents the arguments for the cache tools.
type CacheRequest struct {
	Namespace     string          `json:"namespace"`
	Key           string          `json:"key,omitempty"`
	MaxAgeSeconds int64           `json:"max_age_seconds,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
}

// ListOutput wraps vault_list results.
type ListOutput struct {
	Items []artifact.Artifact `json:"items"`
	Count int                 `json:"count"`
}

// CacheGetOutput is the result of cache_get.
type CacheGetOutput struct {
	Hit      bool            `json:"hit"`
	Value    json.RawMessage `json:"value,omitempty"`
	StoredAt *time.Time      `json:"stored_at,omitempty"`
}

// Handler implementations

// HandleVaultSave handles the vault_save tool call.
func (h *Handlers) HandleVaultSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.app.Vault.Upsert(artifact.Artifact{
		ID:              input.ID,
		Kind:            artifact.Kind(input.Kind),
		Title:           input.Title,
		ThumbnailRef:    input.ThumbnailRef,
		MetricPrimary:   input.MetricPrimary,
		MetricSecondary: input.MetricSecondary,
		ExternalURL:     input.ExternalURL,
		Payload:         input.Payload,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleVaultGet handles the vault_get tool call.
func (h *Handlers) HandleVaultGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.app.Vault.Get(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleVaultList handles the vault_list tool call.
func (h *Handlers) HandleVaultList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	h.maintain()

	items, err := h.app.Vault.List(artifact.State(input.Scope), vault.Filter{Text: input.Text, Kind: input.Kind})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(ListOutput{Items: items, Count: len(items)})
}

// HandleVaultDelete handles the vault_delete tool call.
func (h *Handlers) HandleVaultDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.app.Vault.SoftDelete(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleVaultRestore handles the vault_restore tool call.
func (h *Handlers) HandleVaultRestore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.app.Vault.Restore(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleVaultDestroy handles the vault_destroy tool call.
func (h *Handlers) HandleVaultDestroy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.app.Vault.PermanentlyDelete(input.ID); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"id": input.ID, "destroyed": true})
}

// HandleVaultClear handles the vault_clear tool call.
func (h *Handlers) HandleVaultClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := h.app.Vault.ClearVault()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]int{"trashed": n})
}

// HandleVaultEmptyTrash handles the vault_empty_trash tool call.
func (h *Handlers) HandleVaultEmptyTrash(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := h.app.Vault.EmptyTrash()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]int{"destroyed": n})
}

// HandleVaultPurge handles the vault_purge tool call.
func (h *Handlers) HandleVaultPurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.app.Vault.PurgeExpired(h.app.Now())
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleVaultUsage handles the vault_usage tool call.
func (h *Handlers) HandleVaultUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.maintain()

	result, err := h.app.Vault.Usage()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleQueryRecord handles the query_record tool call.
func (h *Handlers) HandleQueryRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	rec, err := h.app.Tracker.Record(input.Query, popularity.Mode(input.Mode))
	if err != nil {
		return errorResult(err), nil
	}
	if rec == nil {
		return successResult(map[string]bool{"recorded": false})
	}
	return successResult(rec)
}

// HandleQueryTop handles the query_top tool call.
func (h *Handlers) HandleQueryTop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CountRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	n := defaultTopN
	if input.N != nil {
		n = *input.N
	}
	if n < 0 {
		return errorResult(errors.NewInvalidRequest("n must be >= 0")), nil
	}
	h.maintain()

	records, err := h.app.Tracker.Top(n)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"queries": records, "count": len(records)})
}

// HandleQueryPrune handles the query_prune tool call.
func (h *Handlers) HandleQueryPrune(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.app.Tracker.Prune()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCacheGet handles the cache_get tool call.
func (h *Handlers) HandleCacheGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CacheRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Key == "" {
		return errorResult(errors.NewInvalidRequest("key is required")), nil
	}
	if input.MaxAgeSeconds < 0 {
		return errorResult(errors.NewInvalidRequest("max_age_seconds must be >= 0")), nil
	}
	c, err := h.app.Cache(input.Namespace)
	if err != nil {
		return errorResult(err), nil
	}

	if input.MaxAgeSeconds == 0 {
		entry, ok := c.GetRaw(input.Key)
		if !ok {
			return successResult(CacheGetOutput{})
		}
		return successResult(CacheGetOutput{Hit: true, Value: entry.Value, StoredAt: &entry.StoredAt})
	}

	value, ok := c.Get(input.Key, time.Duration(input.MaxAgeSeconds)*time.Second)
	return successResult(CacheGetOutput{Hit: ok, Value: value})
}

// HandleCachePut handles the cache_put tool call.
func (h *Handlers) HandleCachePut(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CacheRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Key == "" {
		return errorResult(errors.NewInvalidRequest("key is required")), nil
	}
	if len(input.Value) == 0 {
		return errorResult(errors.NewInvalidRequest("value is required")), nil
	}
	c, err := h.app.Cache(input.Namespace)
	if err != nil {
		return errorResult(err), nil
	}

	if err := c.Put(input.Key, input.Value); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"namespace": input.Namespace, "key": input.Key, "stored": true})
}

// HandleCacheClear handles the cache_clear tool call.
func (h *Handlers) HandleCacheClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CacheRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var n int
	if input.Namespace == cache.NamespaceSyslog {
		n, err = h.app.Journal.Clear()
	} else {
		c, cerr := h.app.Cache(input.Namespace)
		if cerr != nil {
			return errorResult(cerr), nil
		}
		n, err = c.Clear()
	}
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"namespace": input.Namespace, "removed": n})
}

// HandleLogTail handles the log_tail tool call.
func (h *Handlers) HandleLogTail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CountRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	n := defaultLogTailN
	if input.N != nil {
		n = *input.N
	}
	if n < 0 {
		return errorResult(errors.NewInvalidRequest("n must be >= 0")), nil
	}

	records, err := h.app.Journal.Recent(n)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"entries": records, "count": len(records)})
}

// maintain runs the prune and purge pass ahead of a read. A failure is
// journaled by the app and must not block the read.
func (h *Handlers) maintain() {
	if _, err := h.app.Maintain(h.app.Now()); err != nil {
		h.app.Logger.Warn("maintenance failed", zap.Error(err))
	}
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.StashError
	if stderrors.As(err, &sErr) {
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": sErr.Message,
			"status":  sErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
