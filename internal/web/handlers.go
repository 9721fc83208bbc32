package web

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hpungsan/stash/internal/app"
	"github.com/hpungsan/stash/internal/artifact"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/vault"
)

const dashboardTopN = 10

// Handlers contains HTTP route handlers for the dashboard.
type Handlers struct {
	app      *app.App
	renderer *Renderer
}

// maintain runs the prune and purge pass ahead of a read. A failure is
// journaled by the app and the read goes ahead.
func (h *Handlers) maintain() {
	if _, err := h.app.Maintain(h.app.Now()); err != nil {
		h.app.Logger.Warn("maintenance failed", zap.Error(err))
	}
}

// HandleDashboard handles GET / with the vault report and top queries.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	h.maintain()

	var report bytes.Buffer
	if err := h.app.Vault.Report(&report, true); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	usage, err := h.app.Vault.Usage()
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	top, err := h.app.Tracker.Top(dashboardTopN)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "dashboard", DashboardPageData{
		PageData: PageData{Title: "Vault", Version: h.renderer.version},
		// Report output is goldmark HTML with raw HTML disabled.
		Report:  template.HTML(report.String()),
		Usage:   usage,
		Queries: top,
	})
}

// HandleDetail handles GET /artifacts/{id}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Vault.Get(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData:    PageData{Title: a.Title, Version: h.renderer.version},
		Artifact:    a,
		PayloadHTML: renderPayload(a.Payload),
	})
}

// HandleDelete handles DELETE /artifacts/{id} by moving the artifact to the trash.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Vault.SoftDelete(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, a)
}

// HandleRestore handles POST /artifacts/{id}/restore.
func (h *Handlers) HandleRestore(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Vault.Restore(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, a)
}

// HandleAPIList handles GET /api/artifacts?scope=&kind=&q=.
func (h *Handlers) HandleAPIList(w http.ResponseWriter, r *http.Request) {
	h.maintain()
	q := r.URL.Query()
	items, err := h.app.Vault.List(artifact.State(q.Get("scope")), vault.Filter{
		Text: q.Get("q"),
		Kind: q.Get("kind"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// HandleAPIGet handles GET /api/artifacts/{id}.
func (h *Handlers) HandleAPIGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Vault.Get(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, a)
}

// HandleAPITop handles GET /api/queries/top?n=.
func (h *Handlers) HandleAPITop(w http.ResponseWriter, r *http.Request) {
	n, err := parseIntParam(r, "n", dashboardTopN)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.maintain()
	records, err := h.app.Tracker.Top(n)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"queries": records, "count": len(records)})
}

// HandleAPIUsage handles GET /api/usage.
func (h *Handlers) HandleAPIUsage(w http.ResponseWriter, r *http.Request) {
	h.maintain()
	u, err := h.app.Vault.Usage()
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, u)
}

// parseIntParam reads a non-negative integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, errors.NewInvalidRequest(name + " must be a non-negative integer")
	}
	return v, nil
}
