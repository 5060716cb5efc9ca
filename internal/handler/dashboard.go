// Package handler contains the HTTP handlers of both binaries.
//
// Handlers are glue: parse the request, call a service or the feed, write the
// response. No action logic lives here.
package handler

import (
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/sakif/actionrunner/internal/monitor/feed"
)

// DashboardHandler serves the monitor page. The table is rendered server side
// for the first paint and then replaced by websocket snapshots. The template is
// parsed once in NewDashboardHandler.
type DashboardHandler struct {
	templates *template.Template
	feed      *feed.Feed
	logger    *slog.Logger
}

// NewDashboardHandler parses dashboard.html from templates.
func NewDashboardHandler(templates fs.FS, f *feed.Feed, logger *slog.Logger) (*DashboardHandler, error) {
	tmpl, err := template.ParseFS(templates, "dashboard.html")
	if err != nil {
		return nil, err
	}
	return &DashboardHandler{templates: tmpl, feed: f, logger: logger}, nil
}

func (h *DashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := h.feed.Snapshot()
	data := map[string]interface{}{
		"Title":      "Action monitor",
		"Version":    snap.Version,
		"Table":      template.HTML(snap.Table),
		"LastUpdate": snap.LastUpdate,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "dashboard.html", data); err != nil {
		h.logger.Error("failed to render template", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
