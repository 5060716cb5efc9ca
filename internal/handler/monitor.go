package handler

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sakif/actionrunner/internal/monitor"
	"github.com/sakif/actionrunner/internal/monitor/feed"
)

// MonitorHandler is the receiving end of monitor.HTTPNotifier. Every update
// request is answered 200 "OK"; malformed pings are logged and dropped.
type MonitorHandler struct {
	feed   *feed.Feed
	hub    *feed.Hub
	logger *slog.Logger
	now    func() time.Time
}

func NewMonitorHandler(f *feed.Feed, hub *feed.Hub, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{feed: f, hub: hub, logger: logger, now: time.Now}
}

// HandleUpdate accepts uid, target, value and time as query or form fields.
// A missing or unparsable time is replaced with the server clock.
func (h *MonitorHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	defer writeOK(w)

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("unreadable monitor update", slog.String("error", err.Error()))
		return
	}

	uid := r.Form.Get("uid")
	target := r.Form.Get("target")
	if uid == "" || target == "" || !r.Form.Has("value") {
		h.logger.Warn("incomplete monitor update",
			slog.String("uid", uid),
			slog.String("target", target),
		)
		return
	}

	at, err := monitor.ParseTime(r.Form.Get("time"))
	if err != nil || math.IsNaN(at) || math.IsInf(at, 0) {
		at = float64(h.now().UnixNano()) / 1e9
	}

	if _, err := h.feed.Update(feed.Update{ID: uid, Target: target, Value: r.Form.Get("value"), Time: at}); err != nil {
		h.logger.Warn("monitor update rejected", slog.String("uid", uid), slog.String("error", err.Error()))
	}
}

// HandleViewer upgrades to a websocket that receives every new snapshot.
func (h *MonitorHandler) HandleViewer(w http.ResponseWriter, r *http.Request) {
	h.hub.Serve(w, r, h.feed.Snapshot)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
