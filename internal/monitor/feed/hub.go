package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/sakif/actionrunner/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	viewerQueueLen = 16
)

type viewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans snapshots out to dashboard websockets. Each viewer has a bounded
// queue; a viewer that falls behind is disconnected rather than slowing the
// feed down.
type Hub struct {
	mu          sync.Mutex
	viewers     map[string]*viewer
	lastVersion uint64

	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		viewers: make(map[string]*viewer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		metrics: m,
		logger:  logger,
	}
}

// Broadcast queues s for every viewer. Snapshots older than the last one
// broadcast are skipped.
func (h *Hub) Broadcast(s Snapshot) {
	msg, err := json.Marshal(s)
	if err != nil {
		h.logger.Error("failed to encode snapshot", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s.Version <= h.lastVersion {
		return
	}
	h.lastVersion = s.Version

	for id, v := range h.viewers {
		select {
		case v.send <- msg:
		default:
			h.logger.Warn("dropping slow viewer", slog.String("viewer", id))
			h.removeLocked(id)
		}
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Serve upgrades the request and streams snapshots until the viewer leaves.
// current is called once the viewer is registered so it never misses an update.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, current func() Snapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	v := &viewer{id: xid.New().String(), conn: conn, send: make(chan []byte, viewerQueueLen)}

	h.mu.Lock()
	h.viewers[v.id] = v
	if msg, err := json.Marshal(current()); err == nil {
		v.send <- msg
	}
	h.mu.Unlock()

	h.metrics.ViewerConnected()
	h.logger.Info("viewer connected", slog.String("viewer", v.id), slog.String("remote", r.RemoteAddr))

	go h.writePump(v)
	h.readPump(v)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.viewers {
		h.removeLocked(id)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	v, ok := h.viewers[id]
	if !ok {
		return
	}
	delete(h.viewers, id)
	close(v.send)
	h.metrics.ViewerDisconnected()
}

// readPump discards client messages; it exists to process pongs and notice
// the viewer going away.
func (h *Hub) readPump(v *viewer) {
	defer func() {
		h.remove(v.id)
		v.conn.Close()
		h.logger.Info("viewer disconnected", slog.String("viewer", v.id))
	}()

	v.conn.SetReadLimit(512)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
