// Package monitor sends best-effort progress pings to the monitor feed.
//
// DELIVERY MODEL:
// Notify only enqueues. A fixed set of workers drains the queue and posts each
// update once. A full queue drops the update; a failed post is counted and
// forgotten. Nothing is ever reported back to the caller.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sakif/actionrunner/internal/metrics"
)

// Fields an execution reports on.
const (
	FieldCode   = "code"
	FieldRetval = "retval"
)

// UpdatePath is where the feed accepts updates, relative to its base URL.
const UpdatePath = "/update_monitor"

// Notifier reports one field of one execution. Implementations must not block.
type Notifier interface {
	Notify(id, field, value string, at time.Time)
}

// Nop is used when no feed is configured.
type Nop struct{}

func (Nop) Notify(string, string, string, time.Time) {}

type update struct {
	id, field, value string
	at               time.Time
}

// Config tunes the HTTP notifier.
type Config struct {
	BaseURL        string
	QueueSize      int
	Workers        int
	RequestTimeout time.Duration
}

type HTTPNotifier struct {
	endpoint string
	client   *http.Client
	queue    chan update
	logger   *slog.Logger
	metrics  *metrics.Metrics

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// New returns Nop when cfg.BaseURL is empty, otherwise a started HTTPNotifier.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) Notifier {
	if cfg.BaseURL == "" {
		logger.Info("monitor url not configured, notifications disabled")
		return Nop{}
	}
	return NewHTTPNotifier(cfg, m, logger)
}

func NewHTTPNotifier(cfg Config, m *metrics.Metrics, logger *slog.Logger) *HTTPNotifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	n := &HTTPNotifier{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + UpdatePath,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		queue:    make(chan update, cfg.QueueSize),
		logger:   logger,
		metrics:  m,
	}

	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}
	logger.Info("monitor notifier started", slog.String("endpoint", n.endpoint), slog.Int("workers", cfg.Workers))
	return n
}

// Notify enqueues the update and returns immediately.
func (n *HTTPNotifier) Notify(id, field, value string, at time.Time) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.queue <- update{id: id, field: field, value: value, at: at}:
	default:
		n.metrics.Notification("dropped")
		n.logger.Debug("monitor queue full, update dropped", slog.String("id", id), slog.String("field", field))
	}
}

// Close stops accepting updates and waits for the queue to drain.
func (n *HTTPNotifier) Close() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
		n.wg.Wait()
	})
}

func (n *HTTPNotifier) worker() {
	defer n.wg.Done()
	for u := range n.queue {
		if err := n.send(u); err != nil {
			n.metrics.Notification("failed")
			n.logger.Debug("monitor update failed", slog.String("id", u.id), slog.String("error", err.Error()))
			continue
		}
		n.metrics.Notification("sent")
	}
}

func (n *HTTPNotifier) send(u update) error {
	form := url.Values{
		"uid":    {u.id},
		"target": {u.field},
		"value":  {u.value},
		"time":   {FormatTime(u.at)},
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monitor responded %d", resp.StatusCode)
	}
	return nil
}

// FormatTime encodes t as fractional unix seconds, the format the feed parses.
func FormatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
