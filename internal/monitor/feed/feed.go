// Package feed is the monitor side: it merges out-of-order update pings into a
// bounded table of recent executions and pushes the rendered table to viewers.
package feed

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/actionrunner/internal/apperror"
	"github.com/sakif/actionrunner/internal/metrics"
)

const (
	TargetCode   = "code"
	TargetRetval = "retval"
)

// TimeLayout formats the last-update stamp shown above the table.
const TimeLayout = "2006-01-02 15:04:05 MST"

// Update is one ping from the notifier.
type Update struct {
	ID     string
	Target string
	Value  string
	// Time is the sender's clock in fractional unix seconds.
	Time float64
}

// Snapshot is the rendered state pushed to viewers. Version increases with
// every applied update so viewers can discard snapshots that arrive late.
type Snapshot struct {
	Version    uint64 `json:"version"`
	Table      string `json:"table"`
	LastUpdate string `json:"last_update"`
}

// Broadcaster delivers snapshots to connected viewers.
type Broadcaster interface {
	Broadcast(Snapshot)
}

type Options struct {
	Capacity    int
	Highlighter Highlighter
	Location    *time.Location
	Broadcaster Broadcaster
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	// Now overrides the wall clock in tests.
	Now func() time.Time
}

type Feed struct {
	mu       sync.Mutex
	buf      *Buffer
	snapshot Snapshot

	highlighter Highlighter
	loc         *time.Location
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func New(opts Options) (*Feed, error) {
	buf, err := NewBuffer(opts.Capacity)
	if err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	f := &Feed{
		buf:         buf,
		highlighter: opts.Highlighter,
		loc:         opts.Location,
		broadcaster: opts.Broadcaster,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	table, err := renderTable(nil)
	if err != nil {
		return nil, err
	}
	f.snapshot = Snapshot{Table: table}
	return f, nil
}

// NormalizeTarget accepts the legacy "#code" spelling.
func NormalizeTarget(target string) string {
	return strings.TrimPrefix(strings.TrimSpace(target), "#")
}

// Update merges u and, if anything changed, broadcasts the new table. It
// reports whether the update was applied; a stale timestamp is not an error.
func (f *Feed) Update(u Update) (bool, error) {
	target := NormalizeTarget(u.Target)
	if u.ID == "" || (target != TargetCode && target != TargetRetval) {
		f.metrics.FeedUpdate("rejected", f.Len())
		return false, apperror.ValidationFailed("target", "update needs a uid and a target of code or retval")
	}

	rendered := u.Value
	if target == TargetCode && f.highlighter != nil {
		rendered = f.highlighter.Highlight(u.Value)
	}

	f.mu.Lock()
	entry, _ := f.buf.GetOrCreate(u.ID)
	field := entry.field(target)
	if u.Time <= field.Time {
		n := f.buf.Len()
		f.mu.Unlock()
		f.metrics.FeedUpdate("stale", n)
		f.logger.Debug("stale monitor update ignored", slog.String("id", u.ID), slog.String("target", target))
		return false, nil
	}
	field.Time = u.Time
	field.Rendered = rendered

	table, err := renderTable(f.buf.Newest())
	if err != nil {
		f.mu.Unlock()
		return false, err
	}
	f.snapshot = Snapshot{
		Version:    f.snapshot.Version + 1,
		Table:      table,
		LastUpdate: f.now().In(f.loc).Format(TimeLayout),
	}
	snap, n := f.snapshot, f.buf.Len()
	f.mu.Unlock()

	f.metrics.FeedUpdate("applied", n)
	if f.broadcaster != nil {
		f.broadcaster.Broadcast(snap)
	}
	return true, nil
}

// Snapshot returns the latest rendered state.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

// Entries returns a copy of the tracked entries, newest first.
func (f *Feed) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	newest := f.buf.Newest()
	out := make([]Entry, len(newest))
	for i, e := range newest {
		out[i] = *e
	}
	return out
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Len()
}
