package feed

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/actionrunner/internal/apperror"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (b *recordingBroadcaster) Broadcast(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps = append(b.snaps, s)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snaps)
}

type upperHighlighter struct{}

func (upperHighlighter) Highlight(code string) string { return "<b>" + strings.ToUpper(code) + "</b>" }

func newTestFeed(t *testing.T, capacity int) (*Feed, *recordingBroadcaster) {
	t.Helper()
	b := &recordingBroadcaster{}
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	f, err := New(Options{
		Capacity:    capacity,
		Highlighter: upperHighlighter{},
		Location:    loc,
		Broadcaster: b,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         func() time.Time { return time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return f, b
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestUpdate_CreatesEntryAndBroadcasts(t *testing.T) {
	f, b := newTestFeed(t, 10)

	applied, err := f.Update(Update{ID: "exec:1", Target: TargetCode, Value: "x = 1", Time: 1})
	require.NoError(t, err)
	assert.True(t, applied)

	snap := f.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Contains(t, snap.Table, `data-id="exec:1"`)
	assert.Contains(t, snap.Table, "<b>X = 1</b>", "code is highlighted")
	assert.Equal(t, "2024-01-02 12:00:00 PST", snap.LastUpdate)
	assert.Equal(t, 1, b.count())
}

func TestUpdate_RetvalPassesThroughAsHTML(t *testing.T) {
	f, _ := newTestFeed(t, 10)

	_, err := f.Update(Update{ID: "exec:1", Target: TargetRetval, Value: "<pre>5</pre>", Time: 1})
	require.NoError(t, err)

	assert.Contains(t, f.Snapshot().Table, `<td class="retval"><pre>5</pre></td>`)
}

func TestUpdate_OlderTimestampIsIgnored(t *testing.T) {
	f, b := newTestFeed(t, 10)

	_, err := f.Update(Update{ID: "exec:1", Target: TargetRetval, Value: "ten", Time: 10})
	require.NoError(t, err)
	before := f.Snapshot()

	applied, err := f.Update(Update{ID: "exec:1", Target: TargetRetval, Value: "five", Time: 5})
	require.NoError(t, err)

	assert.False(t, applied)
	assert.Equal(t, before, f.Snapshot())
	assert.Equal(t, "ten", f.Entries()[0].Retval.Rendered)
	assert.Equal(t, 1, b.count())
}

func TestUpdate_EqualTimestampIsIgnored(t *testing.T) {
	f, _ := newTestFeed(t, 10)

	_, _ = f.Update(Update{ID: "exec:1", Target: TargetRetval, Value: "first", Time: 7})
	applied, err := f.Update(Update{ID: "exec:1", Target: TargetRetval, Value: "second", Time: 7})

	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "first", f.Entries()[0].Retval.Rendered)
}

func TestUpdate_FieldsAreIndependent(t *testing.T) {
	f, _ := newTestFeed(t, 10)

	_, _ = f.Update(Update{ID: "exec:1", Target: TargetRetval, Value: "done", Time: 10})
	applied, err := f.Update(Update{ID: "exec:1", Target: TargetCode, Value: "late code", Time: 5})

	require.NoError(t, err)
	assert.True(t, applied, "code has its own timestamp")
	e := f.Entries()[0]
	assert.Equal(t, "done", e.Retval.Rendered)
	assert.Equal(t, "<b>LATE CODE</b>", e.Code.Rendered)
}

func TestUpdate_LegacyTargetSpelling(t *testing.T) {
	f, _ := newTestFeed(t, 10)

	applied, err := f.Update(Update{ID: "exec:1", Target: "#code", Value: "y", Time: 1})

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "<b>Y</b>", f.Entries()[0].Code.Rendered)
}

func TestUpdate_RejectsUnknownTarget(t *testing.T) {
	f, b := newTestFeed(t, 10)

	_, err := f.Update(Update{ID: "exec:1", Target: "stdout", Value: "y", Time: 1})

	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Equal(t, 0, f.Len())
	assert.Equal(t, 0, b.count())
}

func TestUpdate_EvictsOldestInsertedID(t *testing.T) {
	f, _ := newTestFeed(t, 10)

	for i := 1; i <= 11; i++ {
		_, err := f.Update(Update{ID: fmt.Sprintf("exec:%d", i), Target: TargetCode, Value: "c", Time: float64(i)})
		require.NoError(t, err)
	}

	got := ids(f.Entries())
	want := []string{"exec:11", "exec:10", "exec:9", "exec:8", "exec:7", "exec:6", "exec:5", "exec:4", "exec:3", "exec:2"}
	assert.Equal(t, want, got)
	assert.NotContains(t, f.Snapshot().Table, `data-id="exec:1"`)
}

func TestUpdate_EvictionIgnoresFieldTimestamps(t *testing.T) {
	f, _ := newTestFeed(t, 2)

	_, _ = f.Update(Update{ID: "a", Target: TargetCode, Value: "a", Time: 1})
	_, _ = f.Update(Update{ID: "b", Target: TargetCode, Value: "b", Time: 2})
	// Touching "a" again must not protect it from eviction.
	_, _ = f.Update(Update{ID: "a", Target: TargetRetval, Value: "a", Time: 3})
	_, _ = f.Update(Update{ID: "c", Target: TargetCode, Value: "c", Time: 4})

	assert.Equal(t, []string{"c", "b"}, ids(f.Entries()))
}

func TestUpdate_ConcurrentUpdatesKeepNewest(t *testing.T) {
	f, _ := newTestFeed(t, 10)

	var wg sync.WaitGroup
	for i := 1; i <= 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.Update(Update{ID: "exec:shared", Target: TargetRetval, Value: fmt.Sprint(i), Time: float64(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	e := f.Entries()
	require.Len(t, e, 1)
	assert.Equal(t, "200", e[0].Retval.Rendered)
	assert.Equal(t, 200.0, e[0].Retval.Time)
}
