package feed

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Field is one timestamped, already rendered cell of an entry.
type Field struct {
	Time     float64
	Rendered string
}

// Entry tracks one execution.
type Entry struct {
	ID     string
	Code   Field
	Retval Field
}

func newEntry(id string) *Entry {
	return &Entry{
		ID:     id,
		Code:   Field{Time: math.Inf(-1)},
		Retval: Field{Time: math.Inf(-1)},
	}
}

// field returns the addressed cell, or nil for an unknown target.
func (e *Entry) field(target string) *Field {
	switch target {
	case TargetCode:
		return &e.Code
	case TargetRetval:
		return &e.Retval
	default:
		return nil
	}
}

// Buffer is a fixed-capacity map that evicts in insertion order. It sits on an
// LRU list but never promotes: lookups use Peek and Add is only called for ids
// that are not present, so list order is insertion order.
//
// Buffer is not safe for concurrent use; Feed serialises access.
type Buffer struct {
	entries *simplelru.LRU[string, *Entry]
}

func NewBuffer(capacity int) (*Buffer, error) {
	lru, err := simplelru.NewLRU[string, *Entry](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &Buffer{entries: lru}, nil
}

// GetOrCreate returns the entry for id, inserting a fresh one (and possibly
// evicting the oldest) on first reference.
func (b *Buffer) GetOrCreate(id string) (entry *Entry, created bool) {
	if e, ok := b.entries.Peek(id); ok {
		return e, false
	}
	e := newEntry(id)
	b.entries.Add(id, e)
	return e, true
}

// Newest returns the entries most recently inserted first.
func (b *Buffer) Newest() []*Entry {
	keys := b.entries.Keys()
	out := make([]*Entry, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if e, ok := b.entries.Peek(keys[i]); ok {
			out = append(out, e)
		}
	}
	return out
}

func (b *Buffer) Len() int {
	return b.entries.Len()
}
