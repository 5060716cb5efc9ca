package feed

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b, err := NewBuffer(3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, created := b.GetOrCreate(fmt.Sprint(i))
		assert.True(t, created)
		assert.LessOrEqual(t, b.Len(), 3)
	}

	assert.Equal(t, []string{"9", "8", "7"}, bufferIDs(b))
}

func TestBuffer_LookupDoesNotPromote(t *testing.T) {
	b, err := NewBuffer(2)
	require.NoError(t, err)

	b.GetOrCreate("a")
	b.GetOrCreate("b")
	_, created := b.GetOrCreate("a")
	assert.False(t, created)
	b.GetOrCreate("c")

	assert.Equal(t, []string{"c", "b"}, bufferIDs(b), "a was inserted first and is evicted first")
}

func bufferIDs(b *Buffer) []string {
	var out []string
	for _, e := range b.Newest() {
		out = append(out, e.ID)
	}
	return out
}

func TestBuffer_NewEntryAcceptsAnyTimestamp(t *testing.T) {
	b, err := NewBuffer(1)
	require.NoError(t, err)

	e, _ := b.GetOrCreate("a")
	assert.True(t, math.IsInf(e.Code.Time, -1))
	assert.True(t, math.IsInf(e.Retval.Time, -1))
}

func TestNewBuffer_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewBuffer(0)
	assert.Error(t, err)
}
