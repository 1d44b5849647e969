package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRing_AddAndLast(t *testing.T) {
	t.Parallel()

	ring := NewFrameRing(3)
	assert.Equal(t, 0, ring.Size())
	assert.Nil(t, ring.Last(5))

	ring.Add([]byte("a"))
	ring.Add([]byte("b"))

	got := ring.Last(5)
	require.Len(t, got, 2)
	assert.Equal(t, "a", string(got[0]))
	assert.Equal(t, "b", string(got[1]))
}

func TestFrameRing_OverwritesOldest(t *testing.T) {
	t.Parallel()

	ring := NewFrameRing(3)
	for i := 1; i <= 5; i++ {
		ring.Add([]byte(fmt.Sprintf("f%d", i)))
	}

	assert.Equal(t, 3, ring.Size())
	got := ring.Last(3)
	require.Len(t, got, 3)
	assert.Equal(t, "f3", string(got[0]))
	assert.Equal(t, "f4", string(got[1]))
	assert.Equal(t, "f5", string(got[2]))

	// A shorter window returns the newest frames, still oldest first.
	got = ring.Last(2)
	require.Len(t, got, 2)
	assert.Equal(t, "f4", string(got[0]))
	assert.Equal(t, "f5", string(got[1]))
}

func TestFrameRing_CopiesInput(t *testing.T) {
	t.Parallel()

	ring := NewFrameRing(2)
	buf := []byte("orig")
	ring.Add(buf)
	buf[0] = 'X'

	got := ring.Last(1)
	require.Len(t, got, 1)
	assert.Equal(t, "orig", string(got[0]))
}

func TestFrameRing_Clear(t *testing.T) {
	t.Parallel()

	ring := NewFrameRing(2)
	ring.Add([]byte("a"))
	ring.Clear()

	assert.Equal(t, 0, ring.Size())
	assert.Nil(t, ring.Last(1))
}
