package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrippedBufferView(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4}
	stripped := NewStrippedBuffer(data, 2)
	require.Equal(t, []byte{2, 3, 4}, stripped.Bytes())

	full, prefix := stripped.IntoBuffer()
	require.Equal(t, data, full)
	require.Equal(t, 2, prefix)
}

func TestStrippedBufferFullStrip(t *testing.T) {
	stripped := NewStrippedBuffer([]byte{1, 2}, 2)
	require.Empty(t, stripped.Bytes())
}

func TestStrippedBufferPanicsOnOverStrip(t *testing.T) {
	require.Panics(t, func() {
		NewStrippedBuffer([]byte{1, 2}, 3)
	})
}

func TestBufferPoolRecycles(t *testing.T) {
	pool := NewBufferPool(32)
	buf := pool.Get()
	require.Len(t, buf, 32)

	// A shortened slice comes back at full size.
	pool.Put(buf[:5])
	again := pool.Get()
	require.Len(t, again, 32)
}

func TestBufferPoolRejectsUndersized(t *testing.T) {
	pool := NewBufferPool(32)
	pool.Put(make([]byte, 8))
	require.Len(t, pool.Get(), 32)
}
