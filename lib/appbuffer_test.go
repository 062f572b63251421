package lib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppBufferFIFO(t *testing.T) {
	closed := make(chan struct{})
	b := newAppBuffer(newPayloadPool(8, 16, false, 10), 4, closed)

	require.True(t, b.put([]byte("first")))
	require.True(t, b.put([]byte("second")))
	assert.Equal(t, 2, b.len())

	buf := make([]byte, 16)
	n, err := b.get(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))

	// shorter destination truncates
	n, err = b.get(context.Background(), buf[:3])
	require.NoError(t, err)
	assert.Equal(t, "sec", string(buf[:n]))
	assert.Equal(t, 0, b.len())
}

func TestAppBufferFull(t *testing.T) {
	b := newAppBuffer(newPayloadPool(8, 16, false, 10), 2, make(chan struct{}))
	require.True(t, b.put([]byte("a")))
	require.True(t, b.put([]byte("b")))
	assert.False(t, b.put([]byte("c")))
	assert.False(t, newAppBuffer(newPayloadPool(8, 4, false, 10), 2, make(chan struct{})).put([]byte("too long")))
}

func TestAppBufferGetUnblocks(t *testing.T) {
	closed := make(chan struct{})
	b := newAppBuffer(newPayloadPool(8, 16, false, 10), 2, closed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.get(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(closed)
	_, err = b.get(context.Background(), make([]byte, 16))
	assert.ErrorIs(t, err, ErrStackClosed)
}
