package lib

import (
	"context"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// appBuffer is the FIFO between the dispatcher and Recv. Every entry is a
// ring pool chunk that goes back to the pool once Recv has copied it out.
type appBuffer struct {
	pool   *rp.RingPool
	queue  chan *rp.Element
	closed <-chan struct{}
}

func newAppBuffer(pool *rp.RingPool, size int, closed <-chan struct{}) *appBuffer {
	return &appBuffer{
		pool:   pool,
		queue:  make(chan *rp.Element, size),
		closed: closed,
	}
}

// put stores a copy of payload. It reports false when the buffer is full,
// in which case the segment must not be acknowledged as accepted.
func (b *appBuffer) put(payload []byte) bool {
	chunk := b.pool.GetElement()
	if chunk == nil {
		return false
	}
	if err := chunk.Data.(*Payload).Copy(payload); err != nil {
		b.pool.ReturnElement(chunk)
		return false
	}
	select {
	case b.queue <- chunk:
		return true
	default:
		b.pool.ReturnElement(chunk)
		return false
	}
}

// get blocks until a payload is available and copies it into buf. A payload
// longer than buf is truncated.
func (b *appBuffer) get(ctx context.Context, buf []byte) (int, error) {
	select {
	case chunk := <-b.queue:
		n := copy(buf, chunk.Data.(*Payload).GetSlice())
		b.pool.ReturnElement(chunk)
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-b.closed:
		return 0, ErrStackClosed
	}
}

func (b *appBuffer) len() int {
	return len(b.queue)
}
