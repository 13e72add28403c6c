package common

import "github.com/colega/zeropool"

// BufferPool recycles fixed-size receive buffers for the datagram read
// path. Buffers handed to a fragment that survives validation are retained
// by the reassembly layer and come back to the pool once their sequence
// completes or is evicted.
type BufferPool struct {
	pool zeropool.Pool[[]byte]
	size int
}

// NewBufferPool creates a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		pool: zeropool.New(func() []byte { return make([]byte, size) }),
		size: size,
	}
}

// Get returns a buffer of the pool's full size.
func (p *BufferPool) Get() []byte {
	return p.pool.Get()[:p.size]
}

// Put returns a buffer to the pool. Buffers with insufficient capacity are
// dropped rather than poisoning the pool.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}
