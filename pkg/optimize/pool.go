package optimize

import (
	"sync"
	"sync/atomic"
)

// BytePool is a pool of fixed-size byte slices. Sources use one per
// session so a steady stream of frames does not allocate.
type BytePool struct {
	pool sync.Pool
	size int

	allocs atomic.Uint64
}

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() interface{} {
		p.allocs.Add(1)
		b := make([]byte, size)
		return &b
	}
	return p
}

// Size is the length of every slice handed out.
func (p *BytePool) Size() int { return p.size }

// Get gets a byte slice from the pool
func (p *BytePool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a byte slice to the pool
func (p *BytePool) Put(b []byte) {
	// Only put back if it's the right size
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// Allocs reports how many slices the pool had to allocate.
func (p *BytePool) Allocs() uint64 { return p.allocs.Load() }
