package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered byte slice pool for request read buffers
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	misses atomic.Uint64
}

// Size tiers for request buffers: most requests fit the first two
var defaultSizes = []int{
	1024,
	4096,
	16384,
	65536,
}

// NewBytePool creates a new byte pool with standard size tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers, which
// must be ascending
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a byte slice of length size. Sizes beyond the largest tier
// are allocated directly.
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:size]
		}
	}

	bp.misses.Add(1)
	return make([]byte, size)
}

// Put returns a byte slice to the pool. Slices whose capacity does not
// match a tier are left to the GC.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// MaxSize returns the largest pooled size.
func (bp *BytePool) MaxSize() int {
	if len(bp.sizes) == 0 {
		return 0
	}
	return bp.sizes[len(bp.sizes)-1]
}

// BytePoolStats reports how often Get was served by a tier
type BytePoolStats struct {
	Gets   uint64 `json:"gets"`
	Misses uint64 `json:"misses"`
}

// Stats returns pool statistics
func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:   bp.gets.Load(),
		Misses: bp.misses.Load(),
	}
}
