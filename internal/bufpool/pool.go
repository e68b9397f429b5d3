// Package bufpool provides pooled byte slices for the rebuild pipeline's
// region buffers, avoiding a fresh allocation per copied region.
package bufpool

import "sync"

// Buffer size thresholds. Size-bucketed pools with power-of-2 sizes
// (128KB, 256KB, 512KB, 1MB) balance memory efficiency with allocation
// reduction; a 1MB bucket covers a default-geometry rebuild region
// (2048 blocks of 512 bytes) exactly.
const (
	size128k = 128 * 1024
	size256k = 256 * 1024
	size512k = 512 * 1024
	size1m   = 1024 * 1024
)

// globalPool is the shared buffer pool for all rebuild pipelines.
// Uses pointer-to-slice pattern for efficient sync.Pool usage.
var globalPool = struct {
	pool128k sync.Pool
	pool256k sync.Pool
	pool512k sync.Pool
	pool1m   sync.Pool
}{
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool512k: sync.Pool{New: func() any { b := make([]byte, size512k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// Get returns a buffer of exactly the requested size, pooled when the
// size fits a bucket and freshly allocated otherwise. Caller must call
// Put when done.
func Get(size uint64) []byte {
	switch {
	case size <= size128k:
		return (*globalPool.pool128k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalPool.pool256k.Get().(*[]byte))[:size]
	case size <= size512k:
		return (*globalPool.pool512k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*globalPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer to the pool.
// The buffer's capacity determines which pool it goes to.
func Put(buf []byte) {
	c := cap(buf)
	// Restore full capacity before returning to pool
	buf = buf[:c]
	switch c {
	case size128k:
		globalPool.pool128k.Put(&buf)
	case size256k:
		globalPool.pool256k.Put(&buf)
	case size512k:
		globalPool.pool512k.Put(&buf)
	case size1m:
		globalPool.pool1m.Put(&buf)
		// Buffers with non-standard capacity are not returned to pool
	}
}
