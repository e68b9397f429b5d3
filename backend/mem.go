// Package backend provides standard base-device implementations for
// raid1 mirrors: a sharded-lock RAM device and an io_uring-backed file
// device.
package backend

import (
	"context"
	"sync"

	"github.com/behrlich/go-raid1mirror/internal/constants"
	"github.com/behrlich/go-raid1mirror/internal/interfaces"
)

// ShardSize is the size of each memory shard (64KB)
// This provides good parallelism for 4K random I/O while keeping lock overhead reasonable.
// With 64KB shards, a 256MB device has 4096 shards.
const ShardSize = 64 * 1024

// Memory provides a RAM-based base device for mirrors.
// It uses sharded locking to allow parallel I/O from multiple channels,
// and tracks shard allocation so the fragmap scanner's SEEK_DATA /
// SEEK_HOLE oracle works at shard granularity. Submissions complete
// inline, on the submitting goroutine.
type Memory struct {
	data      []byte
	size      int64
	blockSize uint64
	boundary  uint64
	shards    []sync.RWMutex

	allocMu   sync.Mutex
	allocated []bool // one entry per shard
}

// NewMemory creates a new memory base device of the specified size in
// bytes, with the default block size and optimal-IO boundary.
func NewMemory(size int64) *Memory {
	return NewMemoryGeometry(size, constants.DefaultLogicalBlockSize, constants.DefaultOptimalIOBoundary)
}

// NewMemoryGeometry creates a memory base device with an explicit block
// size (bytes) and optimal-IO boundary (blocks).
func NewMemoryGeometry(size int64, blockSize, optimalIOBoundary uint64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	return &Memory{
		data:      make([]byte, size),
		size:      size,
		blockSize: blockSize,
		boundary:  optimalIOBoundary,
		shards:    make([]sync.RWMutex, numShards),
		allocated: make([]bool, numShards),
	}
}

// shardRange returns the range of shards that cover [off, off+len)
func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

func (m *Memory) readAt(p []byte, off int64) bool {
	if off >= m.size || off+int64(len(p)) > m.size {
		return false
	}

	// Lock only the shards we need (for reads, use RLock)
	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}

	copy(p, m.data[off:off+int64(len(p))])

	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}

	return true
}

func (m *Memory) writeAt(p []byte, off int64) bool {
	if off >= m.size || off+int64(len(p)) > m.size {
		return false
	}

	// Lock only the shards we need
	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}

	copy(m.data[off:off+int64(len(p))], p)

	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	m.allocMu.Lock()
	for i := startShard; i <= endShard; i++ {
		m.allocated[i] = true
	}
	m.allocMu.Unlock()

	return true
}

// ReadvBlocksExt implements the BaseDevice interface. The scatter read
// completes inline before the call returns.
func (m *Memory) ReadvBlocksExt(ctx context.Context, iovec [][]byte, offsetBlocks, numBlocks uint64, opts interfaces.MemoryDomainOpts, done interfaces.CompletionFunc) interfaces.SubmitResult {
	if m.data == nil {
		return interfaces.SubmitFailed
	}
	off := int64(offsetBlocks * m.blockSize)
	ok := true
	for _, seg := range iovec {
		if !m.readAt(seg, off) {
			ok = false
			break
		}
		off += int64(len(seg))
	}
	done(ok, nil)
	return interfaces.SubmitAccepted
}

// WritevBlocksExt implements the BaseDevice interface.
func (m *Memory) WritevBlocksExt(ctx context.Context, iovec [][]byte, offsetBlocks, numBlocks uint64, opts interfaces.MemoryDomainOpts, done interfaces.CompletionFunc) interfaces.SubmitResult {
	if m.data == nil {
		return interfaces.SubmitFailed
	}
	off := int64(offsetBlocks * m.blockSize)
	ok := true
	for _, seg := range iovec {
		if !m.writeAt(seg, off) {
			ok = false
			break
		}
		off += int64(len(seg))
	}
	done(ok, nil)
	return interfaces.SubmitAccepted
}

// UnmapBlocks implements the BaseDevice interface. The discarded range
// is zeroed, and fully-covered shards become holes again.
func (m *Memory) UnmapBlocks(ctx context.Context, offsetBlocks, numBlocks uint64, done interfaces.CompletionFunc) interfaces.SubmitResult {
	if m.data == nil {
		return interfaces.SubmitFailed
	}

	offset := int64(offsetBlocks * m.blockSize)
	end := offset + int64(numBlocks*m.blockSize)
	if offset >= m.size {
		done(true, nil)
		return interfaces.SubmitAccepted
	}
	if end > m.size {
		end = m.size
	}

	startShard, endShard := m.shardRange(offset, end-offset)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}

	for i := offset; i < end; i++ {
		m.data[i] = 0
	}

	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	m.allocMu.Lock()
	for i := startShard; i <= endShard; i++ {
		shardStart := int64(i) * ShardSize
		shardEnd := shardStart + ShardSize
		if shardEnd > m.size {
			shardEnd = m.size
		}
		if offset <= shardStart && end >= shardEnd {
			m.allocated[i] = false
		}
	}
	m.allocMu.Unlock()

	done(true, nil)
	return interfaces.SubmitAccepted
}

// FlushBlocks implements the BaseDevice interface. Memory needs no
// flushing; the completion fires immediately.
func (m *Memory) FlushBlocks(ctx context.Context, offsetBlocks, numBlocks uint64, done interfaces.CompletionFunc) interfaces.SubmitResult {
	if m.data == nil {
		return interfaces.SubmitFailed
	}
	done(true, nil)
	return interfaces.SubmitAccepted
}

// DataSize implements the BaseDevice interface
func (m *Memory) DataSize() uint64 {
	return uint64(m.size) / m.blockSize
}

// OptimalIOBoundary implements the BaseDevice interface
func (m *Memory) OptimalIOBoundary() uint64 {
	return m.boundary
}

// Size implements the SeekableDevice interface
func (m *Memory) Size() int64 {
	return m.size
}

// SeekData implements the SeekableDevice interface at shard granularity.
func (m *Memory) SeekData(off int64) (int64, error) {
	if off >= m.size {
		return -1, nil
	}
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	for i := int(off / ShardSize); i < len(m.allocated); i++ {
		if m.allocated[i] {
			start := int64(i) * ShardSize
			if start < off {
				start = off
			}
			return start, nil
		}
	}
	return -1, nil
}

// SeekHole implements the SeekableDevice interface at shard granularity.
func (m *Memory) SeekHole(off int64) (int64, error) {
	if off >= m.size {
		return m.size, nil
	}
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	for i := int(off / ShardSize); i < len(m.allocated); i++ {
		if !m.allocated[i] {
			start := int64(i) * ShardSize
			if start < off {
				start = off
			}
			return start, nil
		}
	}
	return m.size, nil
}

// Close implements the BaseDevice interface
func (m *Memory) Close() error {
	// No need to lock all shards - just clear the data
	m.data = nil
	return nil
}

// Stats returns operational statistics for diagnostics
func (m *Memory) Stats() map[string]interface{} {
	m.allocMu.Lock()
	allocatedShards := 0
	for _, a := range m.allocated {
		if a {
			allocatedShards++
		}
	}
	m.allocMu.Unlock()

	return map[string]interface{}{
		"type":             "memory",
		"size":             m.size,
		"block_size":       m.blockSize,
		"num_shards":       len(m.shards),
		"allocated_shards": allocatedShards,
		"shard_size":       ShardSize,
	}
}

// Compile-time interface checks
var (
	_ interfaces.BaseDevice     = (*Memory)(nil)
	_ interfaces.SeekableDevice = (*Memory)(nil)
)
