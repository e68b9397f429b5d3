package raid1mirror

import (
	"context"
	"sync"

	"github.com/behrlich/go-raid1mirror/internal/interfaces"
)

// MockWrite records one writev a MockBaseDevice accepted.
type MockWrite struct {
	OffsetBlocks uint64
	NumBlocks    uint64
}

// MockBaseDevice provides a mock implementation of BaseDevice for testing.
// Completions are delivered inline, on the submitting goroutine, before
// the Submit* call returns — the strictest version of the "completions
// are delivered on the same channel thread that submitted" contract.
//
// Failure injection is configured through the exported fields below;
// set them before handing the device to a mirror or dispatcher.
type MockBaseDevice struct {
	// FailReads makes every read submission complete with failure.
	FailReads bool
	// FailWrites makes every write submission complete with failure.
	FailWrites bool
	// FailUnmaps / FailFlushes do the same for the null-payload ops.
	FailUnmaps  bool
	FailFlushes bool

	// BusyReads / BusyWrites make the next N submissions of that kind
	// return SubmitBusy (transient queue-full) before accepting again.
	BusyReads  int
	BusyWrites int

	// RejectReads / RejectWrites make submissions fail permanently at
	// submission time (SubmitFailed) instead of completing with an error.
	RejectReads  bool
	RejectWrites bool

	data      []byte
	blockSize uint64
	boundary  uint64
	closed    bool

	mu         sync.Mutex
	readCalls  int
	writeCalls int
	unmapCalls int
	flushCalls int
	writes     []MockWrite
	extents    []mockExtent
}

type mockExtent struct {
	off uint64
	end uint64
}

// NewMockBaseDevice creates a mock base device holding sizeBlocks blocks
// of blockSize bytes, with the given optimal-IO boundary (in blocks).
func NewMockBaseDevice(sizeBlocks, blockSize, optimalIOBoundary uint64) *MockBaseDevice {
	return &MockBaseDevice{
		data:      make([]byte, sizeBlocks*blockSize),
		blockSize: blockSize,
		boundary:  optimalIOBoundary,
	}
}

// ReadvBlocksExt implements the BaseDevice interface
func (m *MockBaseDevice) ReadvBlocksExt(ctx context.Context, iovec [][]byte, offsetBlocks, numBlocks uint64, opts interfaces.MemoryDomainOpts, done interfaces.CompletionFunc) interfaces.SubmitResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return interfaces.SubmitFailed
	}
	if m.BusyReads > 0 {
		m.BusyReads--
		m.mu.Unlock()
		return interfaces.SubmitBusy
	}
	if m.RejectReads {
		m.mu.Unlock()
		return interfaces.SubmitFailed
	}
	m.readCalls++
	fail := m.FailReads
	if !fail {
		off := offsetBlocks * m.blockSize
		for _, seg := range iovec {
			copy(seg, m.data[off:])
			off += uint64(len(seg))
		}
	}
	m.mu.Unlock()

	if fail {
		done(false, ErrPermanentIO)
	} else {
		done(true, nil)
	}
	return interfaces.SubmitAccepted
}

// WritevBlocksExt implements the BaseDevice interface
func (m *MockBaseDevice) WritevBlocksExt(ctx context.Context, iovec [][]byte, offsetBlocks, numBlocks uint64, opts interfaces.MemoryDomainOpts, done interfaces.CompletionFunc) interfaces.SubmitResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return interfaces.SubmitFailed
	}
	if m.BusyWrites > 0 {
		m.BusyWrites--
		m.mu.Unlock()
		return interfaces.SubmitBusy
	}
	if m.RejectWrites {
		m.mu.Unlock()
		return interfaces.SubmitFailed
	}
	m.writeCalls++
	m.writes = append(m.writes, MockWrite{OffsetBlocks: offsetBlocks, NumBlocks: numBlocks})
	fail := m.FailWrites
	if !fail {
		off := offsetBlocks * m.blockSize
		for _, seg := range iovec {
			copy(m.data[off:], seg)
			off += uint64(len(seg))
		}
		m.markAllocated(offsetBlocks*m.blockSize, numBlocks*m.blockSize)
	}
	m.mu.Unlock()

	if fail {
		done(false, ErrPermanentIO)
	} else {
		done(true, nil)
	}
	return interfaces.SubmitAccepted
}

// UnmapBlocks implements the BaseDevice interface
func (m *MockBaseDevice) UnmapBlocks(ctx context.Context, offsetBlocks, numBlocks uint64, done interfaces.CompletionFunc) interfaces.SubmitResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return interfaces.SubmitFailed
	}
	m.unmapCalls++
	fail := m.FailUnmaps
	if !fail {
		off := offsetBlocks * m.blockSize
		end := off + numBlocks*m.blockSize
		for i := off; i < end && i < uint64(len(m.data)); i++ {
			m.data[i] = 0
		}
	}
	m.mu.Unlock()

	if fail {
		done(false, ErrPermanentIO)
	} else {
		done(true, nil)
	}
	return interfaces.SubmitAccepted
}

// FlushBlocks implements the BaseDevice interface
func (m *MockBaseDevice) FlushBlocks(ctx context.Context, offsetBlocks, numBlocks uint64, done interfaces.CompletionFunc) interfaces.SubmitResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return interfaces.SubmitFailed
	}
	m.flushCalls++
	fail := m.FailFlushes
	m.mu.Unlock()

	if fail {
		done(false, ErrPermanentIO)
	} else {
		done(true, nil)
	}
	return interfaces.SubmitAccepted
}

// DataSize implements the BaseDevice interface
func (m *MockBaseDevice) DataSize() uint64 {
	return uint64(len(m.data)) / m.blockSize
}

// OptimalIOBoundary implements the BaseDevice interface
func (m *MockBaseDevice) OptimalIOBoundary() uint64 {
	return m.boundary
}

// Close implements the BaseDevice interface
func (m *MockBaseDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Size implements the SeekableDevice interface
func (m *MockBaseDevice) Size() int64 {
	return int64(len(m.data))
}

// SeekData implements the SeekableDevice interface over the extents
// recorded by Allocate and by completed writes.
func (m *MockBaseDevice) SeekData(off int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := int64(-1)
	for _, e := range m.extents {
		if e.end <= uint64(off) {
			continue
		}
		candidate := int64(e.off)
		if candidate < off {
			candidate = off
		}
		if best == -1 || candidate < best {
			best = candidate
		}
	}
	return best, nil
}

// SeekHole implements the SeekableDevice interface.
func (m *MockBaseDevice) SeekHole(off int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := uint64(off)
	for {
		advanced := false
		for _, e := range m.extents {
			if e.off <= cur && cur < e.end {
				cur = e.end
				advanced = true
			}
		}
		if !advanced {
			break
		}
	}
	if cur > uint64(len(m.data)) {
		cur = uint64(len(m.data))
	}
	return int64(cur), nil
}

// Allocate marks [offBytes, offBytes+lenBytes) as allocated without
// writing through the I/O path, for fragmap tests.
func (m *MockBaseDevice) Allocate(offBytes, lenBytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markAllocated(offBytes, lenBytes)
}

func (m *MockBaseDevice) markAllocated(offBytes, lenBytes uint64) {
	if lenBytes == 0 {
		return
	}
	m.extents = append(m.extents, mockExtent{off: offBytes, end: offBytes + lenBytes})
}

// Testing utility methods

// Bytes returns the device contents at [offsetBlocks, offsetBlocks+numBlocks).
func (m *MockBaseDevice) Bytes(offsetBlocks, numBlocks uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := offsetBlocks * m.blockSize
	out := make([]byte, numBlocks*m.blockSize)
	copy(out, m.data[off:])
	return out
}

// Fill writes a pattern directly into the device, bypassing the I/O path.
func (m *MockBaseDevice) Fill(offsetBlocks uint64, pattern []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[offsetBlocks*m.blockSize:], pattern)
	m.markAllocated(offsetBlocks*m.blockSize, uint64(len(pattern)))
}

// Writes returns every writev this device accepted, in order.
func (m *MockBaseDevice) Writes() []MockWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

// Resize grows or truncates the device to sizeBlocks, for resize tests.
func (m *MockBaseDevice) Resize(sizeBlocks uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newData := make([]byte, sizeBlocks*m.blockSize)
	copy(newData, m.data)
	m.data = newData
}

// CallCounts returns the number of times each submission kind was accepted
func (m *MockBaseDevice) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"unmap": m.unmapCalls,
		"flush": m.flushCalls,
	}
}

// Reset resets call counters, recorded writes, and failure injection
func (m *MockBaseDevice) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = 0
	m.writeCalls = 0
	m.unmapCalls = 0
	m.flushCalls = 0
	m.writes = nil
	m.FailReads = false
	m.FailWrites = false
	m.FailUnmaps = false
	m.FailFlushes = false
	m.BusyReads = 0
	m.BusyWrites = 0
	m.RejectReads = false
	m.RejectWrites = false
}

// Compile-time interface checks
var (
	_ BaseDevice     = (*MockBaseDevice)(nil)
	_ SeekableDevice = (*MockBaseDevice)(nil)
)
