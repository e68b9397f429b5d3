package raid1mirror

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeThrough submits one write and requires a terminal status inline
// (every MockBaseDevice completes synchronously).
func writeThrough(t *testing.T, ch *IOChannel, offsetBlocks, numBlocks uint64) Status {
	t.Helper()
	buf := make([]byte, numBlocks*512)
	for i := range buf {
		buf[i] = byte(i % 239)
	}
	var got Status
	fired := false
	err := ch.Write(context.Background(), [][]byte{buf}, offsetBlocks, numBlocks, MemoryDomainOpts{}, func(s Status) {
		fired = true
		got = s
	})
	require.NoError(t, err)
	require.True(t, fired, "write did not complete inline")
	return got
}

func readThrough(t *testing.T, ch *IOChannel, buf []byte, offsetBlocks, numBlocks uint64) Status {
	t.Helper()
	var got Status
	fired := false
	err := ch.Read(context.Background(), [][]byte{buf}, offsetBlocks, numBlocks, MemoryDomainOpts{}, func(s Status) {
		fired = true
		got = s
	})
	require.NoError(t, err)
	require.True(t, fired, "read did not complete inline")
	return got
}

// Three healthy bases, 300 reads of 8 blocks each: outstanding counters
// never exceed one I/O's worth on any base, end at zero, and every read
// succeeds.
func TestReadLoadBalance(t *testing.T) {
	bases := []*MockBaseDevice{
		NewMockBaseDevice(4096, 512, 64),
		NewMockBaseDevice(4096, 512, 64),
		NewMockBaseDevice(4096, 512, 64),
	}
	m := newTestMirror(t, DefaultParams(bases[0], bases[1], bases[2]), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	buf := make([]byte, 8*512)
	for i := 0; i < 300; i++ {
		require.Equal(t, StatusSuccess, readThrough(t, ch, buf, uint64(i%100)*8, 8))
		for b := 0; b < 3; b++ {
			require.LessOrEqual(t, ch.Outstanding(b), uint64(8))
		}
	}
	for b := 0; b < 3; b++ {
		require.Equal(t, uint64(0), ch.Outstanding(b), "counters drain to zero")
	}

	// With synchronous completions every read lands on the same
	// least-loaded-lowest-index replica; the point is that the counter
	// accounting stays exact.
	counts := bases[0].CallCounts()["read"] + bases[1].CallCounts()["read"] + bases[2].CallCounts()["read"]
	require.Equal(t, 300, counts)
}

// A read whose primary replica fails is recovered from the other
// replica and written back to the failing one; the caller sees the
// recovered bytes.
func TestReadRepairOnSingleFailure(t *testing.T) {
	b0 := NewMockBaseDevice(4096, 512, 64)
	b1 := NewMockBaseDevice(4096, 512, 64)

	pattern := bytes.Repeat([]byte{0x5A}, 16*512)
	b0.Fill(1024, pattern) // stale copy; b0 fails reads anyway
	b1.Fill(1024, pattern)
	b0.FailReads = true

	m := newTestMirror(t, DefaultParams(b0, b1), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	buf := make([]byte, 16*512)
	require.Equal(t, StatusSuccess, readThrough(t, ch, buf, 1024, 16))
	require.True(t, bytes.Equal(buf, pattern), "caller sees the alternate replica's bytes")

	writes := b0.Writes()
	require.Len(t, writes, 1, "recovered data written back to the failing base")
	require.Equal(t, uint64(1024), writes[0].OffsetBlocks)
	require.Equal(t, uint64(16), writes[0].NumBlocks)
}

// Same as above but the write-back also fails: the caller still sees
// success, the base is externally failed, and the delta region is
// marked.
func TestReadRepairWritebackFailure(t *testing.T) {
	b0 := NewMockBaseDevice(4096, 512, 64)
	b1 := NewMockBaseDevice(4096, 512, 64)

	pattern := bytes.Repeat([]byte{0xA5}, 16*512)
	b1.Fill(1024, pattern)
	b0.FailReads = true
	b0.FailWrites = true

	var failed []int
	m := newTestMirror(t, MirrorParams{
		Name:                 "m",
		BlockSize:            512,
		DeltaTrackingEnabled: true,
		Bases:                []BaseSpec{{Device: b0}, {Device: b1}},
	}, &Options{OnBaseFailed: func(base int) { failed = append(failed, base) }})
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	buf := make([]byte, 16*512)
	require.Equal(t, StatusSuccess, readThrough(t, ch, buf, 1024, 16))
	require.True(t, bytes.Equal(buf, pattern))

	require.Equal(t, []int{0}, failed, "base 0 externally failed")
	require.Equal(t, BaseStateFaulty, ch.BaseState(0))
	delta := ch.Delta(0)
	require.NotNil(t, delta)
	require.True(t, delta.Get(1024/64), "delta region covering the write-back is set")
}

// With no healthy replica left, the read fails terminally.
func TestReadAllReplicasFail(t *testing.T) {
	b0 := NewMockBaseDevice(4096, 512, 64)
	b1 := NewMockBaseDevice(4096, 512, 64)
	b0.FailReads = true
	b1.FailReads = true

	m := newTestMirror(t, DefaultParams(b0, b1), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.Equal(t, StatusFailed, readThrough(t, ch, buf, 0, 1))
}

// A write with one missing replica still succeeds through the others,
// and the missing replica's delta bitmap covers the write.
func TestWriteWithMissingReplica(t *testing.T) {
	b0 := NewMockBaseDevice(4096, 512, 64)
	b1 := NewMockBaseDevice(4096, 512, 64)
	b2 := NewMockBaseDevice(4096, 512, 64)

	m := newTestMirror(t, MirrorParams{
		Name:                 "m",
		BlockSize:            512,
		DeltaTrackingEnabled: true,
		Bases:                []BaseSpec{{Device: b0}, {Device: b1}, {Device: b2}},
	}, nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	ch.DetachBase(1)
	require.Equal(t, StatusSuccess, writeThrough(t, ch, 128, 64))

	require.Equal(t, 1, b0.CallCounts()["write"])
	require.Equal(t, 0, b1.CallCounts()["write"])
	require.Equal(t, 1, b2.CallCounts()["write"])

	require.Equal(t, BaseStateFaulty, ch.BaseState(1), "missed write lazily starts tracking")
	delta := ch.Delta(1)
	require.NotNil(t, delta)
	require.True(t, delta.Get(2), "region 128/64 is set")
	require.False(t, delta.Get(1))
	require.False(t, delta.Get(3))
}

// An all-missing write completes FAILED.
func TestWriteAllReplicasMissing(t *testing.T) {
	b0 := NewMockBaseDevice(4096, 512, 64)
	m := newTestMirror(t, DefaultParams(b0), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	ch.DetachBase(0)
	require.Equal(t, StatusFailed, writeThrough(t, ch, 0, 8))
}

// ENOMEM back-pressure parks the write at its cursor; Resume re-enters
// and the fan-out completes normally across both legs.
func TestWriteBackpressureResume(t *testing.T) {
	b0 := NewMockBaseDevice(4096, 512, 64)
	b1 := NewMockBaseDevice(4096, 512, 64)
	b0.BusyWrites = 1

	m := newTestMirror(t, DefaultParams(b0, b1), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	buf := make([]byte, 8*512)
	var got Status
	fired := false
	require.NoError(t, ch.Write(context.Background(), [][]byte{buf}, 0, 8, MemoryDomainOpts{}, func(s Status) {
		fired = true
		got = s
	}))
	require.False(t, fired, "write is parked, not completed")
	require.Equal(t, 0, b0.CallCounts()["write"])
	require.Equal(t, 0, b1.CallCounts()["write"], "leg 1 not submitted before leg 0 unblocks")

	ch.Resume(0)
	require.True(t, fired)
	require.Equal(t, StatusSuccess, got)
	require.Equal(t, 1, b0.CallCounts()["write"])
	require.Equal(t, 1, b1.CallCounts()["write"])
}

// A failed write leg marks the base faulty, reports it, and the write
// still succeeds through the surviving leg.
func TestWriteLegFailureFaultsBase(t *testing.T) {
	b0 := NewMockBaseDevice(4096, 512, 64)
	b1 := NewMockBaseDevice(4096, 512, 64)
	b1.FailWrites = true

	var failed []int
	m := newTestMirror(t, MirrorParams{
		Name:                 "m",
		BlockSize:            512,
		DeltaTrackingEnabled: true,
		Bases:                []BaseSpec{{Device: b0}, {Device: b1}},
	}, &Options{OnBaseFailed: func(base int) { failed = append(failed, base) }})
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	require.Equal(t, StatusSuccess, writeThrough(t, ch, 0, 8))
	require.Equal(t, []int{1}, failed)
	require.Equal(t, BaseStateFaulty, ch.BaseState(1))
}

// Unmap and flush tolerate a missing replica and aggregate like writes
// otherwise.
func TestUnmapFlushMissingReplica(t *testing.T) {
	b0 := NewMockBaseDevice(4096, 512, 64)
	b1 := NewMockBaseDevice(4096, 512, 64)
	m := newTestMirror(t, DefaultParams(b0, b1), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	ch.DetachBase(1)

	var got Status
	require.NoError(t, ch.Unmap(context.Background(), 0, 64, func(s Status) { got = s }))
	require.Equal(t, StatusSuccess, got)
	require.Equal(t, 1, b0.CallCounts()["unmap"])
	require.Equal(t, 0, b1.CallCounts()["unmap"])
	require.Nil(t, ch.Delta(1), "missing replica on unmap is not a tracked miss")

	require.NoError(t, ch.Flush(context.Background(), func(s Status) { got = s }))
	require.Equal(t, StatusSuccess, got)
	require.Equal(t, 1, b0.CallCounts()["flush"])
}

func TestIORangeValidation(t *testing.T) {
	b0 := NewMockBaseDevice(100, 512, 64)
	m := newTestMirror(t, DefaultParams(b0), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	buf := make([]byte, 512)
	err = ch.Read(context.Background(), [][]byte{buf}, 100, 1, MemoryDomainOpts{}, nil)
	require.True(t, IsCode(err, ErrCodeInvalidArg))
	err = ch.Write(context.Background(), [][]byte{buf}, 0, 0, MemoryDomainOpts{}, nil)
	require.True(t, IsCode(err, ErrCodeInvalidArg))
	err = ch.Unmap(context.Background(), 64, 64, nil)
	require.True(t, IsCode(err, ErrCodeInvalidArg))
}

// Rebuild copies a stale replica back into sync through the ordinary
// read path, region by region.
func TestRebuildFullCopy(t *testing.T) {
	b0 := NewMockBaseDevice(256, 512, 64)
	b1 := NewMockBaseDevice(256, 512, 64)

	pattern := bytes.Repeat([]byte{0x77}, 256*512)
	b0.Fill(0, pattern)
	// b1 starts empty (stale).

	m := newTestMirror(t, DefaultParams(b0, b1), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	var rebuildErr error
	fired := false
	require.NoError(t, ch.Rebuild(context.Background(), 1, false, func(err error) {
		fired = true
		rebuildErr = err
	}))
	require.True(t, fired)
	require.NoError(t, rebuildErr)
	require.True(t, bytes.Equal(b1.Bytes(0, 256), pattern), "target converged to the healthy replica")
	require.Equal(t, 4, b1.CallCounts()["write"], "one write per 64-block region")
}

// A delta-only rebuild touches just the dirty regions and clears their
// bits.
func TestRebuildDeltaOnly(t *testing.T) {
	b0 := NewMockBaseDevice(256, 512, 64)
	b1 := NewMockBaseDevice(256, 512, 64)

	pattern := bytes.Repeat([]byte{0x33}, 256*512)
	b0.Fill(0, pattern)

	params := MirrorParams{
		Name:                 "m",
		BlockSize:            512,
		DeltaTrackingEnabled: true,
		Bases:                []BaseSpec{{Device: b0}, {Device: b1}},
	}
	m := newTestMirror(t, params, nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	// Fault base 1, miss a write in region 2, then hand off.
	require.NoError(t, m.SetBaseState(ch, 1, BaseStateFaulty))
	ch.DetachBase(1)
	writeThrough(t, ch, 128, 64)
	require.NoError(t, m.SetBaseState(ch, 1, BaseStateFaultyStopped))

	b1.Reset() // drop write counters before the rebuild
	ch.AttachBase(1)

	var rebuildErr error
	require.NoError(t, ch.Rebuild(context.Background(), 1, true, func(err error) { rebuildErr = err }))
	require.NoError(t, rebuildErr)

	writes := b1.Writes()
	require.Len(t, writes, 1, "only the dirty region is copied")
	require.Equal(t, uint64(128), writes[0].OffsetBlocks)
	require.False(t, m.BaseDelta(1).Get(2), "dirty bit cleared after copy")
}

func TestRebuildValidation(t *testing.T) {
	b0 := NewMockBaseDevice(256, 512, 64)
	m := newTestMirror(t, DefaultParams(b0), nil)
	ch, err := m.GetIOChannel()
	require.NoError(t, err)

	err = ch.Rebuild(context.Background(), 5, false, nil)
	require.True(t, IsCode(err, ErrCodeInvalidArg))
}
