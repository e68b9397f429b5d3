// Package channel implements per-(mirror, I/O channel) state:
// outstanding-read-block counters used for load balancing, the
// per-channel delta bitmaps, and the base-device fault state array,
// plus the create/destroy/grow lifecycle and the faulty-base / hand-off
// logic.
//
// A Channel is touched only by the goroutine that owns it; no internal
// locking is performed. The mirror-owned delta bitmap a hand-off folds
// bits into is the one piece of cross-channel state, and its mutation
// is serialized by the caller (the hand-off protocol), not by this
// package.
package channel

import (
	"fmt"

	"github.com/behrlich/go-raid1mirror/internal/basestate"
	"github.com/behrlich/go-raid1mirror/internal/bitarray"
)

// ErrOOM is the ENOMEM equivalent: bitmap allocation failure on the hot
// path or during hand-off.
var ErrOOM = fmt.Errorf("channel: allocation failed")

// RegionCount computes ceil(blockCount / optimalIOBoundary), the number
// of delta-bitmap regions for a mirror of the given size. Both the
// hot-path allocation (HandleFaultyBase) and the hand-off allocation
// (HandOff) size their bitmaps through this single helper so the two
// bitmaps always agree.
func RegionCount(blockCount, optimalIOBoundary uint64) uint64 {
	if optimalIOBoundary == 0 {
		return 0
	}
	return (blockCount + optimalIOBoundary - 1) / optimalIOBoundary
}

// Channel is the per-channel context attached to one base device set.
type Channel struct {
	blockCount        uint64
	optimalIOBoundary uint64
	deltaEnabled      bool

	outstandingRead []uint64
	deltaBitmaps    []*bitarray.BitArray // nil entries mean "not yet allocated"
	states          []basestate.State
}

// New allocates and zeros per-channel state for a mirror with n base
// slots. If deltaTrackingEnabled, a length-n array of nil bitmap
// handles is also allocated (bitmaps themselves are allocated lazily,
// on first fault).
func New(n int, blockCount, optimalIOBoundary uint64, deltaTrackingEnabled bool) (*Channel, error) {
	if n < 0 {
		return nil, fmt.Errorf("channel: negative base count %d", n)
	}
	c := &Channel{
		blockCount:        blockCount,
		optimalIOBoundary: optimalIOBoundary,
		deltaEnabled:      deltaTrackingEnabled,
		outstandingRead:   make([]uint64, n),
		states:            make([]basestate.State, n),
	}
	if deltaTrackingEnabled {
		c.deltaBitmaps = make([]*bitarray.BitArray, n)
	}
	return c, nil
}

// Destroy releases every owned delta bitmap and drops the three arrays.
func (c *Channel) Destroy() {
	for i := range c.deltaBitmaps {
		c.deltaBitmaps[i] = nil
	}
	c.outstandingRead = nil
	c.deltaBitmaps = nil
	c.states = nil
}

// NumBases returns the number of base slots this channel is sized for.
func (c *Channel) NumBases() int {
	return len(c.states)
}

// Grow reallocates the three per-channel arrays when the mirror has
// grown from NumBases() to newN base slots, zero-filling the appended
// entries. It is idempotent when newN == NumBases(), and leaves existing
// state untouched on failure: all three arrays grow together or none
// do.
func (c *Channel) Grow(newN int) bool {
	oldN := c.NumBases()
	if newN == oldN {
		return true
	}
	if newN < oldN {
		return false
	}

	newRead := make([]uint64, newN)
	copy(newRead, c.outstandingRead)

	var newBitmaps []*bitarray.BitArray
	if c.deltaEnabled {
		newBitmaps = make([]*bitarray.BitArray, newN)
		copy(newBitmaps, c.deltaBitmaps)
	}

	newStates := make([]basestate.State, newN)
	copy(newStates, c.states)

	c.outstandingRead = newRead
	c.deltaBitmaps = newBitmaps
	c.states = newStates
	return true
}

// Delta returns base i's per-channel delta bitmap, or nil if none has
// been allocated. Callers only inspect it; mutation stays inside
// HandleFaultyBase and HandOff.
func (c *Channel) Delta(i int) *bitarray.BitArray {
	if c.deltaBitmaps == nil {
		return nil
	}
	return c.deltaBitmaps[i]
}

// State returns the fault state of base i.
func (c *Channel) State(i int) basestate.State {
	return c.states[i]
}

// Outstanding returns the outstanding-read-block counter for base i.
func (c *Channel) Outstanding(i int) uint64 {
	return c.outstandingRead[i]
}

// IncRead adds n to base i's outstanding-read-block counter, called
// when a read is submitted.
func (c *Channel) IncRead(i int, n uint64) {
	c.outstandingRead[i] += n
}

// DecRead subtracts n from base i's outstanding-read-block counter,
// called on read completion before dispatching to success or
// read-repair.
func (c *Channel) DecRead(i int, n uint64) {
	c.outstandingRead[i] -= n
}

// HandleFaultyBase records a missed or failed write against one base:
// called from the hot path on a write miss or a failed read-repair
// write-back. It lazily starts tracking (NONE -> FAULTY) on first touch
// when delta tracking is globally enabled, then marks every region the
// [offsetBlocks, offsetBlocks+numBlocks) range overlaps. Allocation
// failure downgrades the state to FAULTY_STOPPED without failing the
// host I/O.
func (c *Channel) HandleFaultyBase(base int, offsetBlocks, numBlocks uint64) {
	if !c.deltaEnabled {
		return
	}
	state := c.states[base]
	if !(state == basestate.Faulty || state == basestate.None) {
		return
	}

	if c.deltaBitmaps[base] == nil {
		regions := RegionCount(c.blockCount, c.optimalIOBoundary)
		bm := allocBitmap(regions)
		if bm == nil {
			c.states[base] = basestate.FaultyStopped
			return
		}
		c.deltaBitmaps[base] = bm
		c.states[base] = basestate.Faulty
	}

	start := offsetBlocks / c.optimalIOBoundary
	end := (offsetBlocks + numBlocks - 1) / c.optimalIOBoundary
	c.deltaBitmaps[base].SetRange(start, end)
}

// HandOff performs an externally-requested fault-state transition for
// one base on this channel. mirrorBitmap is the mirror-owned, base-slot
// delta bitmap that a FAULTY -> FAULTY_STOPPED hand-off ORs the
// channel's bits into; it may be nil for any other transition.
func (c *Channel) HandOff(base int, newState basestate.State, mirrorBitmap *bitarray.BitArray) error {
	if err := basestate.CanHandOff(c.states[base], newState); err != nil {
		return err
	}

	cur := c.states[base]
	switch {
	case c.deltaEnabled && cur == basestate.None && newState == basestate.Faulty:
		regions := RegionCount(c.blockCount, c.optimalIOBoundary)
		bm := allocBitmap(regions)
		if bm == nil {
			return ErrOOM
		}
		c.deltaBitmaps[base] = bm

	case c.deltaEnabled && cur == basestate.Faulty && newState == basestate.FaultyStopped:
		if c.deltaBitmaps[base] != nil && mirrorBitmap != nil {
			c.deltaBitmaps[base].OrInto(mirrorBitmap)
		}

	case c.deltaEnabled && (cur == basestate.Faulty || cur == basestate.FaultyStopped) && newState == basestate.None:
		// Freed on return to NONE: the lazily-allocated bitmap does not
		// persist across a clear.
		c.deltaBitmaps[base] = nil
	}

	c.states[base] = newState
	return nil
}

// allocBitmap is the only allocation point for delta bitmaps, kept
// separate so a test can override it to inject allocation failure
// without touching the transition logic above.
var allocBitmap = func(capacity uint64) *bitarray.BitArray {
	return bitarray.New(capacity)
}
