package raid1mirror

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/behrlich/go-raid1mirror/internal/basestate"
	"github.com/behrlich/go-raid1mirror/internal/bitarray"
	"github.com/behrlich/go-raid1mirror/internal/channel"
	"github.com/behrlich/go-raid1mirror/internal/constants"
	"github.com/behrlich/go-raid1mirror/internal/logging"
)

// BaseState is the per-channel fault-tracking state of one base slot.
type BaseState = basestate.State

const (
	BaseStateNone          = basestate.None
	BaseStateFaulty        = basestate.Faulty
	BaseStateFaultyStopped = basestate.FaultyStopped
)

// DeltaBitmap is the coarse dirty map tracking regions written while a
// base was in a fault-tracking state; one bit per optimal-IO-boundary
// region. It is consumed by a resync engine after a hand-off.
type DeltaBitmap = bitarray.BitArray

// BaseSpec describes one base-device slot of a mirror. A nil Device is a
// "missing" slot: its position stays reserved but no I/O reaches it.
type BaseSpec struct {
	Device     BaseDevice
	DataOffset uint64 // blocks
}

// MirrorParams contains parameters for starting a mirror
type MirrorParams struct {
	// Name identifies the mirror in logs and errors
	Name string

	// Bases is the ordered base-device slot list. Slot positions are
	// stable for the mirror's lifetime.
	Bases []BaseSpec

	// BlockSize is the logical block size in bytes (default: 512)
	BlockSize uint64

	// DeltaTrackingEnabled turns on faulty-replica delta tracking. It
	// requires every base to advertise a non-zero optimal-IO boundary.
	DeltaTrackingEnabled bool
}

// DefaultParams returns mirror parameters over the given base devices
// with zero data offsets and default block size.
func DefaultParams(bases ...BaseDevice) MirrorParams {
	specs := make([]BaseSpec, len(bases))
	for i, b := range bases {
		specs[i] = BaseSpec{Device: b}
	}
	return MirrorParams{
		Name:      "mirror0",
		Bases:     specs,
		BlockSize: constants.DefaultLogicalBlockSize,
	}
}

// Options contains additional options for starting a mirror
type Options struct {
	// Logger for debug/info messages (if nil, the package default is used)
	Logger *logging.Logger

	// Observer for metrics collection (if nil, records to the mirror's
	// built-in Metrics)
	Observer Observer

	// OnBaseFailed is invoked when a base device is externally failed
	// (a write leg failure, a failed read-repair write-back, or an
	// exhausted repair). It runs on the channel goroutine that observed
	// the failure.
	OnBaseFailed func(base int)

	// OnBlockCountChange is consulted by Resize before committing a new
	// logical block count. Returning an error aborts the resize.
	OnBlockCountChange func(newBlockCount uint64) error
}

type baseSlot struct {
	dev        BaseDevice
	dataOffset uint64
	dataSize   uint64 // blocks

	// delta is the mirror-owned, base-level delta bitmap. Per-channel
	// bitmaps are ORed into it during a FAULTY -> FAULTY_STOPPED
	// hand-off; a resync engine consumes it afterwards.
	delta *bitarray.BitArray
}

// MirrorState represents the lifecycle state of a mirror
type MirrorState string

const (
	// MirrorStateRunning indicates the mirror is serving I/O
	MirrorStateRunning MirrorState = "running"
	// MirrorStateStopped indicates the mirror has been stopped
	MirrorStateStopped MirrorState = "stopped"
)

// Mirror is a started RAID-1 virtual block device.
type Mirror struct {
	id           uuid.UUID
	name         string
	blockSize    uint64
	blockCount   uint64
	optBoundary  uint64
	deltaEnabled bool

	slots []*baseSlot

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger

	onBaseFailed       func(int)
	onBlockCountChange func(uint64) error

	// mu guards the channel registry, slot growth, and the stopped flag.
	// Per-channel I/O state is never behind this lock.
	mu       sync.Mutex
	channels map[*IOChannel]struct{}
	stopped  bool
	stopDone chan struct{}
}

// Start assembles and starts a mirror: it computes the logical block
// count (the minimum data size across present bases) and the optimal-IO
// boundary (the minimum across present bases), validates the
// delta-tracking prerequisite, and clamps every base's data size to the
// common block count.
func Start(params MirrorParams, options *Options) (*Mirror, error) {
	if options == nil {
		options = &Options{}
	}

	if len(params.Bases) < constants.MinBaseDevices {
		return nil, NewMirrorError("START", params.Name, ErrCodeInvalidArg,
			fmt.Sprintf("need at least %d base device", constants.MinBaseDevices))
	}

	blockSize := params.BlockSize
	if blockSize == 0 {
		blockSize = constants.DefaultLogicalBlockSize
	}

	var (
		minBlockCount uint64
		minBoundary   uint64
		present       int
	)
	for i, spec := range params.Bases {
		if spec.Device == nil {
			continue
		}
		if spec.Device.DataSize() <= spec.DataOffset {
			return nil, NewBaseError("START", params.Name, i, ErrCodeInvalidArg,
				"data offset beyond base device size")
		}
		size := spec.Device.DataSize() - spec.DataOffset
		boundary := spec.Device.OptimalIOBoundary()
		if present == 0 || size < minBlockCount {
			minBlockCount = size
		}
		if present == 0 || boundary < minBoundary {
			minBoundary = boundary
		}
		present++
	}
	if present == 0 {
		return nil, NewMirrorError("START", params.Name, ErrCodeMissingReplica,
			"no present base device")
	}
	if params.DeltaTrackingEnabled && minBoundary == 0 {
		return nil, NewMirrorError("START", params.Name, ErrCodeInvalidArg,
			"delta tracking requires a non-zero optimal IO boundary")
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	var observer Observer
	if options.Observer != nil {
		observer = options.Observer
	} else {
		observer = NewMetricsObserver(metrics)
	}

	m := &Mirror{
		id:                 uuid.New(),
		name:               params.Name,
		blockSize:          blockSize,
		blockCount:         minBlockCount,
		optBoundary:        minBoundary,
		deltaEnabled:       params.DeltaTrackingEnabled,
		metrics:            metrics,
		observer:           observer,
		logger:             logger,
		onBaseFailed:       options.OnBaseFailed,
		onBlockCountChange: options.OnBlockCountChange,
		channels:           make(map[*IOChannel]struct{}),
	}

	for _, spec := range params.Bases {
		slot := &baseSlot{
			dev:        spec.Device,
			dataOffset: spec.DataOffset,
		}
		if spec.Device != nil {
			slot.dataSize = minBlockCount
		}
		m.slots = append(m.slots, slot)
	}

	logger.Info("mirror started",
		"name", m.name,
		"uuid", m.id.String(),
		"bases", len(m.slots),
		"present", present,
		"block_count", m.blockCount,
		"optimal_io_boundary", m.optBoundary,
		"delta_tracking", m.deltaEnabled)

	return m, nil
}

// ID returns the UUID assigned to this mirror at Start.
func (m *Mirror) ID() string {
	return m.id.String()
}

// Name returns the mirror's name.
func (m *Mirror) Name() string {
	return m.name
}

// BlockCount returns the mirror's logical block count.
func (m *Mirror) BlockCount() uint64 {
	return m.blockCount
}

// BlockSize returns the logical block size in bytes.
func (m *Mirror) BlockSize() uint64 {
	return m.blockSize
}

// OptimalIOBoundary returns the mirror's optimal-IO boundary in blocks,
// also the delta-bitmap region size.
func (m *Mirror) OptimalIOBoundary() uint64 {
	return m.optBoundary
}

// DeltaTrackingEnabled reports whether faulty-replica delta tracking is on.
func (m *Mirror) DeltaTrackingEnabled() bool {
	return m.deltaEnabled
}

// NumBases returns the number of base-device slots, present or missing.
func (m *Mirror) NumBases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// State returns the mirror's lifecycle state.
func (m *Mirror) State() MirrorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return MirrorStateStopped
	}
	return MirrorStateRunning
}

// GetIOChannel creates per-channel state for one scheduler goroutine:
// the outstanding-read counters, fault states, delta bitmap slots, and
// the dispatcher that drives I/O through them. The returned channel must
// only be used from a single goroutine.
func (m *Mirror) GetIOChannel() (*IOChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, NewMirrorError("GET_IO_CHANNEL", m.name, ErrCodeNoSuchDevice, "mirror stopped")
	}

	ch, err := channel.New(len(m.slots), m.blockCount, m.optBoundary, m.deltaEnabled)
	if err != nil {
		return nil, NewMirrorError("GET_IO_CHANNEL", m.name, ErrCodeAllocFail, err.Error())
	}

	c := newIOChannel(m, ch)
	m.channels[c] = struct{}{}
	return c, nil
}

func (m *Mirror) releaseChannel(c *IOChannel) {
	m.mu.Lock()
	delete(m.channels, c)
	m.mu.Unlock()
}

// failBase is the fail_base_bdev hook the dispatchers call when a base
// must be externally failed. Detaching the base from each channel is the
// host's job, on each channel's own goroutine, typically from the
// OnBaseFailed callback.
func (m *Mirror) failBase(base int) {
	m.logger.Warn("base device failed", "mirror", m.name, "base", base)
	m.observer.ObserveBaseFaulted(base)
	if m.onBaseFailed != nil {
		m.onBaseFailed(base)
	}
}

// Stop begins stopping the mirror. It is asynchronous: channels are
// destroyed and base descriptors released in the background, and the
// returned channel is closed once teardown finishes.
func (m *Mirror) Stop() <-chan struct{} {
	m.mu.Lock()
	if m.stopped {
		done := m.stopDone
		m.mu.Unlock()
		return done
	}
	m.stopped = true
	done := make(chan struct{})
	m.stopDone = done
	chans := make([]*IOChannel, 0, len(m.channels))
	for c := range m.channels {
		chans = append(chans, c)
	}
	m.channels = make(map[*IOChannel]struct{})
	m.mu.Unlock()

	go func() {
		for _, c := range chans {
			c.destroy()
		}
		for _, slot := range m.slots {
			if slot.dev != nil {
				slot.dev.Close()
			}
		}
		m.metrics.Stop()
		m.logger.Info("mirror stopped", "name", m.name)
		close(done)
	}()
	return done
}

// Resize recomputes the logical block count as the minimum of every
// present base's (data size - data offset). It returns false if the
// count is unchanged or the change notification fails, true once every
// base slot's data size has been updated.
func (m *Mirror) Resize() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		minBlockCount uint64
		present       int
	)
	for _, slot := range m.slots {
		if slot.dev == nil {
			continue
		}
		if slot.dev.DataSize() <= slot.dataOffset {
			return false
		}
		size := slot.dev.DataSize() - slot.dataOffset
		if present == 0 || size < minBlockCount {
			minBlockCount = size
		}
		present++
	}
	if present == 0 || minBlockCount == m.blockCount {
		return false
	}

	if m.onBlockCountChange != nil {
		if err := m.onBlockCountChange(minBlockCount); err != nil {
			m.logger.Warn("resize rejected", "mirror", m.name, "error", err)
			return false
		}
	}

	m.logger.Info("mirror resized", "name", m.name,
		"old_block_count", m.blockCount, "new_block_count", minBlockCount)
	m.blockCount = minBlockCount
	for _, slot := range m.slots {
		if slot.dev != nil {
			slot.dataSize = minBlockCount
		}
	}
	return true
}

// AddBase appends a new base-device slot for hot-grow. The device must
// cover at least the mirror's current block count past dataOffset. The
// new slot index is returned; each existing IOChannel must then be grown
// with IOChannel.Grow on its own goroutine before the slot carries I/O
// there.
func (m *Mirror) AddBase(dev BaseDevice, dataOffset uint64) (int, error) {
	if dev == nil {
		return -1, NewMirrorError("ADD_BASE", m.name, ErrCodeInvalidArg, "nil base device")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return -1, NewMirrorError("ADD_BASE", m.name, ErrCodeNoSuchDevice, "mirror stopped")
	}
	if dev.DataSize() < dataOffset+m.blockCount {
		return -1, NewMirrorError("ADD_BASE", m.name, ErrCodeInvalidArg,
			"base device smaller than mirror block count")
	}
	if m.deltaEnabled && dev.OptimalIOBoundary() == 0 {
		return -1, NewMirrorError("ADD_BASE", m.name, ErrCodeInvalidArg,
			"delta tracking requires a non-zero optimal IO boundary")
	}

	m.slots = append(m.slots, &baseSlot{
		dev:        dev,
		dataOffset: dataOffset,
		dataSize:   m.blockCount,
	})
	idx := len(m.slots) - 1
	m.logger.Info("base device added", "mirror", m.name, "base", idx)
	return idx, nil
}

// SetBaseState performs the channel hand-off for an externally-requested
// fault-state transition of one base on one channel. A FAULTY ->
// FAULTY_STOPPED hand-off folds the channel's delta bits into the
// mirror-owned base-level bitmap. Must be called on the channel's own
// goroutine; the mirror-owned bitmap mutation is serialized by this
// method's lock.
func (m *Mirror) SetBaseState(c *IOChannel, base int, state BaseState) error {
	if base < 0 || base >= c.ch.NumBases() {
		return NewBaseError("SET_BASE_STATE", m.name, base, ErrCodeInvalidArg, "base index out of range")
	}

	var mirrorBitmap *bitarray.BitArray
	if state == basestate.FaultyStopped {
		m.mu.Lock()
		defer m.mu.Unlock()
		slot := m.slots[base]
		if slot.delta == nil {
			slot.delta = bitarray.New(channel.RegionCount(m.blockCount, m.optBoundary))
		}
		mirrorBitmap = slot.delta
	}

	if err := c.ch.HandOff(base, state, mirrorBitmap); err != nil {
		if err == basestate.ErrBackwardTransition || err == channel.ErrOOM {
			return NewBaseError("SET_BASE_STATE", m.name, base, ErrCodeAllocFail, err.Error())
		}
		return WrapError("SET_BASE_STATE", err)
	}
	return nil
}

// BaseDelta returns the mirror-owned delta bitmap for one base slot, or
// nil if no hand-off has populated it. The resync engine reads it after
// a FAULTY -> FAULTY_STOPPED hand-off; ClearBaseDelta discards it once
// resync completes.
func (m *Mirror) BaseDelta(base int) *DeltaBitmap {
	m.mu.Lock()
	defer m.mu.Unlock()
	if base < 0 || base >= len(m.slots) {
		return nil
	}
	return m.slots[base].delta
}

// ClearBaseDelta drops the mirror-owned delta bitmap for one base slot.
func (m *Mirror) ClearBaseDelta(base int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if base >= 0 && base < len(m.slots) {
		m.slots[base].delta = nil
	}
}

// baseDevice returns the device in slot i, or nil for a missing slot or
// out-of-range index.
func (m *Mirror) baseDevice(i int) BaseDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.slots) {
		return nil
	}
	return m.slots[i].dev
}

// Metrics returns the mirror's built-in metrics.
func (m *Mirror) Metrics() *Metrics {
	return m.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of mirror metrics.
func (m *Mirror) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// MirrorInfo contains comprehensive information about a mirror
type MirrorInfo struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	State             MirrorState `json:"state"`
	NumBases          int         `json:"num_bases"`
	PresentBases      int         `json:"present_bases"`
	BlockCount        uint64      `json:"block_count"`
	BlockSize         uint64      `json:"block_size"`
	OptimalIOBoundary uint64      `json:"optimal_io_boundary"`
	DeltaTracking     bool        `json:"delta_tracking"`
	SizeBytes         uint64      `json:"size_bytes"`
}

// Info returns comprehensive information about the mirror
func (m *Mirror) Info() MirrorInfo {
	m.mu.Lock()
	present := 0
	for _, slot := range m.slots {
		if slot.dev != nil {
			present++
		}
	}
	numBases := len(m.slots)
	m.mu.Unlock()

	return MirrorInfo{
		ID:                m.ID(),
		Name:              m.name,
		State:             m.State(),
		NumBases:          numBases,
		PresentBases:      present,
		BlockCount:        m.blockCount,
		BlockSize:         m.blockSize,
		OptimalIOBoundary: m.optBoundary,
		DeltaTracking:     m.deltaEnabled,
		SizeBytes:         m.blockCount * m.blockSize,
	}
}
