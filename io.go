package raid1mirror

import (
	"context"

	"github.com/behrlich/go-raid1mirror/internal/bufpool"
	"github.com/behrlich/go-raid1mirror/internal/channel"
	"github.com/behrlich/go-raid1mirror/internal/dispatch"
	"github.com/behrlich/go-raid1mirror/internal/interfaces"
	"github.com/behrlich/go-raid1mirror/internal/mio"
	"github.com/behrlich/go-raid1mirror/internal/process"
)

// Status is the terminal outcome of one mirror I/O.
type Status = mio.Status

const (
	StatusSuccess = mio.StatusSuccess
	StatusFailed  = mio.StatusFailed
)

// DoneFunc receives a mirror I/O's terminal status. It runs on the
// goroutine driving the IOChannel.
type DoneFunc func(Status)

// IOChannel is the per-goroutine handle onto a mirror. All submission
// methods, Grow, DetachBase, and Rebuild must be called from the single
// goroutine that owns this channel; completions are delivered on the
// same goroutine.
type IOChannel struct {
	m      *Mirror
	ch     *channel.Channel
	waiter *dispatch.WaitList
	disp   *dispatch.Dispatcher
}

func newIOChannel(m *Mirror, ch *channel.Channel) *IOChannel {
	c := &IOChannel{
		m:      m,
		ch:     ch,
		waiter: dispatch.NewWaitList(),
	}
	bases := make([]interfaces.BaseDevice, len(m.slots))
	for i, slot := range m.slots {
		bases[i] = slot.dev
	}
	c.disp = &dispatch.Dispatcher{
		Bases:    bases,
		Ch:       ch,
		Waiter:   c.waiter,
		Logger:   m.logger,
		Observer: m.observer,
		FailBase: m.failBase,
	}
	return c
}

func (c *IOChannel) validateRange(op string, offsetBlocks, numBlocks uint64) error {
	if numBlocks == 0 || offsetBlocks+numBlocks > c.m.blockCount {
		return NewMirrorError(op, c.m.name, ErrCodeInvalidArg, "block range out of bounds")
	}
	return nil
}

// Read submits a load-balanced read of numBlocks blocks at offsetBlocks
// into iovec. A failed replica read escalates to read-repair before the
// terminal status is delivered.
func (c *IOChannel) Read(ctx context.Context, iovec [][]byte, offsetBlocks, numBlocks uint64, opts MemoryDomainOpts, done DoneFunc) error {
	if err := c.validateRange("READ", offsetBlocks, numBlocks); err != nil {
		return err
	}
	req := mio.New(mio.OpRead, offsetBlocks, numBlocks, iovec, opts, mio.Done(done))
	c.disp.SubmitRead(ctx, req)
	return nil
}

// Write submits a write of numBlocks blocks at offsetBlocks from iovec
// to every base slot; the terminal status is SUCCESS if at least one leg
// succeeded.
func (c *IOChannel) Write(ctx context.Context, iovec [][]byte, offsetBlocks, numBlocks uint64, opts MemoryDomainOpts, done DoneFunc) error {
	if err := c.validateRange("WRITE", offsetBlocks, numBlocks); err != nil {
		return err
	}
	req := mio.New(mio.OpWrite, offsetBlocks, numBlocks, iovec, opts, mio.Done(done))
	c.disp.SubmitWrite(ctx, req)
	return nil
}

// Unmap submits a discard of numBlocks blocks at offsetBlocks to every
// base slot.
func (c *IOChannel) Unmap(ctx context.Context, offsetBlocks, numBlocks uint64, done DoneFunc) error {
	if err := c.validateRange("UNMAP", offsetBlocks, numBlocks); err != nil {
		return err
	}
	req := mio.New(mio.OpUnmap, offsetBlocks, numBlocks, nil, MemoryDomainOpts{}, mio.Done(done))
	c.disp.SubmitUnmap(ctx, req)
	return nil
}

// Flush submits a whole-device flush to every base slot.
func (c *IOChannel) Flush(ctx context.Context, done DoneFunc) error {
	req := mio.New(mio.OpFlush, 0, c.m.blockCount, nil, MemoryDomainOpts{}, mio.Done(done))
	c.disp.SubmitFlush(ctx, req)
	return nil
}

// DetachBase removes base i from this channel: reads stop selecting it
// and write legs to it are treated as missed (marked in the delta bitmap
// when tracking is on). The host calls this from OnBaseFailed, on the
// channel's own goroutine.
func (c *IOChannel) DetachBase(i int) {
	if i >= 0 && i < len(c.disp.Bases) {
		c.disp.Bases[i] = nil
	}
}

// AttachBase restores base i on this channel from the mirror's slot
// table, e.g. after a rebuild completes.
func (c *IOChannel) AttachBase(i int) {
	if i >= 0 && i < len(c.disp.Bases) {
		c.disp.Bases[i] = c.m.baseDevice(i)
	}
}

// Grow resizes this channel's per-base arrays to the mirror's current
// slot count after AddBase. Idempotent when nothing was added; returns
// false without corrupting existing state on failure.
func (c *IOChannel) Grow() bool {
	c.m.mu.Lock()
	slots := c.m.slots
	n := len(slots)
	m := len(c.disp.Bases)
	added := make([]interfaces.BaseDevice, 0, n-m)
	for i := m; i < n; i++ {
		added = append(added, slots[i].dev)
	}
	c.m.mu.Unlock()

	if !c.ch.Grow(n) {
		return false
	}
	c.disp.Bases = append(c.disp.Bases, added...)
	return true
}

// Resume drains the IO-wait list for base i, re-entering every parked
// request at its submission cursor. The host calls this once it learns
// the base's submission queue has freed up.
func (c *IOChannel) Resume(i int) {
	if i >= 0 && i < len(c.disp.Bases) && c.disp.Bases[i] != nil {
		c.waiter.Drain(c.disp.Bases[i])
	}
}

// Outstanding returns the outstanding-read-block counter for base i.
func (c *IOChannel) Outstanding(i int) uint64 {
	return c.ch.Outstanding(i)
}

// BaseState returns base i's fault-tracking state on this channel.
func (c *IOChannel) BaseState(i int) BaseState {
	return c.ch.State(i)
}

// Delta returns base i's per-channel delta bitmap, or nil if none has
// been allocated yet.
func (c *IOChannel) Delta(i int) *DeltaBitmap {
	return c.ch.Delta(i)
}

// Close destroys this channel's state and unregisters it from the
// mirror.
func (c *IOChannel) Close() {
	c.m.releaseChannel(c)
	c.destroy()
}

func (c *IOChannel) destroy() {
	c.ch.Destroy()
}

// Rebuild copies data onto the base in slot target, one
// optimal-IO-boundary region at a time, reading through this channel's
// ordinary load-balanced read path (excluding the target itself). When
// useDelta is true and a hand-off has populated the mirror-owned delta
// bitmap for that base, only dirty regions are copied and their bits
// cleared; otherwise every region is walked. done receives nil on a
// clean sweep or the first region error.
func (c *IOChannel) Rebuild(ctx context.Context, target int, useDelta bool, done func(error)) error {
	if target < 0 || target >= len(c.disp.Bases) {
		return NewBaseError("REBUILD", c.m.name, target, ErrCodeInvalidArg, "base index out of range")
	}
	dev := c.m.baseDevice(target)
	if dev == nil {
		return NewBaseError("REBUILD", c.m.name, target, ErrCodeNoSuchDevice, "no device in target slot")
	}

	// Read from every replica except the one being rebuilt.
	readerBases := make([]interfaces.BaseDevice, len(c.disp.Bases))
	copy(readerBases, c.disp.Bases)
	readerBases[target] = nil
	reader := &dispatch.Dispatcher{
		Bases:    readerBases,
		Ch:       c.ch,
		Waiter:   c.waiter,
		Logger:   c.m.logger,
		Observer: c.m.observer,
		FailBase: c.m.failBase,
	}

	var dirty *DeltaBitmap
	if useDelta {
		dirty = c.m.BaseDelta(target)
	}

	regionBlocks := c.m.optBoundary
	if regionBlocks == 0 {
		regionBlocks = DefaultOptimalIOBoundary
	}

	// One region is in flight at a time, so a single pooled buffer is
	// reused for the whole walk.
	buf := bufpool.Get(regionBlocks * c.m.blockSize)

	pipeline := &process.Pipeline{
		Rebuilder: &process.Rebuilder{
			Reader:   reader,
			Target:   dev,
			Waiter:   c.waiter,
			Observer: c.m.observer,
		},
		RegionBlocks: regionBlocks,
		TotalBlocks:  c.m.blockCount,
		Dirty:        dirty,
		BufFactory: func(numBlocks uint64) [][]byte {
			return [][]byte{buf[:numBlocks*c.m.blockSize]}
		},
	}

	c.m.logger.Info("rebuild started", "mirror", c.m.name, "base", target, "delta_only", dirty != nil)
	pipeline.Start(ctx, func(err error) {
		bufpool.Put(buf)
		if err != nil {
			c.m.logger.Warn("rebuild failed", "mirror", c.m.name, "base", target, "error", err)
		} else {
			c.m.logger.Info("rebuild complete", "mirror", c.m.name, "base", target)
		}
		done(err)
	})
	return nil
}

// ModuleDescriptor is the registration value a host framework consumes:
// module attributes plus the mirror's framework callbacks. It is a plain
// value rather than a process-lifetime singleton; the host owns the
// registration list.
type ModuleDescriptor struct {
	Level                  string
	BaseDevsMin            int
	MinOperationalBaseDevs int
	MemoryDomainsSupported bool

	Start        func(MirrorParams, *Options) (*Mirror, error)
	Stop         func(*Mirror) <-chan struct{}
	GetIOChannel func(*Mirror) (*IOChannel, error)
	Resize       func(*Mirror) bool

	SubmitRWRequest          func(ctx context.Context, c *IOChannel, write bool, iovec [][]byte, offsetBlocks, numBlocks uint64, opts MemoryDomainOpts, done DoneFunc) error
	SubmitNullPayloadRequest func(ctx context.Context, c *IOChannel, unmap bool, offsetBlocks, numBlocks uint64, done DoneFunc) error
	SubmitProcessRequest     func(ctx context.Context, c *IOChannel, target int, useDelta bool, done func(error)) error

	ChannelGrowBaseBdev   func(*IOChannel) bool
	ChannelFaultyBaseBdev func(*Mirror, *IOChannel, int, BaseState) error
}

// NewModuleDescriptor builds the raid1 module descriptor.
func NewModuleDescriptor() ModuleDescriptor {
	return ModuleDescriptor{
		Level:                  "raid1",
		BaseDevsMin:            MinBaseDevices,
		MinOperationalBaseDevs: 1,
		MemoryDomainsSupported: true,

		Start:        Start,
		Stop:         (*Mirror).Stop,
		GetIOChannel: (*Mirror).GetIOChannel,
		Resize:       (*Mirror).Resize,

		SubmitRWRequest: func(ctx context.Context, c *IOChannel, write bool, iovec [][]byte, offsetBlocks, numBlocks uint64, opts MemoryDomainOpts, done DoneFunc) error {
			if write {
				return c.Write(ctx, iovec, offsetBlocks, numBlocks, opts, done)
			}
			return c.Read(ctx, iovec, offsetBlocks, numBlocks, opts, done)
		},
		SubmitNullPayloadRequest: func(ctx context.Context, c *IOChannel, unmap bool, offsetBlocks, numBlocks uint64, done DoneFunc) error {
			if unmap {
				return c.Unmap(ctx, offsetBlocks, numBlocks, done)
			}
			return c.Flush(ctx, done)
		},
		SubmitProcessRequest: func(ctx context.Context, c *IOChannel, target int, useDelta bool, done func(error)) error {
			return c.Rebuild(ctx, target, useDelta, done)
		},

		ChannelGrowBaseBdev:   (*IOChannel).Grow,
		ChannelFaultyBaseBdev: (*Mirror).SetBaseState,
	}
}
