// Package process implements the mirror's background rebuild/copy
// pipeline: walking a target base device's dirty regions (or its whole
// extent, for a fresh add) and copying good data onto it one region at
// a time.
package process

import (
	"context"
	"errors"

	"github.com/behrlich/go-raid1mirror/internal/bitarray"
	"github.com/behrlich/go-raid1mirror/internal/channel"
	"github.com/behrlich/go-raid1mirror/internal/dispatch"
	"github.com/behrlich/go-raid1mirror/internal/interfaces"
	"github.com/behrlich/go-raid1mirror/internal/mio"
)

// ErrReadFailed and ErrWriteFailed are the two ways a single rebuild
// region can fail.
var (
	ErrReadFailed  = errors.New("process: rebuild read failed")
	ErrWriteFailed = errors.New("process: rebuild write failed")
)

// Rebuilder copies one region at a time from the mirror's healthy
// replicas onto Target. It reuses the ordinary read dispatcher rather
// than reading from a specific replica directly, so the rebuild read
// benefits from the same load balancing and read-repair path live I/O
// gets.
type Rebuilder struct {
	Reader   *dispatch.Dispatcher
	Target   interfaces.BaseDevice
	Waiter   interfaces.IOWaiter
	Observer interfaces.Observer
}

// Submit reads [offsetBlocks, offsetBlocks+numBlocks) through the read
// dispatcher and, once it succeeds, writes it to Target. done is called
// exactly once with the region's outcome.
func (r *Rebuilder) Submit(ctx context.Context, offsetBlocks, numBlocks uint64, iovec [][]byte, done func(error)) {
	req := mio.New(mio.OpRead, offsetBlocks, numBlocks, iovec, interfaces.MemoryDomainOpts{}, func(s mio.Status) {
		if s != mio.StatusSuccess {
			done(ErrReadFailed)
			return
		}
		r.submitWrite(ctx, offsetBlocks, numBlocks, iovec, done)
	})
	r.Reader.SubmitRead(ctx, req)
}

func (r *Rebuilder) submitWrite(ctx context.Context, offsetBlocks, numBlocks uint64, iovec [][]byte, done func(error)) {
	result := r.Target.WritevBlocksExt(ctx, iovec, offsetBlocks, numBlocks, interfaces.MemoryDomainOpts{}, func(success bool, err error) {
		if r.Observer != nil {
			r.Observer.ObserveWrite(numBlocks, 0, success)
		}
		if !success {
			done(ErrWriteFailed)
			return
		}
		done(nil)
	})

	switch result {
	case interfaces.SubmitAccepted:
		return
	case interfaces.SubmitBusy:
		r.Waiter.QueueIOWait(r.Target, func() { r.submitWrite(ctx, offsetBlocks, numBlocks, iovec, done) })
	default:
		done(ErrWriteFailed)
	}
}

// Pipeline drives a Rebuilder across every region of a base device,
// skipping regions Dirty marks clean when a delta bitmap is available
// (a targeted rebuild after a brief outage) and walking every region
// when Dirty is nil (a full copy onto a freshly added replica). Exactly
// one region is ever in flight.
type Pipeline struct {
	Rebuilder    *Rebuilder
	RegionBlocks uint64
	TotalBlocks  uint64
	Dirty        *bitarray.BitArray
	BufFactory   func(numBlocks uint64) [][]byte

	cursor uint64
	onDone func(error)
}

// Start walks the pipeline from region 0; calling it again restarts the
// walk from region 0. onDone is called exactly
// once, with nil on a clean sweep of every region or the first error
// encountered.
func (p *Pipeline) Start(ctx context.Context, onDone func(error)) {
	p.onDone = onDone
	p.cursor = 0
	p.step(ctx)
}

func (p *Pipeline) step(ctx context.Context) {
	regions := channel.RegionCount(p.TotalBlocks, p.RegionBlocks)
	for p.cursor < regions {
		idx := p.cursor
		if p.Dirty != nil && !p.Dirty.Get(idx) {
			p.cursor++
			continue
		}

		offset := idx * p.RegionBlocks
		n := p.RegionBlocks
		if offset+n > p.TotalBlocks {
			n = p.TotalBlocks - offset
		}
		iovec := p.BufFactory(n)

		p.cursor++
		p.Rebuilder.Submit(ctx, offset, n, iovec, func(err error) {
			if err != nil {
				p.onDone(err)
				return
			}
			if p.Dirty != nil {
				p.Dirty.Clear(idx)
			}
			p.step(ctx)
		})
		return
	}
	p.onDone(nil)
}
