package dispatch

import (
	"context"

	"github.com/behrlich/go-raid1mirror/internal/interfaces"
	"github.com/behrlich/go-raid1mirror/internal/mio"
)

// SubmitWrite fans a WRITE out to every base slot. A base slot with no
// attached channel is treated as a missed mirror leg: the replica
// silently diverged from the others, so the region is marked dirty in
// its delta bitmap and the leg counts as failed.
func (d *Dispatcher) SubmitWrite(ctx context.Context, req *mio.Request) {
	d.startFanout(ctx, req, true)
}

// SubmitUnmap fans an UNMAP out to every base slot. Unlike WRITE, a
// missing channel is not data loss — there is nothing to discard on a
// replica that isn't attached — so it counts as a trivially successful
// leg and is not reported faulty.
func (d *Dispatcher) SubmitUnmap(ctx context.Context, req *mio.Request) {
	d.startFanout(ctx, req, false)
}

// SubmitFlush fans a FLUSH out to every base slot, with the same
// missing-channel tolerance as SubmitUnmap.
func (d *Dispatcher) SubmitFlush(ctx context.Context, req *mio.Request) {
	d.startFanout(ctx, req, false)
}

func (d *Dispatcher) startFanout(ctx context.Context, req *mio.Request, missingIsFault bool) {
	// An all-skip write resolves FAILED: SetDefaultStatus leaves the
	// aggregate at FAILED unless some leg upgrades it to SUCCESS.
	req.SetDefaultStatus(mio.StatusFailed)
	req.Submitted = 0
	req.Remaining = len(d.Bases)
	if req.Remaining == 0 {
		req.Complete(mio.StatusFailed)
		return
	}
	d.fanoutLegs(ctx, req, missingIsFault)
}

// fanoutLegs submits every not-yet-submitted leg starting at
// req.Submitted, advancing the cursor as each submission call returns.
// Submission calls are non-blocking, so a run of Accepted results is
// fired in a tight loop with no waiting; only a transient SubmitBusy
// pauses the scan, leaving req.Submitted at the stalled index so the
// queued resume retries the same leg.
func (d *Dispatcher) fanoutLegs(ctx context.Context, req *mio.Request, missingIsFault bool) {
	n := len(d.Bases)
	for i := req.Submitted; i < n; i++ {
		if d.Bases[i] == nil {
			req.Submitted = i + 1
			if missingIsFault {
				d.Ch.HandleFaultyBase(i, req.OffsetBlocks, req.NumBlocks)
				req.CompletePart(1, mio.StatusFailed)
			} else {
				req.CompletePart(1, mio.StatusSuccess)
			}
			continue
		}

		idx := i
		result := d.submitLeg(ctx, req, idx)
		switch result {
		case interfaces.SubmitAccepted:
			req.Submitted = i + 1
		case interfaces.SubmitBusy:
			d.Waiter.QueueIOWait(d.Bases[idx], func() { d.fanoutLegs(ctx, req, missingIsFault) })
			return
		default:
			// A permanent submission error abandons the fan-out: the
			// current leg and every leg after it fail in one aggregate
			// completion.
			req.CompletePart(n-i, mio.StatusFailed)
			return
		}
	}
}

func (d *Dispatcher) submitLeg(ctx context.Context, req *mio.Request, idx int) interfaces.SubmitResult {
	done := func(success bool, err error) { d.onLegComplete(req, idx, success) }
	switch req.Op {
	case mio.OpWrite:
		return d.Bases[idx].WritevBlocksExt(ctx, req.Iovec, req.OffsetBlocks, req.NumBlocks, req.Opts, done)
	case mio.OpUnmap:
		return d.Bases[idx].UnmapBlocks(ctx, req.OffsetBlocks, req.NumBlocks, done)
	case mio.OpFlush:
		return d.Bases[idx].FlushBlocks(ctx, req.OffsetBlocks, req.NumBlocks, done)
	default:
		return interfaces.SubmitFailed
	}
}

func (d *Dispatcher) onLegComplete(req *mio.Request, idx int, success bool) {
	if !success {
		d.Ch.HandleFaultyBase(idx, req.OffsetBlocks, req.NumBlocks)
		d.failBase(idx)
	}
	if d.Observer != nil {
		switch req.Op {
		case mio.OpWrite:
			d.Observer.ObserveWrite(req.NumBlocks, 0, success)
		case mio.OpUnmap:
			d.Observer.ObserveUnmap(req.NumBlocks, 0, success)
		case mio.OpFlush:
			d.Observer.ObserveFlush(0, success)
		}
	}
	status := mio.StatusFailed
	if success {
		status = mio.StatusSuccess
	}
	req.CompletePart(1, status)
}
