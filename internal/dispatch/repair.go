package dispatch

import (
	"context"

	"github.com/behrlich/go-raid1mirror/internal/interfaces"
	"github.com/behrlich/go-raid1mirror/internal/mio"
)

// beginRepair starts the read-repair engine after the replica a read
// was sent to reports failure. A permanent submission error on a probed
// replica skips to the next replica instead of abandoning the scan, so
// one bad replica can't hide a good one.
//
// Request.Remaining is reused as the scan cursor: the next index tried
// is always len(Bases) - Remaining, rather than adding a dedicated
// cursor field to Request.
func (d *Dispatcher) beginRepair(ctx context.Context, req *mio.Request) {
	req.Remaining = len(d.Bases)
	d.tryOtherReplicas(ctx, req)
}

func (d *Dispatcher) tryOtherReplicas(ctx context.Context, req *mio.Request) {
	n := len(d.Bases)
	for i := n - req.Remaining; i < n; i++ {
		if i == req.SubmittedBase || d.Bases[i] == nil {
			req.Remaining--
			continue
		}

		idx := i
		result := d.Bases[idx].ReadvBlocksExt(ctx, req.Iovec, req.OffsetBlocks, req.NumBlocks, req.Opts, func(success bool, err error) {
			if success {
				d.writeback(ctx, req, idx)
				return
			}
			req.Remaining--
			d.tryOtherReplicas(ctx, req)
		})

		switch result {
		case interfaces.SubmitAccepted:
			return
		case interfaces.SubmitBusy:
			d.Waiter.QueueIOWait(d.Bases[idx], func() { d.tryOtherReplicas(ctx, req) })
			return
		default:
			req.Remaining--
			continue
		}
	}

	d.failOriginal(req)
}

// writeback submits the recovered data back to the originally-failing
// replica. The original READ completes as SUCCESS regardless of the
// write-back's outcome; a failed write-back only marks that replica
// faulty.
func (d *Dispatcher) writeback(ctx context.Context, req *mio.Request, goodReplica int) {
	target := req.SubmittedBase
	result := d.Bases[target].WritevBlocksExt(ctx, req.Iovec, req.OffsetBlocks, req.NumBlocks, req.Opts, func(success bool, err error) {
		d.onWritebackComplete(req, success)
	})

	switch result {
	case interfaces.SubmitAccepted:
		return
	case interfaces.SubmitBusy:
		d.Waiter.QueueIOWait(d.Bases[target], func() { d.writeback(ctx, req, goodReplica) })
	default:
		d.onWritebackComplete(req, false)
	}
}

func (d *Dispatcher) onWritebackComplete(req *mio.Request, success bool) {
	if !success {
		d.Ch.HandleFaultyBase(req.SubmittedBase, req.OffsetBlocks, req.NumBlocks)
		d.failBase(req.SubmittedBase)
	}
	if d.Observer != nil {
		d.Observer.ObserveRepair(success)
	}
	// The original read always completes as success once a good replica
	// was found, independent of the write-back's outcome.
	req.Complete(mio.StatusSuccess)
}

func (d *Dispatcher) failOriginal(req *mio.Request) {
	d.Ch.HandleFaultyBase(req.SubmittedBase, req.OffsetBlocks, req.NumBlocks)
	d.failBase(req.SubmittedBase)
	if d.Observer != nil {
		d.Observer.ObserveRepair(false)
	}
	req.Complete(mio.StatusFailed)
}
