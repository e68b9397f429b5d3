package dispatch

import (
	"context"
	"time"

	"github.com/behrlich/go-raid1mirror/internal/interfaces"
	"github.com/behrlich/go-raid1mirror/internal/mio"
)

// NextReadBase picks the replica a new read should be sent to: the
// present base (Bases[i] != nil) with the fewest outstanding read
// blocks, ties broken by lowest index. Returns -1 if no replica is
// present.
func (d *Dispatcher) NextReadBase() int {
	best := -1
	var bestOutstanding uint64
	for i, b := range d.Bases {
		if b == nil {
			continue
		}
		o := d.Ch.Outstanding(i)
		if best == -1 || o < bestOutstanding {
			best = i
			bestOutstanding = o
		}
	}
	return best
}

// SubmitRead dispatches a new READ request. It never blocks: a
// transient SubmitBusy enqueues a resume on the chosen base and
// returns; the resume re-enters SubmitRead, which re-evaluates
// NextReadBase from scratch (the chosen base may no longer be
// least-loaded).
func (d *Dispatcher) SubmitRead(ctx context.Context, req *mio.Request) {
	base := d.NextReadBase()
	if base == -1 {
		req.Complete(mio.StatusFailed)
		return
	}

	req.SubmittedBase = base
	// The counter is charged before submission so a completion delivered
	// inline (a base device finishing on the submitting goroutine) never
	// decrements it below zero.
	d.Ch.IncRead(base, req.NumBlocks)
	start := time.Now()
	result := d.Bases[base].ReadvBlocksExt(ctx, req.Iovec, req.OffsetBlocks, req.NumBlocks, req.Opts, func(success bool, err error) {
		d.onReadComplete(ctx, req, base, success, time.Since(start))
	})

	switch result {
	case interfaces.SubmitAccepted:
	case interfaces.SubmitBusy:
		d.Ch.DecRead(base, req.NumBlocks)
		d.Waiter.QueueIOWait(d.Bases[base], func() { d.SubmitRead(ctx, req) })
	default:
		d.Ch.DecRead(base, req.NumBlocks)
		req.Complete(mio.StatusFailed)
	}
}

func (d *Dispatcher) onReadComplete(ctx context.Context, req *mio.Request, base int, success bool, latency time.Duration) {
	d.Ch.DecRead(base, req.NumBlocks)
	if d.Observer != nil {
		d.Observer.ObserveRead(req.NumBlocks, uint64(latency.Nanoseconds()), success)
	}
	if success {
		req.Complete(mio.StatusSuccess)
		return
	}
	d.beginRepair(ctx, req)
}
