// Package dispatch implements the mirror's per-operation submission and
// completion state machines: the read dispatcher, the write/unmap/flush
// fan-out dispatcher, and the read-repair engine.
package dispatch

import (
	"github.com/behrlich/go-raid1mirror/internal/channel"
	"github.com/behrlich/go-raid1mirror/internal/interfaces"
)

// Dispatcher bundles everything the read/write/repair state machines need
// to touch: the base device set for one channel, that channel's private
// state, the back-pressure waitlist, and the optional logging/metrics/
// fault-reporting collaborators. One Dispatcher exists per (mirror,
// channel) pair and is only ever driven by that channel's owning
// goroutine.
type Dispatcher struct {
	// Bases holds one entry per base slot; a nil entry means this
	// channel has no attached base-channel for that slot (missing or
	// faulty replica without a channel).
	Bases []interfaces.BaseDevice

	Ch     *channel.Channel
	Waiter interfaces.IOWaiter

	Logger   interfaces.Logger
	Observer interfaces.Observer

	// FailBase reports a base device as externally faulted. May be nil.
	FailBase func(baseIndex int)
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Debugf(format, args...)
	}
}

func (d *Dispatcher) failBase(idx int) {
	if d.FailBase != nil {
		d.FailBase(idx)
	}
}

// SubmitWrite, SubmitUnmap, and SubmitFlush (write.go) share an
// all-replicas fan-out shape; SubmitRead (read.go) and the repair engine
// (repair.go) round out the request types.
