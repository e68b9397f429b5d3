// Package mio implements the mirror's polymorphic I/O request object
// and the shared completion-aggregation helper every dispatcher uses.
package mio

import "github.com/behrlich/go-raid1mirror/internal/interfaces"

// Op identifies the kind of operation a Request represents.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpUnmap
	OpFlush
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpUnmap:
		return "UNMAP"
	case OpFlush:
		return "FLUSH"
	default:
		return "UNKNOWN"
	}
}

// Status is the terminal outcome of a Request.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Done is invoked exactly once, when a Request reaches a terminal status.
type Done func(status Status)

// Request is the short-lived, single-operation context the mirror
// module owns from acceptance to terminal completion. A Request is
// never shared across channels and is only ever touched by the
// goroutine that owns the channel it was submitted on.
type Request struct {
	Op           Op
	OffsetBlocks uint64
	NumBlocks    uint64
	Iovec        [][]byte
	Opts         interfaces.MemoryDomainOpts

	// Submitted is the fan-out submission cursor: for WRITE/UNMAP/FLUSH
	// it is the index of the next base slot still needing submission.
	// Reads leave it unused and record their replica in SubmittedBase.
	Submitted int

	// Remaining is the outstanding-leg counter the aggregator decrements
	// to zero before firing the terminal completion.
	Remaining int

	// SubmittedBase is, for reads, the index of the replica the read was
	// sent to (or is being read-repaired against).
	SubmittedBase int

	// status is the default/aggregated terminal status. Write/unmap/
	// flush dispatch initializes this to StatusFailed on first entry so
	// an all-skip submission still completes as FAILED.
	status Status
	best   Status

	done Done
}

// New creates a Request for a single logical operation.
func New(op Op, offsetBlocks, numBlocks uint64, iovec [][]byte, opts interfaces.MemoryDomainOpts, done Done) *Request {
	return &Request{
		Op:           op,
		OffsetBlocks: offsetBlocks,
		NumBlocks:    numBlocks,
		Iovec:        iovec,
		Opts:         opts,
		status:       StatusPending,
		done:         done,
	}
}

// SetDefaultStatus sets the status a Request resolves to if no leg ever
// upgrades it. Write/unmap/flush dispatch calls this once, on first
// entry, with StatusFailed.
func (r *Request) SetDefaultStatus(s Status) {
	r.status = s
	r.best = s
}

// Complete fires the terminal completion exactly once with the given
// status, regardless of Remaining. Used by the read dispatcher and
// read-repair engine, which have a single leg rather than an aggregated
// fan-out.
func (r *Request) Complete(s Status) {
	r.status = s
	if r.done != nil {
		r.done(s)
		r.done = nil
	}
}

// CompletePart folds the status of n legs into the aggregate and fires
// the terminal completion once Remaining reaches zero: aggregation is
// SUCCESS if any leg succeeded, else FAILED.
func (r *Request) CompletePart(n int, s Status) {
	if s == StatusSuccess {
		r.best = StatusSuccess
	}
	r.Remaining -= n
	if r.Remaining < 0 {
		r.Remaining = 0
	}
	if r.Remaining == 0 {
		r.Complete(r.best)
	}
}
