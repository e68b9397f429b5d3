// Package uring wraps io_uring block I/O submission for
// backend.FileDevice: a small Ring interface with a giouring-backed
// implementation behind a build tag and a synchronous fallback that
// works everywhere.
package uring

import "errors"

// ErrRingFull is returned by a Prepare* call when the ring's submission
// queue has no free entries; the caller must Submit to drain it first.
var ErrRingFull = errors.New("uring: submission queue full")

// CQE is one completion: Res is the io_uring completion result (bytes
// transferred on success, -errno on failure), and UserData echoes back
// whatever PrepareX was given.
type CQE struct {
	UserData uint64
	Res      int32
}

// Ring is the io_uring surface backend.FileDevice needs: read, write,
// fsync, and fallocate (used with FALLOC_FL_PUNCH_HOLE for unmap).
// Every PrepareX call stages one SQE;
// Submit flushes all staged SQEs in a single syscall.
type Ring interface {
	Close() error

	PrepareRead(fd int, buf []byte, offset uint64, userData uint64) error
	PrepareWrite(fd int, buf []byte, offset uint64, userData uint64) error
	PrepareFsync(fd int, userData uint64) error
	PrepareFallocate(fd int, mode uint32, offset, length uint64, userData uint64) error

	// Submit flushes staged SQEs and returns how many were submitted.
	Submit() (int, error)

	// WaitCQE blocks for the next completion.
	WaitCQE() (CQE, error)

	// PeekCQE returns the next completion without blocking, if one is
	// already available.
	PeekCQE() (CQE, bool, error)
}

// NewRing creates a Ring sized for entries in-flight operations. The
// concrete implementation (giouring-backed or synchronous) is selected
// by the giouring build tag.
func NewRing(entries uint32) (Ring, error) {
	return newRing(entries)
}
