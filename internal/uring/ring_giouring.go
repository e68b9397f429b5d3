//go:build giouring
// +build giouring

package uring

import (
	"fmt"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

// giouringRing implements Ring on top of pawelgaczynski/giouring.
type giouringRing struct {
	ring *giouring.Ring
}

func newRing(entries uint32) (Ring, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("uring: create ring: %w", err)
	}
	return &giouringRing{ring: ring}, nil
}

func (r *giouringRing) Close() error {
	r.ring.QueueExit()
	return nil
}

func (r *giouringRing) getSQE() (*giouring.SubmissionQueueEntry, error) {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return nil, ErrRingFull
	}
	return sqe, nil
}

func (r *giouringRing) PrepareRead(fd int, buf []byte, offset uint64, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareRead(int32(fd), bufAddr(buf), uint32(len(buf)), offset)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) PrepareWrite(fd int, buf []byte, offset uint64, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareWrite(int32(fd), bufAddr(buf), uint32(len(buf)), offset)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) PrepareFsync(fd int, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareFsync(int32(fd), 0)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) PrepareFallocate(fd int, mode uint32, offset, length uint64, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareFallocate(int32(fd), mode, int64(offset), int64(length))
	sqe.UserData = userData
	return nil
}

// bufAddr returns the address of buf's backing array as the uintptr
// giouring's Prepare* calls want. Callers must keep buf alive and
// unmoved until the operation completes; the synchronous fallback ring
// has no such constraint.
func bufAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

func (r *giouringRing) Submit() (int, error) {
	n, err := r.ring.Submit()
	return int(n), err
}

func (r *giouringRing) WaitCQE() (CQE, error) {
	cqe, err := r.ring.WaitCQE()
	if err != nil {
		return CQE{}, err
	}
	out := CQE{UserData: cqe.UserData, Res: cqe.Res}
	r.ring.CQESeen(cqe)
	return out, nil
}

func (r *giouringRing) PeekCQE() (CQE, bool, error) {
	cqe, err := r.ring.PeekCQE()
	if err != nil {
		return CQE{}, false, nil
	}
	out := CQE{UserData: cqe.UserData, Res: cqe.Res}
	r.ring.CQESeen(cqe)
	return out, true, nil
}
