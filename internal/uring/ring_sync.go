//go:build !giouring
// +build !giouring

package uring

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// syncRing is the default Ring: it executes each PrepareX immediately
// via the equivalent blocking syscall and queues the result for WaitCQE,
// rather than batching SQEs for a real io_uring_enter. It stays fully
// functional so backend.FileDevice works on any platform giouring
// doesn't support.
type syncRing struct {
	mu        sync.Mutex
	completed []CQE
}

func newRing(entries uint32) (Ring, error) {
	return &syncRing{completed: make([]CQE, 0, entries)}, nil
}

func (r *syncRing) Close() error { return nil }

func (r *syncRing) push(userData uint64, res int32) {
	r.mu.Lock()
	r.completed = append(r.completed, CQE{UserData: userData, Res: res})
	r.mu.Unlock()
}

func (r *syncRing) PrepareRead(fd int, buf []byte, offset uint64, userData uint64) error {
	n, err := unix.Pread(fd, buf, int64(offset))
	r.push(userData, syscallResult(n, err))
	return nil
}

func (r *syncRing) PrepareWrite(fd int, buf []byte, offset uint64, userData uint64) error {
	n, err := unix.Pwrite(fd, buf, int64(offset))
	r.push(userData, syscallResult(n, err))
	return nil
}

func (r *syncRing) PrepareFsync(fd int, userData uint64) error {
	err := unix.Fsync(fd)
	r.push(userData, syscallResult(0, err))
	return nil
}

func (r *syncRing) PrepareFallocate(fd int, mode uint32, offset, length uint64, userData uint64) error {
	err := unix.Fallocate(fd, mode, int64(offset), int64(length))
	r.push(userData, syscallResult(0, err))
	return nil
}

func (r *syncRing) Submit() (int, error) {
	r.mu.Lock()
	n := len(r.completed)
	r.mu.Unlock()
	return n, nil
}

// WaitCQE never actually waits: every PrepareX call above already ran
// its syscall and queued the result, so a completion is available as
// soon as it's been Submit-ed. Calling WaitCQE with nothing queued is a
// caller bug, not a real "still in flight" state, so it returns an
// error instead of spinning.
func (r *syncRing) WaitCQE() (CQE, error) {
	if cqe, ok, _ := r.PeekCQE(); ok {
		return cqe, nil
	}
	return CQE{}, errNoCompletion
}

var errNoCompletion = errors.New("uring: no completion queued")

func (r *syncRing) PeekCQE() (CQE, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.completed) == 0 {
		return CQE{}, false, nil
	}
	cqe := r.completed[0]
	r.completed = r.completed[1:]
	return cqe, true, nil
}

func syscallResult(n int, err error) int32 {
	if err == nil {
		return int32(n)
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}
