package backend

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-raid1mirror/internal/constants"
	"github.com/behrlich/go-raid1mirror/internal/interfaces"
	"github.com/behrlich/go-raid1mirror/internal/uring"
)

// FileDevice is a file-backed base device driving its I/O through an
// io_uring submission queue. Each logical submission stages one SQE per
// iovec segment, flushes them with a single ring submit, and reaps the
// completions before delivering the aggregate result inline.
//
// A full submission queue observed before anything of an operation has
// been staged surfaces as SubmitBusy (the mirror's transient-full
// back-pressure); once staging has begun, ring pressure is absorbed by
// draining in place so a half-staged operation never escapes.
type FileDevice struct {
	f         *os.File
	ring      uring.Ring
	blockSize uint64
	boundary  uint64
	size      int64
	nextID    uint64
}

// OpenFile opens (creating and growing to sizeBytes if needed) a
// file-backed base device with the given block size (bytes) and
// optimal-IO boundary (blocks).
func OpenFile(path string, sizeBytes int64, blockSize, optimalIOBoundary uint64) (*FileDevice, error) {
	if blockSize == 0 {
		blockSize = constants.DefaultLogicalBlockSize
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("backend: stat %s: %w", path, err)
	}
	size := st.Size()
	if size < sizeBytes {
		if err := f.Truncate(sizeBytes); err != nil {
			f.Close()
			return nil, fmt.Errorf("backend: truncate %s: %w", path, err)
		}
		size = sizeBytes
	}

	ring, err := uring.NewRing(constants.DefaultRingEntries)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("backend: create ring: %w", err)
	}

	return &FileDevice{
		f:         f,
		ring:      ring,
		blockSize: blockSize,
		boundary:  optimalIOBoundary,
		size:      size,
	}, nil
}

// drain flushes n staged SQEs and reaps their completions, returning
// whether all succeeded and the first failure observed.
func (d *FileDevice) drain(n int) (bool, error) {
	if n == 0 {
		return true, nil
	}
	if _, err := d.ring.Submit(); err != nil {
		return false, err
	}
	ok := true
	var firstErr error
	for i := 0; i < n; i++ {
		cqe, err := d.ring.WaitCQE()
		if err != nil {
			return false, err
		}
		if cqe.Res < 0 && ok {
			ok = false
			firstErr = unix.Errno(-cqe.Res)
		}
	}
	return ok, firstErr
}

// vectored stages one SQE per iovec segment via prep, draining in place
// when the ring fills mid-operation.
func (d *FileDevice) vectored(iovec [][]byte, offsetBytes uint64, prep func(seg []byte, off uint64, id uint64) error, done interfaces.CompletionFunc) interfaces.SubmitResult {
	staged := 0
	okAll := true
	var firstErr error
	off := offsetBytes

	for _, seg := range iovec {
		for {
			err := prep(seg, off, d.nextID)
			if err == nil {
				d.nextID++
				staged++
				break
			}
			if errors.Is(err, uring.ErrRingFull) {
				if staged == 0 && okAll && firstErr == nil {
					return interfaces.SubmitBusy
				}
				ok, derr := d.drain(staged)
				staged = 0
				if !ok && okAll {
					okAll = false
					firstErr = derr
				}
				continue
			}
			return interfaces.SubmitFailed
		}
		off += uint64(len(seg))
	}

	ok, err := d.drain(staged)
	if !ok && okAll {
		okAll = false
		firstErr = err
	}
	done(okAll, firstErr)
	return interfaces.SubmitAccepted
}

// ReadvBlocksExt implements the BaseDevice interface
func (d *FileDevice) ReadvBlocksExt(ctx context.Context, iovec [][]byte, offsetBlocks, numBlocks uint64, opts interfaces.MemoryDomainOpts, done interfaces.CompletionFunc) interfaces.SubmitResult {
	fd := int(d.f.Fd())
	return d.vectored(iovec, offsetBlocks*d.blockSize, func(seg []byte, off, id uint64) error {
		return d.ring.PrepareRead(fd, seg, off, id)
	}, done)
}

// WritevBlocksExt implements the BaseDevice interface
func (d *FileDevice) WritevBlocksExt(ctx context.Context, iovec [][]byte, offsetBlocks, numBlocks uint64, opts interfaces.MemoryDomainOpts, done interfaces.CompletionFunc) interfaces.SubmitResult {
	fd := int(d.f.Fd())
	return d.vectored(iovec, offsetBlocks*d.blockSize, func(seg []byte, off, id uint64) error {
		return d.ring.PrepareWrite(fd, seg, off, id)
	}, done)
}

// UnmapBlocks implements the BaseDevice interface by punching a hole.
func (d *FileDevice) UnmapBlocks(ctx context.Context, offsetBlocks, numBlocks uint64, done interfaces.CompletionFunc) interfaces.SubmitResult {
	fd := int(d.f.Fd())
	err := d.ring.PrepareFallocate(fd,
		unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
		offsetBlocks*d.blockSize, numBlocks*d.blockSize, d.nextID)
	if errors.Is(err, uring.ErrRingFull) {
		return interfaces.SubmitBusy
	}
	if err != nil {
		return interfaces.SubmitFailed
	}
	d.nextID++
	ok, ferr := d.drain(1)
	done(ok, ferr)
	return interfaces.SubmitAccepted
}

// FlushBlocks implements the BaseDevice interface
func (d *FileDevice) FlushBlocks(ctx context.Context, offsetBlocks, numBlocks uint64, done interfaces.CompletionFunc) interfaces.SubmitResult {
	fd := int(d.f.Fd())
	err := d.ring.PrepareFsync(fd, d.nextID)
	if errors.Is(err, uring.ErrRingFull) {
		return interfaces.SubmitBusy
	}
	if err != nil {
		return interfaces.SubmitFailed
	}
	d.nextID++
	ok, ferr := d.drain(1)
	done(ok, ferr)
	return interfaces.SubmitAccepted
}

// DataSize implements the BaseDevice interface
func (d *FileDevice) DataSize() uint64 {
	return uint64(d.size) / d.blockSize
}

// OptimalIOBoundary implements the BaseDevice interface
func (d *FileDevice) OptimalIOBoundary() uint64 {
	return d.boundary
}

// Size implements the SeekableDevice interface
func (d *FileDevice) Size() int64 {
	return d.size
}

// SeekData implements the SeekableDevice interface via lseek(SEEK_DATA).
func (d *FileDevice) SeekData(off int64) (int64, error) {
	pos, err := unix.Seek(int(d.f.Fd()), off, unix.SEEK_DATA)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return -1, nil
		}
		return -1, err
	}
	return pos, nil
}

// SeekHole implements the SeekableDevice interface via lseek(SEEK_HOLE).
func (d *FileDevice) SeekHole(off int64) (int64, error) {
	pos, err := unix.Seek(int(d.f.Fd()), off, unix.SEEK_HOLE)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return d.size, nil
		}
		return -1, err
	}
	return pos, nil
}

// Path returns the backing file's path.
func (d *FileDevice) Path() string {
	return d.f.Name()
}

// Close implements the BaseDevice interface
func (d *FileDevice) Close() error {
	rerr := d.ring.Close()
	ferr := d.f.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}

// Compile-time interface checks
var (
	_ interfaces.BaseDevice     = (*FileDevice)(nil)
	_ interfaces.SeekableDevice = (*FileDevice)(nil)
)
