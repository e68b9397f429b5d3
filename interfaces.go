// Package raid1mirror provides a RAID-1 (mirrored) virtual block device:
// a single logical device replicated across N underlying base devices,
// with load-balanced reads, read-repair, faulty-replica delta tracking,
// background rebuild, and hot resize/grow.
package raid1mirror

import "github.com/behrlich/go-raid1mirror/internal/interfaces"

// BaseDevice is the interface a base device (replica) must implement.
// All four submission calls return a SubmitResult rather than waiting for
// queue space; an accepted call's completion may run before it returns.
type BaseDevice = interfaces.BaseDevice

// SeekableDevice is a BaseDevice that additionally supports the
// SEEK_DATA/SEEK_HOLE oracle the fragmap scanner drives.
type SeekableDevice = interfaces.SeekableDevice

// MemoryDomainOpts carries the per-I/O options forwarded unchanged to
// base devices: memory-domain handle/context and a metadata buffer.
type MemoryDomainOpts = interfaces.MemoryDomainOpts

// SubmitResult is the outcome of a non-blocking submission.
type SubmitResult = interfaces.SubmitResult

const (
	SubmitAccepted = interfaces.SubmitAccepted
	SubmitBusy     = interfaces.SubmitBusy
	SubmitFailed   = interfaces.SubmitFailed
)

// CompletionFunc is invoked exactly once when an accepted submission
// reaches a terminal state.
type CompletionFunc = interfaces.CompletionFunc

// Logger is the logging interface the mirror's collaborators use.
type Logger = interfaces.Logger
