package raid1mirror

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Error represents a structured mirror error with context and errno mapping
type Error struct {
	Op       string     // Operation that failed (e.g., "START", "RESIZE", "FRAGMAP")
	MirrorID string     // Mirror name ("" if not applicable)
	Base     int        // Base slot index (-1 if not applicable)
	Code     ErrorCode  // High-level error category
	Errno    unix.Errno // Errno (0 if not applicable)
	Msg      string     // Human-readable message
	Inner    error      // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.MirrorID != "" {
		parts = append(parts, fmt.Sprintf("mirror=%s", e.MirrorID))
	}

	if e.Base >= 0 {
		parts = append(parts, fmt.Sprintf("base=%d", e.Base))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", int(e.Errno)))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("raid1mirror: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("raid1mirror: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support against both *Error and the sentinel
// MirrorError values below.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if me, ok := target.(MirrorError); ok {
		return e.Code == ErrorCode(me)
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories. These are the six
// error kinds of the mirror's error model: a replica missing at
// submission time, transient queue fullness, a permanent I/O failure,
// a failed allocation, invalid arguments, and an unknown device.
type ErrorCode string

const (
	ErrCodeMissingReplica ErrorCode = "no healthy replica"
	ErrCodeTransientFull  ErrorCode = "submission queue full"
	ErrCodePermanentIO    ErrorCode = "I/O error"
	ErrCodeAllocFail      ErrorCode = "allocation failed"
	ErrCodeInvalidArg     ErrorCode = "invalid argument"
	ErrCodeNoSuchDevice   ErrorCode = "no such device"
)

// MirrorError is a bare sentinel error usable directly with errors.Is.
type MirrorError string

func (e MirrorError) Error() string {
	return string(e)
}

// Sentinel error values, one per ErrorCode
const (
	ErrMissingReplica MirrorError = "no healthy replica"
	ErrTransientFull  MirrorError = "submission queue full"
	ErrPermanentIO    MirrorError = "I/O error"
	ErrAllocFail      MirrorError = "allocation failed"
	ErrInvalidArg     MirrorError = "invalid argument"
	ErrNoSuchDevice   MirrorError = "no such device"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Base: -1,
		Code: code,
		Msg:  msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno unix.Errno) *Error {
	return &Error{
		Op:    op,
		Base:  -1,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// NewMirrorError creates a new mirror-scoped error
func NewMirrorError(op, mirrorID string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		MirrorID: mirrorID,
		Base:     -1,
		Code:     code,
		Msg:      msg,
	}
}

// NewBaseError creates a new base-slot-scoped error
func NewBaseError(op, mirrorID string, base int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		MirrorID: mirrorID,
		Base:     base,
		Code:     code,
		Msg:      msg,
	}
}

// WrapError wraps an existing error with mirror context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if me, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			MirrorID: me.MirrorID,
			Base:     me.Base,
			Code:     me.Code,
			Errno:    me.Errno,
			Msg:      me.Msg,
			Inner:    me.Inner,
		}
	}

	code := ErrCodePermanentIO
	var errno unix.Errno
	if errors.As(inner, &errno) {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:    op,
			Base:  -1,
			Code:  code,
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Base:  -1,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps an errno to a mirror error code. ENOMEM maps to
// TransientFull: per the submission contract, ENOMEM from a base device
// means a transiently-full queue to be retried via the IO-wait list,
// never a hard failure.
func mapErrnoToCode(errno unix.Errno) ErrorCode {
	switch errno {
	case unix.ENOMEM, unix.EAGAIN:
		return ErrCodeTransientFull
	case unix.ENODEV, unix.ENOENT:
		return ErrCodeNoSuchDevice
	case unix.EINVAL, unix.E2BIG, unix.ERANGE:
		return ErrCodeInvalidArg
	case unix.ENXIO:
		return ErrCodeMissingReplica
	default:
		return ErrCodePermanentIO
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno unix.Errno) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Errno == errno
	}
	return false
}
