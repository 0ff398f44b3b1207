package vkrcontext

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorCode represents the high-level error categories from the context
// engine's error-handling design: structural-protocol, resource, driver,
// policy, and capacity errors, plus the sticky fatal state.
type ErrorCode string

const (
	ErrCodeStructuralProtocol ErrorCode = "structural protocol violation"
	ErrCodeResource           ErrorCode = "resource error"
	ErrCodeDriver             ErrorCode = "native driver error"
	ErrCodePolicy             ErrorCode = "policy violation"
	ErrCodeCapacity           ErrorCode = "capacity exceeded"
	ErrCodeFatal              ErrorCode = "context is fatal"
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeNotFound           ErrorCode = "not found"
)

// Error is a structured context-engine error carrying enough context to
// identify which context/ring/queue produced it.
type Error struct {
	Op        string        // operation that failed, e.g. "CreateRing", "lookup"
	ContextID uint32        // guest-assigned context id (0 if not applicable)
	Ring      int           // ring index (-1 if not applicable)
	Code      ErrorCode     // high-level error category
	Errno     syscall.Errno // underlying errno, if any
	Msg       string        // human-readable message
	Inner     error         // wrapped error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ContextID != 0 {
		parts = append(parts, fmt.Sprintf("ctx=%d", e.ContextID))
	}
	if e.Ring >= 0 {
		parts = append(parts, fmt.Sprintf("ring=%d", e.Ring))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("vkrcontext: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("vkrcontext: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparisons against another *Error by Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with no context/ring association.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Ring: -1}
}

// NewContextError creates a context-scoped structured error.
func NewContextError(op string, contextID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ContextID: contextID, Code: code, Msg: msg, Ring: -1}
}

// NewRingError creates a ring-scoped structured error.
func NewRingError(op string, contextID uint32, ring int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ContextID: contextID, Ring: ring, Code: code, Msg: msg}
}

// WrapError wraps an arbitrary error with context-engine categorization.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ce, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			ContextID: ce.ContextID,
			Ring:      ce.Ring,
			Code:      ce.Code,
			Errno:     ce.Errno,
			Msg:       ce.Msg,
			Inner:     ce.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Ring:  -1,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Ring: -1, Code: ErrCodeDriver, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeNotFound
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOMEM:
		return ErrCodeCapacity
	default:
		return ErrCodeDriver
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno reports whether err is (or wraps) an *Error carrying the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}

// Sentinel errors for conditions that don't need per-call context.
var (
	ErrFatal             = NewError("dispatch", ErrCodeFatal, "context is in the fatal state")
	ErrInvalidParameters = NewError("create", ErrCodeInvalidParameters, "invalid parameters")
	ErrUnknownOpcode     = NewError("dispatch", ErrCodeStructuralProtocol, "unknown opcode")
	ErrBlockingCall      = NewError("dispatch", ErrCodePolicy, "blocking call rejected")
	ErrNestedExecuteBusy = NewError("dispatch", ErrCodePolicy, "nested execute already active")
)
