package errors

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates which transport operation produced the error
type Phase string

const (
	PhaseRead         Phase = "read"          // stream/future read
	PhaseWrite        Phase = "write"         // stream/future write
	PhaseCancel       Phase = "cancel"        // cancel-read / cancel-write
	PhaseClose        Phase = "close"         // close-readable / close-writable
	PhaseCopy         Phase = "copy"          // value transfer between ends
	PhaseTransfer     Phase = "transfer"      // handle lift/lower across a boundary
	PhaseErrorContext Phase = "error-context" // error-context intrinsics
	PhaseHost         Phase = "host"          // host-facing wrappers
	PhaseTask         Phase = "task"          // task events and lifecycle
	PhaseConfig       Phase = "config"        // configuration and scenarios
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHandle    Kind = "invalid_handle"
	KindBusy             Kind = "busy"
	KindNotPending       Kind = "not_pending"
	KindTransferWriteEnd Kind = "transfer_write_end"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindUnaligned        Kind = "unaligned"
	KindTypeMismatch     Kind = "type_mismatch"
	KindUnsupported      Kind = "unsupported"
	KindRefCount         Kind = "ref_count"
	KindInvalidData      Kind = "invalid_data"
	KindClosed           Kind = "closed"
	KindAllocation       Kind = "allocation"
	KindLimit            Kind = "limit"
)

// Sentinels for errors.Is checks that only care about the error category.
var (
	ErrInvalidHandle    = &Error{Kind: KindInvalidHandle}
	ErrBusy             = &Error{Kind: KindBusy}
	ErrNotPending       = &Error{Kind: KindNotPending}
	ErrTransferWriteEnd = &Error{Kind: KindTransferWriteEnd}
	ErrOutOfBounds      = &Error{Kind: KindOutOfBounds}
	ErrUnaligned        = &Error{Kind: KindUnaligned}
	ErrTypeMismatch     = &Error{Kind: KindTypeMismatch}
	ErrUnsupported      = &Error{Kind: KindUnsupported}
	ErrRefCount         = &Error{Kind: KindRefCount}
	ErrClosed           = &Error{Kind: KindClosed}
)

// Error is the structured error type used throughout the transport
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Type      string
	Detail    string
	Handle    uint32
	Rep       uint32
	HasHandle bool
	HasRep    bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.HasHandle {
		b.WriteString(" at handle ")
		b.WriteString(strconv.FormatUint(uint64(e.Handle), 10))
	}
	if e.HasRep {
		b.WriteString(" (rep ")
		b.WriteString(strconv.FormatUint(uint64(e.Rep), 10))
		b.WriteByte(')')
	}

	if e.Type != "" {
		b.WriteString(": payload ")
		b.WriteString(e.Type)
	}

	if e.Detail != "" {
		if e.Type != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Is reports whether any error in err's chain matches target.
// It is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// It is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Handle sets the guest-visible handle involved
func (b *Builder) Handle(h uint32) *Builder {
	b.err.Handle = h
	b.err.HasHandle = true
	return b
}

// Rep sets the transmit or error-context rep involved
func (b *Builder) Rep(rep uint32) *Builder {
	b.err.Rep = rep
	b.err.HasRep = true
	return b
}

// Type sets the payload type name
func (b *Builder) Type(t string) *Builder {
	b.err.Type = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidHandle creates an error for a stale or wrongly typed handle
func InvalidHandle(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindInvalidHandle,
		Handle:    handle,
		HasHandle: true,
		Detail:    "invalid handle",
	}
}

// Busy creates an error for an operation attempted on a handle that has
// another operation in flight
func Busy(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindBusy,
		Handle:    handle,
		HasHandle: true,
		Detail:    "cannot drop busy stream or future",
	}
}

// NotPending creates an error for cancelling an operation that is not parked.
// side is "read" or "write".
func NotPending(phase Phase, side string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotPending,
		Detail: fmt.Sprintf("%s canceled when no %s is pending", side, side),
	}
}

// TransferWriteEnd creates an error for lifting a writable end out of an instance
func TransferWriteEnd(handle uint32) *Error {
	return &Error{
		Phase:     PhaseTransfer,
		Kind:      KindTransferWriteEnd,
		Handle:    handle,
		HasHandle: true,
		Detail:    "cannot transfer write end",
	}
}

// OutOfBounds creates a bounds error for a copy source ("read") or
// destination ("write") pointer
func OutOfBounds(phase Phase, side string, addr, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("%s pointer out of bounds: address %d, %d bytes", side, addr, size),
		Value:  addr,
	}
}

// Unaligned creates an alignment error for a copy pointer
func Unaligned(phase Phase, side string, addr, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnaligned,
		Detail: fmt.Sprintf("%s pointer not aligned: address %d, alignment %d", side, addr, align),
		Value:  addr,
	}
}

// TypeMismatch creates a payload type mismatch error
func TypeMismatch(phase Phase, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Type:   want,
		Detail: fmt.Sprintf("transmit type mismatch: got %s", got),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
