// Package errors provides structured error types for the stream/future transport.
//
// Errors are categorized by Phase (which operation failed) and Kind (error category).
// The Error type carries the handle or transmit rep involved, the payload type
// name and an optional cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseWrite, errors.KindInvalidHandle).
//		Handle(7).
//		Detail("invalid handle").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotPending(errors.PhaseCancel, "write")
//	err := errors.OutOfBounds(errors.PhaseCopy, "read", addr, size)
//
// All errors implement the standard error interface and support errors.Is/As.
// errors.Is matches on (Phase, Kind); the Err* sentinels match on Kind alone.
package errors
