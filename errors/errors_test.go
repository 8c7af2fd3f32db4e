package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: New(PhaseWrite, KindTypeMismatch).
				Handle(3).
				Rep(9).
				Type("u32").
				Detail("transmit type mismatch").
				Build(),
			contains: []string{"[write]", "type_mismatch", "handle 3", "rep 9", "payload u32", "transmit type mismatch"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseCopy,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[copy]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseErrorContext,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[error-context]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseCopy, KindInvalidData, cause, "lift failed")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := InvalidHandle(PhaseRead, 4)

	if !errors.Is(err, ErrInvalidHandle) {
		t.Error("sentinel without phase should match any phase")
	}
	if !errors.Is(err, &Error{Phase: PhaseRead, Kind: KindInvalidHandle}) {
		t.Error("same phase and kind should match")
	}
	if errors.Is(err, &Error{Phase: PhaseWrite, Kind: KindInvalidHandle}) {
		t.Error("different phase should not match")
	}
	if errors.Is(err, ErrBusy) {
		t.Error("different kind should not match")
	}
}

func TestIsAs_Wrapped(t *testing.T) {
	inner := Busy(PhaseWrite, 7)
	wrapped := fmt.Errorf("guest write: %w", inner)

	if !Is(wrapped, ErrBusy) {
		t.Error("Is should see through fmt wrapping")
	}
	if Is(wrapped, ErrClosed) {
		t.Error("Is should not match a different kind")
	}

	var e *Error
	if !As(wrapped, &e) {
		t.Fatal("As should find *Error")
	}
	if e.Phase != PhaseWrite || !e.HasHandle || e.Handle != 7 {
		t.Errorf("As found %+v", e)
	}
	if As(errors.New("plain"), &e) {
		t.Error("As should not match a plain error")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err    *Error
		kind   Kind
		detail string
	}{
		{Busy(PhaseClose, 1), KindBusy, "cannot drop busy stream or future"},
		{NotPending(PhaseCancel, "write"), KindNotPending, "write canceled when no write is pending"},
		{NotPending(PhaseCancel, "read"), KindNotPending, "read canceled when no read is pending"},
		{TransferWriteEnd(2), KindTransferWriteEnd, "cannot transfer write end"},
		{OutOfBounds(PhaseCopy, "read", 100, 8), KindOutOfBounds, "read pointer out of bounds"},
		{Unaligned(PhaseCopy, "write", 3, 4), KindUnaligned, "write pointer not aligned"},
		{TypeMismatch(PhaseHost, "u32", "string"), KindTypeMismatch, "transmit type mismatch"},
		{Unsupported(PhaseClose, "closing writable streams/futures with errors not yet implemented"), KindUnsupported, "not yet implemented"},
	}

	for _, tt := range tests {
		if tt.err.Kind != tt.kind {
			t.Errorf("kind = %s, want %s", tt.err.Kind, tt.kind)
		}
		if !strings.Contains(tt.err.Error(), tt.detail) {
			t.Errorf("%q does not contain %q", tt.err.Error(), tt.detail)
		}
	}
}
