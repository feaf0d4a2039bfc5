package prover

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when no framed response arrives within the read
// timeout.
var ErrTimeout = errors.New("prover: timed out waiting for response")

// CrashKind classifies a [CrashError].
type CrashKind int

const (
	// CrashOutOfMemory means the process was killed by memory-limit
	// enforcement (exit status 137).
	CrashOutOfMemory CrashKind = iota + 1
	// CrashUnexpectedExit means the process is gone for any other reason.
	CrashUnexpectedExit
	// CrashUnexpectedEOF means the output stream ended before a frame
	// completed.
	CrashUnexpectedEOF
	// CrashInvalidPayload means a frame was read but its payload could not
	// be decoded.
	CrashInvalidPayload
)

// String implements fmt.Stringer.
func (k CrashKind) String() string {
	switch k {
	case CrashOutOfMemory:
		return "out-of-memory"
	case CrashUnexpectedExit:
		return "unexpected-exit"
	case CrashUnexpectedEOF:
		return "unexpected-eof"
	case CrashInvalidPayload:
		return "invalid-payload"
	default:
		return fmt.Sprintf("CrashKind(%d)", int(k))
	}
}

// CrashError reports that the prover process can no longer serve requests.
type CrashError struct {
	Kind CrashKind
	// ExitCode is set for CrashOutOfMemory and CrashUnexpectedExit. It is -1
	// when the process never started.
	ExitCode int
	// Raw is the offending payload for CrashInvalidPayload.
	Raw string
	Err error
}

func (e *CrashError) Error() string {
	var msg string
	switch e.Kind {
	case CrashOutOfMemory:
		msg = "prover crashed: out of memory"
	case CrashUnexpectedExit:
		msg = fmt.Sprintf("prover crashed: unexpected exit code: %d", e.ExitCode)
	case CrashUnexpectedEOF:
		msg = "prover crashed: unexpected EOF"
	case CrashInvalidPayload:
		msg = fmt.Sprintf("prover crashed: invalid JSON: %s", e.Raw)
	default:
		msg = "prover crashed: " + e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CrashError) Unwrap() error { return e.Err }

// IsOutOfMemory reports whether the crash was caused by the OOM killer.
func (e *CrashError) IsOutOfMemory() bool { return e.Kind == CrashOutOfMemory }

// CrashKindOf returns the kind of the CrashError in err's chain, or 0.
func CrashKindOf(err error) CrashKind {
	var crash *CrashError
	if errors.As(err, &crash) {
		return crash.Kind
	}
	return 0
}
