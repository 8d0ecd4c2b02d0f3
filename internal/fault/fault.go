// Package fault defines the stable failure taxonomy shared by the catalog,
// the execution engine, and the pipeline. Callers branch on Kind, never on
// message text.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindValidation covers bad input shape, e.g. a save request missing the
	// required content/manual-procedure pairing.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindNotFound covers unknown catalog ids, missing checkpoints and
	// missing files.
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidTarget     Kind = "INVALID_TARGET"
	KindContractViolation Kind = "CONTRACT_VIOLATION"
	KindTimeout           Kind = "TIMEOUT"
	// KindRunnerException means the artifact itself faulted during execution.
	KindRunnerException Kind = "RUNNER_EXCEPTION"
	KindToolUnavailable Kind = "TOOL_UNAVAILABLE"
	// KindNotExecutable is returned when run() is attempted on a manual record.
	KindNotExecutable Kind = "NOT_EXECUTABLE"
	// KindUpstreamFailure means the generation collaborator failed or returned
	// output that could not be parsed into an artifact.
	KindUpstreamFailure   Kind = "UPSTREAM_FAILURE"
	KindStorageFailure    Kind = "STORAGE_FAILURE"
	KindMissingCheckpoint Kind = "MISSING_CHECKPOINT"
)

// Fault carries a taxonomy kind plus a human-readable message. It optionally
// wraps an underlying cause.
type Fault struct {
	Kind    Kind
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the taxonomy kind from err, unwrapping as needed.
// Errors that carry no Fault report the empty kind.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
