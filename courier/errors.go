package courier

import (
	"errors"
	"fmt"
)

// Kind classifies send failures. The enumeration is closed: nothing is
// rethrown past the engine, every failure resolves to one of these.
type Kind string

const (
	// KindValidation blocks before any optimistic state is created
	// (empty prompt, unresolved session).
	KindValidation Kind = "validation"

	// KindRuntimeSwitch blocks before creation: a declined provider
	// confirmation or a failed runtime switch.
	KindRuntimeSwitch Kind = "runtime_switch"

	// KindStream marks a streaming failure after optimistic state exists:
	// missing body reader, a parsed error event, or a decode/read failure.
	KindStream Kind = "stream"

	// KindTaskDispatch marks a queued-path network failure after
	// optimistic state exists.
	KindTaskDispatch Kind = "task_dispatch"

	// KindBestEffort marks failures that are logged only and never alter
	// visible state (memory ingestion).
	KindBestEffort Kind = "best_effort"
)

// Error is the single failure type surfaced by the engine.
type Error struct {
	Kind    Kind
	Message string // human-readable, user-facing
	Err     error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the failure kind from err, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage extracts the human-readable message from err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
