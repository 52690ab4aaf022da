package analysis

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to API callers.
var (
	// ErrAlreadyRunning means a run is active for the session; the
	// caller can wait or cancel first.
	ErrAlreadyRunning = errors.New("a run is already active for this session")

	// ErrRunActive rejects destructive operations on a session whose
	// run is still in flight.
	ErrRunActive = errors.New("session has an active run")

	// ErrNotFound means the session id is unknown.
	ErrNotFound = errors.New("session not found")
)

// ErrorKind classifies fatal run failures for the error event payload.
type ErrorKind string

const (
	// KindLLMOutputInvalid: the model's output failed JSON/schema
	// validation twice (initial attempt plus one corrective retry).
	KindLLMOutputInvalid ErrorKind = "llm_output_invalid"

	// KindLLMTransport: the generation call itself failed (network,
	// timeout, non-200). Not retried by the pipeline.
	KindLLMTransport ErrorKind = "llm_transport_error"

	// KindInternal covers anything else caught at the pipeline boundary.
	KindInternal ErrorKind = "internal"
)

// RunError is a fatal, classified stage failure.
type RunError struct {
	Kind ErrorKind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}
