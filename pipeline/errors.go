package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors raised by Pipeline.Connect and Pipeline.Build. Use
// errors.Is to test for a specific kind; the wrapping error carries the
// offending handle(s)/label where applicable.
var (
	// ErrUnknownStep is raised by Connect when a handle does not belong to
	// the pipeline it was passed to.
	ErrUnknownStep = errors.New("unknown step")

	// ErrSelfLoop is raised by Connect when source == target.
	ErrSelfLoop = errors.New("self loop")

	// ErrDuplicateEdge is raised by Connect when an edge already exists
	// between the same (source, target) pair.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrInputAsSink is raised by Connect when target is an input node.
	ErrInputAsSink = errors.New("input step used as sink")

	// ErrUnsupportedLabel is raised by Connect when the target factory
	// rejects the label, or the upstream predicate rejects the source.
	ErrUnsupportedLabel = errors.New("unsupported label")

	// ErrMissingConnection is raised by Build when a non-wildcard input
	// label of some step is never connected.
	ErrMissingConnection = errors.New("missing connection")

	// ErrBadBoundary is raised by Build when a non-input, non-output step
	// lacks an incoming or an outgoing edge.
	ErrBadBoundary = errors.New("bad boundary")

	// ErrUnreachable is raised by Build when a step cannot be reached from
	// the input set.
	ErrUnreachable = errors.New("unreachable step")

	// ErrCycle is raised by Build when the edge relation is not acyclic.
	ErrCycle = errors.New("cycle detected")

	// ErrMissingCheckpoint is raised by a ResultStore when retrieving a
	// handle that has no checkpoint on disk.
	ErrMissingCheckpoint = errors.New("missing checkpoint")

	// ErrStorageError wraps a fatal filesystem or codec failure during
	// store.
	ErrStorageError = errors.New("storage error")

	// ErrCodecError wraps a failure from a registered Codec.
	ErrCodecError = errors.New("codec error")
)

// StepFailedError wraps a user step's execute error as it is surfaced by
// the TaskExecutor.
type StepFailedError struct {
	Handle StepHandle
	Cause  error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Handle, e.Cause)
}

func (e *StepFailedError) Unwrap() error { return e.Cause }

// SubPipelineError wraps any error surfaced from an inner pipeline's
// execution, attributed to the sub-pipeline step that owns it.
type SubPipelineError struct {
	ParentHandle StepHandle
	Cause        error
}

func (e *SubPipelineError) Error() string {
	return fmt.Sprintf("sub-pipeline at step %s failed: %v", e.ParentHandle, e.Cause)
}

func (e *SubPipelineError) Unwrap() error { return e.Cause }

// withHandle wraps a sentinel error with a handle for error messages while
// preserving errors.Is against the sentinel.
func withHandle(sentinel error, handle StepHandle) error {
	return fmt.Errorf("%w: step %s", sentinel, handle)
}

func withHandleLabel(sentinel error, handle StepHandle, label string) error {
	return fmt.Errorf("%w: step %s, label %q", sentinel, handle, label)
}
