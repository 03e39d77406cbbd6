package pipeline

import "strconv"

// StepHandle is an opaque, dense, non-negative identifier for a step within
// the pipeline that minted it. Handles are assigned in insertion order
// starting at zero. Equality and use as a map key are over the underlying
// integer alone — a human-readable name, when one exists, is tracked
// separately on PipelineNode and never participates in handle identity.
//
// A handle is valid only within the pipeline that created it; comparing
// handles minted by different pipelines is meaningless even though it will
// not panic.
type StepHandle int

// InvalidHandle is returned by lookups that found nothing.
const InvalidHandle StepHandle = -1

// RawIdentifier returns the underlying integer, which is also the on-disk
// checkpoint identifier (data/<n>, metadata/<n>.json).
func (h StepHandle) RawIdentifier() int {
	return int(h)
}

// String renders the handle for logging and error messages.
func (h StepHandle) String() string {
	return strconv.Itoa(int(h))
}
