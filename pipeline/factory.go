package pipeline

import (
	"context"
	"log/slog"
)

// StepFactory is the static descriptor for a step class: the facts the
// builder and the cross-run matcher need without constructing an instance.
//
// TypeID must be stable across runs for "the same" step class — unlike a
// language-level type identity, it is author-chosen (e.g. a fully-qualified
// name) so that renaming a Go type does not invalidate every checkpoint.
type StepFactory interface {
	// TypeID is the matcher's comparison key. Two factories are candidates
	// for cross-run reuse only when TypeID is identical.
	TypeID() string

	// InputLabels returns the finite set of concrete (non-wildcard) labels
	// this step accepts.
	InputLabels() []string

	// AcceptsWildcard reports whether, in addition to InputLabels, this
	// step accepts any additional label.
	AcceptsWildcard() bool

	// AcceptsUpstream reports whether a step built from upstream may feed
	// this step under label. Called once per candidate edge by Connect.
	AcceptsUpstream(upstream StepFactory, label string) bool

	// DataFormat names the codec (pipeline/format registry key) used to
	// persist this step's result.
	DataFormat() string

	// NewInstance constructs a fresh StepInstance for one task dispatch.
	NewInstance(config map[string]any, logger *slog.Logger) (StepInstance, error)
}

// StepInstance is the per-task behavior of a step.
type StepInstance interface {
	// Execute runs the step's computation. inputs is keyed by input label.
	Execute(ctx context.Context, inputs map[string]any) (any, error)

	// CheckpointMetadata returns JSON-serializable metadata recorded
	// alongside a freshly stored checkpoint.
	CheckpointMetadata() (any, error)

	// CheckpointIsValid reports whether a checkpoint stored with the given
	// prior metadata may still be reused instead of re-executing.
	CheckpointIsValid(metadata any) bool
}

// ContextReceiver is an optional interface a StepInstance may implement to
// receive the execution context before Execute is called. The core reserves
// the "system.*" namespace within it.
type ContextReceiver interface {
	SetExecutionContext(ctx *ExecutionContext)
}

// FormatReceiver is an optional interface a StepInstance may implement to
// learn, per input label, which codec produced that input's value.
type FormatReceiver interface {
	SetInputStorageFormats(formats map[string]string)
}
