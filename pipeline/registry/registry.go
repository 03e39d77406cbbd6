// Package registry is an optional run journal: a log of pipeline runs and
// the remap/store events within them, used for crash recovery cross-checks
// and run-history queries. It never influences checkpoint matching or
// execution. Its one effect on the store is crash recovery: a pending remap
// it confirms lets store.Open finish an interrupted rename instead of
// deleting the stranded _temp entry.
package registry

import (
	"time"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

// RunRecord describes one pipeline run's lifecycle as seen by the
// registry.
type RunRecord struct {
	RunID        string
	PipelineName string
	StartedAt    time.Time
	CompletedAt  time.Time
	Err          string // empty if the run is in-flight or succeeded
	MatchedCount int    // handles carried over from the previous run
	TotalCount   int    // checkpoints stored during the run
}

// RemapJournalEntry is the durable record of one pipeline's in-flight
// remap: the full new->old handle mapping store.ResultStore is about to
// rename on disk. Each backend constructs and persists one in
// RecordRemapStart, before any rename happens, and removes it in
// RecordRemapComplete once the two-phase remap finishes. A crash between
// those two calls leaves the entry in place for PendingRemap to return, so
// a later recovery pass can cross-check it against stranded "_temp"
// entries instead of discarding them blind.
type RemapJournalEntry struct {
	PipelineName string
	Mapping      map[pipeline.StepHandle]pipeline.StepHandle
}

// Registry records run lifecycle and checkpoint-store events. It embeds
// the methods pipeline/store.Registry requires (RecordRemapStart,
// RecordRemapComplete, PendingRemap, RecordStore) structurally, using only
// pipeline types in their signatures — any Registry implementation can be
// passed directly to store.Open without pipeline/store importing this
// package.
type Registry interface {
	// RecordRunStart opens a new run record for pipelineName and returns
	// its run ID.
	RecordRunStart(pipelineName string, startedAt time.Time) (runID string, err error)

	// RecordRunEnd closes runID's record. runErr is nil on success.
	RecordRunEnd(runID string, completedAt time.Time, runErr error) error

	// RecordRemapStart journals mapping as pipelineName's in-flight remap,
	// before store.ResultStore performs any rename. Matches
	// pipeline/store.Registry's method of the same name.
	RecordRemapStart(pipelineName string, mapping map[pipeline.StepHandle]pipeline.StepHandle) error

	// RecordRemapComplete clears pipelineName's in-flight remap journal
	// entry, once both rename phases have finished. Matches
	// pipeline/store.Registry's method of the same name.
	RecordRemapComplete(pipelineName string) error

	// PendingRemap returns the mapping last journaled for pipelineName via
	// RecordRemapStart and not yet cleared by RecordRemapComplete. ok is
	// false when no entry is pending. Matches pipeline/store.Registry's
	// method of the same name.
	PendingRemap(pipelineName string) (mapping map[pipeline.StepHandle]pipeline.StepHandle, ok bool, err error)

	// RecordStore journals a successful checkpoint write. Matches
	// pipeline/store.Registry's method of the same name.
	RecordStore(pipelineName string, handle pipeline.StepHandle)

	// Runs returns every recorded run for pipelineName, most recent first.
	Runs(pipelineName string) ([]RunRecord, error)

	// Close releases any resources (a database handle, an open file).
	Close() error
}
