package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

// MemoryRegistry is an in-memory Registry, for tests and short-lived
// processes where a durable run log isn't needed.
type MemoryRegistry struct {
	mu   sync.Mutex
	runs map[string]*RunRecord
	// order preserves insertion order per pipeline so Runs can return
	// most-recent-first without depending on map iteration order.
	order map[string][]string
	// pending holds each pipeline's in-flight remap journal entry, keyed
	// by pipeline name, between RecordRemapStart and RecordRemapComplete.
	pending map[string]RemapJournalEntry
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		runs:    make(map[string]*RunRecord),
		order:   make(map[string][]string),
		pending: make(map[string]RemapJournalEntry),
	}
}

func (r *MemoryRegistry) RecordRunStart(pipelineName string, startedAt time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runID := uuid.NewString()
	r.runs[runID] = &RunRecord{RunID: runID, PipelineName: pipelineName, StartedAt: startedAt}
	r.order[pipelineName] = append(r.order[pipelineName], runID)
	return runID, nil
}

func (r *MemoryRegistry) RecordRunEnd(runID string, completedAt time.Time, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("registry: unknown run %q", runID)
	}
	rec.CompletedAt = completedAt
	if runErr != nil {
		rec.Err = runErr.Error()
	}
	return nil
}

func (r *MemoryRegistry) RecordRemapStart(pipelineName string, mapping map[pipeline.StepHandle]pipeline.StepHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := make(map[pipeline.StepHandle]pipeline.StepHandle, len(mapping))
	for k, v := range mapping {
		cp[k] = v
	}
	r.pending[pipelineName] = RemapJournalEntry{PipelineName: pipelineName, Mapping: cp}

	ids := r.order[pipelineName]
	if len(ids) > 0 {
		r.runs[ids[len(ids)-1]].MatchedCount = len(mapping)
	}
	return nil
}

func (r *MemoryRegistry) RecordRemapComplete(pipelineName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, pipelineName)
	return nil
}

func (r *MemoryRegistry) PendingRemap(pipelineName string) (map[pipeline.StepHandle]pipeline.StepHandle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[pipelineName]
	if !ok {
		return nil, false, nil
	}
	return entry.Mapping, true, nil
}

func (r *MemoryRegistry) RecordStore(pipelineName string, _ pipeline.StepHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.order[pipelineName]
	if len(ids) == 0 {
		return
	}
	rec := r.runs[ids[len(ids)-1]]
	rec.TotalCount++
}

func (r *MemoryRegistry) Runs(pipelineName string) ([]RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.order[pipelineName]
	out := make([]RunRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, *r.runs[ids[i]])
	}
	return out, nil
}

func (r *MemoryRegistry) Close() error { return nil }
