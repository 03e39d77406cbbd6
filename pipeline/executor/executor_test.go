package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/gml4tdm/checkpointed-go/pipeline"
	"github.com/gml4tdm/checkpointed-go/pipeline/store"
)

// memStorage is an in-memory Storage used to exercise the scheduler without
// touching the filesystem.
type memStorage struct {
	mu       sync.Mutex
	values   map[pipeline.StepHandle]any
	metadata map[pipeline.StepHandle]any
}

func newMemStorage() *memStorage {
	return &memStorage{values: make(map[pipeline.StepHandle]any), metadata: make(map[pipeline.StepHandle]any)}
}

func (s *memStorage) Store(handle pipeline.StepHandle, _ pipeline.StepFactory, value any, metadata any, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[handle] = value
	s.metadata[handle] = metadata
	return nil
}

func (s *memStorage) Retrieve(handle pipeline.StepHandle, _ pipeline.StepFactory) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[handle]
	if !ok {
		return nil, pipeline.ErrMissingCheckpoint
	}
	return v, nil
}

func (s *memStorage) RetrieveMetadata(handle pipeline.StepHandle) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[handle], nil
}

func (s *memStorage) HaveCheckpoint(handle pipeline.StepHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[handle]
	return ok
}

func (s *memStorage) CheckpointPath(pipeline.StepHandle) string { return "" }

func (s *memStorage) SubStorage(pipeline.StepHandle, *pipeline.CheckpointGraph, string) (*store.ResultStore, error) {
	return nil, errors.New("not implemented in memStorage")
}

type countingFactory struct {
	typeID  string
	labels  []string
	execute func(inputs map[string]any) (any, error)
	calls   *int
}

func (f *countingFactory) TypeID() string                                    { return f.typeID }
func (f *countingFactory) InputLabels() []string                             { return f.labels }
func (f *countingFactory) AcceptsWildcard() bool                             { return true }
func (f *countingFactory) DataFormat() string                                { return "json" }
func (f *countingFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }

func (f *countingFactory) NewInstance(map[string]any, *slog.Logger) (pipeline.StepInstance, error) {
	return &countingInstance{execute: f.execute, calls: f.calls}, nil
}

type countingInstance struct {
	execute func(inputs map[string]any) (any, error)
	calls   *int
}

func (i *countingInstance) Execute(_ context.Context, inputs map[string]any) (any, error) {
	*i.calls++
	return i.execute(inputs)
}

func (i *countingInstance) CheckpointMetadata() (any, error) { return map[string]any{"v": 1.0}, nil }
func (i *countingInstance) CheckpointIsValid(any) bool       { return true }

func TestExecutorRunsLinearPipeline(t *testing.T) {
	srcCalls, midCalls, sinkCalls := 0, 0, 0
	p := pipeline.New("linear")
	src, _ := p.AddSource(&countingFactory{typeID: "src", execute: func(map[string]any) (any, error) { return "seed", nil }, calls: &srcCalls}, "src", false, "")
	mid := p.AddStep(&countingFactory{typeID: "mid", labels: []string{"in"}, execute: func(in map[string]any) (any, error) {
		return in["in"].(string) + "-mid", nil
	}, calls: &midCalls}, "mid")
	sink, _ := p.AddSink(&countingFactory{typeID: "sink", labels: []string{"in"}, execute: func(in map[string]any) (any, error) {
		return in["in"].(string) + "-sink", nil
	}, calls: &sinkCalls}, "out.json", "sink")

	if err := p.Connect(src, mid, "in"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Connect(mid, sink, "in"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	plan, err := p.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	storage := newMemStorage()
	exec := New(plan, storage)
	results, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[sink] != "seed-mid-sink" {
		t.Fatalf("unexpected final result: %v", results[sink])
	}
	if srcCalls != 1 || midCalls != 1 || sinkCalls != 1 {
		t.Fatalf("expected each step to run once, got src=%d mid=%d sink=%d", srcCalls, midCalls, sinkCalls)
	}
}

func TestExecutorReusesCheckpoint(t *testing.T) {
	calls := 0
	p := pipeline.New("cacheable")
	src, _ := p.AddSource(&countingFactory{typeID: "src", execute: func(map[string]any) (any, error) {
		calls++
		return "value", nil
	}, calls: &calls}, "src", true, "out.json")

	plan, err := p.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	storage := newMemStorage()
	storage.values[src] = "cached-value"
	storage.metadata[src] = map[string]any{"v": 1.0}

	exec := New(plan, storage)
	results, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[src] != "cached-value" {
		t.Fatalf("expected cached value to be reused, got %v", results[src])
	}
	if calls != 0 {
		t.Fatalf("expected Execute to not be called on a cache hit, got %d calls", calls)
	}
}

func TestExecutorAbortsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	p := pipeline.New("failing")
	src, _ := p.AddSource(&countingFactory{typeID: "src", execute: func(map[string]any) (any, error) {
		return nil, boom
	}, calls: &calls}, "src", false, "")
	_ = src

	plan, err := p.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := New(plan, newMemStorage())
	_, err = exec.Run(context.Background())
	if err == nil {
		t.Fatalf("expected a failure")
	}
	var stepErr *pipeline.StepFailedError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected a *pipeline.StepFailedError, got %T: %v", err, err)
	}
}
