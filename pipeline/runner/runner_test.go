package runner

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/gml4tdm/checkpointed-go/pipeline"
	"github.com/gml4tdm/checkpointed-go/pipeline/registry"
)

type constFactory struct {
	value any
	err   error
}

func (f *constFactory) TypeID() string                                    { return "runner-test.const" }
func (f *constFactory) InputLabels() []string                             { return nil }
func (f *constFactory) AcceptsWildcard() bool                             { return true }
func (f *constFactory) DataFormat() string                                { return "json" }
func (f *constFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }

func (f *constFactory) NewInstance(map[string]any, *slog.Logger) (pipeline.StepInstance, error) {
	return &constInstance{value: f.value, err: f.err}, nil
}

type constInstance struct {
	value any
	err   error
}

func (i *constInstance) Execute(context.Context, map[string]any) (any, error) { return i.value, i.err }
func (i *constInstance) CheckpointMetadata() (any, error)                     { return nil, nil }
func (i *constInstance) CheckpointIsValid(any) bool                           { return false }

func buildPlan(t *testing.T, name string, factory *constFactory) *pipeline.ExecutionPlan {
	t.Helper()
	p := pipeline.New(name)
	h, err := p.AddSource(factory, "only", true, "out.json")
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	plan, err := p.Build(map[pipeline.StepHandle]map[string]any{h: {}}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return plan
}

func TestRunnerExecutesPlanAndReturnsResults(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{CheckpointRoot: dir, OutputRoot: dir})

	plan := buildPlan(t, "runner-exec", &constFactory{value: "hello"})
	results, err := r.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	for _, v := range results {
		if v != "hello" {
			t.Fatalf("expected hello, got %v", v)
		}
	}
}

func TestRunnerJournalsRunLifecycleInRegistry(t *testing.T) {
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	r := New(Config{CheckpointRoot: dir, OutputRoot: dir, Registry: reg})

	plan := buildPlan(t, "runner-journaled", &constFactory{value: "ok"})
	if _, err := r.Run(context.Background(), plan); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := reg.Runs("runner-journaled")
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(runs))
	}
	if runs[0].CompletedAt.IsZero() {
		t.Fatalf("expected CompletedAt to be set once the run finished")
	}
	if runs[0].Err != "" {
		t.Fatalf("expected no error recorded, got %q", runs[0].Err)
	}
}

func TestRunnerJournalsFailureInRegistry(t *testing.T) {
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	r := New(Config{CheckpointRoot: dir, OutputRoot: dir, Registry: reg})

	wantErr := errors.New("boom")
	plan := buildPlan(t, "runner-failed", &constFactory{err: wantErr})
	_, err := r.Run(context.Background(), plan)
	if err == nil {
		t.Fatalf("expected the step's error to propagate")
	}

	runs, rerr := reg.Runs("runner-failed")
	if rerr != nil {
		t.Fatalf("Runs: %v", rerr)
	}
	if len(runs) != 1 || runs[0].Err == "" {
		t.Fatalf("expected the failure to be journaled, got %+v", runs)
	}
}
