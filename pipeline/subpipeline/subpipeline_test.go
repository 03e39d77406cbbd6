package subpipeline

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/gml4tdm/checkpointed-go/pipeline"
	"github.com/gml4tdm/checkpointed-go/pipeline/executor"
	"github.com/gml4tdm/checkpointed-go/pipeline/store"
)

// sourceFactory feeds a fixed value into the outer pipeline, with no
// dependencies of its own.
type sourceFactory struct {
	typeID string
	value  any
}

func (f *sourceFactory) TypeID() string                                    { return f.typeID }
func (f *sourceFactory) InputLabels() []string                             { return nil }
func (f *sourceFactory) AcceptsWildcard() bool                             { return false }
func (f *sourceFactory) DataFormat() string                                { return "json" }
func (f *sourceFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }
func (f *sourceFactory) NewInstance(map[string]any, *slog.Logger) (pipeline.StepInstance, error) {
	return &sourceInstance{value: f.value}, nil
}

type sourceInstance struct{ value any }

func (i *sourceInstance) Execute(context.Context, map[string]any) (any, error) { return i.value, nil }
func (i *sourceInstance) CheckpointMetadata() (any, error)                     { return nil, nil }
func (i *sourceInstance) CheckpointIsValid(any) bool                          { return false }

// upperFactory is the inner template's single node: it reads PreloadLabel
// and upper-cases it. It must not declare PreloadLabel in InputLabels,
// since the group value arrives out-of-band rather than over an edge.
type upperFactory struct{}

func (upperFactory) TypeID() string                                    { return "upper" }
func (upperFactory) InputLabels() []string                             { return nil }
func (upperFactory) AcceptsWildcard() bool                             { return false }
func (upperFactory) DataFormat() string                                { return "json" }
func (upperFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }
func (upperFactory) NewInstance(map[string]any, *slog.Logger) (pipeline.StepInstance, error) {
	return &upperInstance{}, nil
}

type upperInstance struct{}

func (upperInstance) Execute(_ context.Context, inputs map[string]any) (any, error) {
	s, _ := inputs[PreloadLabel].(string)
	return s + "-processed", nil
}
func (upperInstance) CheckpointMetadata() (any, error) { return nil, nil }
func (upperInstance) CheckpointIsValid(any) bool       { return false }

func buildInnerTemplate() InnerSpec {
	tmpl := pipeline.New("template")
	start, _ := tmpl.AddSource(upperFactory{}, "proc", true, "result.json")
	return InnerSpec{Template: tmpl, StartHandle: start}
}

func TestScatterGatherFansOutAndFoldsBack(t *testing.T) {
	factory := &Factory{
		Type:     "scatter-gather",
		Labels:   []string{"items"},
		Wildcard: false,
		Scatter: func(inputs map[string]any) (map[string]any, error) {
			items, ok := inputs["items"].([]any)
			if !ok {
				return nil, fmt.Errorf("expected []any, got %T", inputs["items"])
			}
			groups := make(map[string]any, len(items))
			for _, item := range items {
				s := item.(string)
				groups[s] = s
			}
			return groups, nil
		},
		InnerPipeline: func(string) (InnerSpec, error) {
			return buildInnerTemplate(), nil
		},
		Gather: func(outputName string, perGroup map[string]any) (any, error) {
			out := make(map[string]any, len(perGroup))
			for k, v := range perGroup {
				out[k] = v
			}
			return out, nil
		},
	}

	outer := pipeline.New("outer")
	src, _ := outer.AddSource(&sourceFactory{typeID: "src", value: []any{"alpha", "beta"}}, "src", false, "")
	sg, _ := outer.AddSink(factory, "sg.json", "sg")
	if err := outer.Connect(src, sg, "items"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	plan, err := outer.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	checkpointRoot := t.TempDir()
	outputRoot := t.TempDir()
	graph := plan.CheckpointGraph
	s, err := store.Open(checkpointRoot, outputRoot, "outer", graph, nil, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	exec := executor.New(plan, s)
	results, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	gathered, ok := results[sg].(map[string]any)
	if !ok {
		t.Fatalf("expected a map result, got %T: %v", results[sg], results[sg])
	}
	perGroup, ok := gathered["result.json"].(map[string]any)
	if !ok {
		t.Fatalf("expected gathered[%q] to be a map, got %T", "result.json", gathered["result.json"])
	}
	if perGroup["alpha"] != "alpha-processed" || perGroup["beta"] != "beta-processed" {
		t.Fatalf("unexpected gathered values: %v", perGroup)
	}
}

func TestScatterGatherReusesInnerCheckpointAcrossRuns(t *testing.T) {
	calls := 0
	innerFactory := &countingUpperFactory{calls: &calls}

	factory := &Factory{
		Type:     "scatter-gather",
		Labels:   []string{"items"},
		Scatter: func(inputs map[string]any) (map[string]any, error) {
			return map[string]any{"only": "v"}, nil
		},
		InnerPipeline: func(string) (InnerSpec, error) {
			tmpl := pipeline.New("template")
			start, _ := tmpl.AddSource(innerFactory, "proc", true, "result.json")
			return InnerSpec{Template: tmpl, StartHandle: start}, nil
		},
		Gather: func(outputName string, perGroup map[string]any) (any, error) {
			return perGroup, nil
		},
	}

	buildAndRun := func(checkpointRoot, outputRoot string) map[string]any {
		t.Helper()
		outer := pipeline.New("outer")
		src, _ := outer.AddSource(&sourceFactory{typeID: "src", value: []any{"x"}}, "src", false, "")
		sg, _ := outer.AddSink(factory, "sg.json", "sg")
		if err := outer.Connect(src, sg, "items"); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		plan, err := outer.Build(nil, nil)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		s, err := store.Open(checkpointRoot, outputRoot, "outer", plan.CheckpointGraph, nil, nil)
		if err != nil {
			t.Fatalf("store.Open: %v", err)
		}
		results, err := executor.New(plan, s).Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return results[sg].(map[string]any)
	}

	checkpointRoot := t.TempDir()
	outputRoot := t.TempDir()

	buildAndRun(checkpointRoot, outputRoot)
	if calls != 1 {
		t.Fatalf("expected the inner step to execute once on the first run, got %d", calls)
	}

	buildAndRun(checkpointRoot, outputRoot)
	if calls != 1 {
		t.Fatalf("expected the inner step's checkpoint to be reused on the second run, got %d calls", calls)
	}
}

type countingUpperFactory struct {
	calls *int
}

func (f *countingUpperFactory) TypeID() string                                    { return "counting-upper" }
func (f *countingUpperFactory) InputLabels() []string                             { return nil }
func (f *countingUpperFactory) AcceptsWildcard() bool                             { return false }
func (f *countingUpperFactory) DataFormat() string                                { return "json" }
func (f *countingUpperFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }
func (f *countingUpperFactory) NewInstance(map[string]any, *slog.Logger) (pipeline.StepInstance, error) {
	return &countingUpperInstance{calls: f.calls}, nil
}

type countingUpperInstance struct{ calls *int }

func (i *countingUpperInstance) Execute(_ context.Context, inputs map[string]any) (any, error) {
	*i.calls++
	s, _ := inputs[PreloadLabel].(string)
	return s + "-processed", nil
}
func (i *countingUpperInstance) CheckpointMetadata() (any, error) { return map[string]any{"v": 1.0}, nil }
func (i *countingUpperInstance) CheckpointIsValid(any) bool       { return true }
