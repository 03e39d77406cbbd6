package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

func buildAndSaveGraph(t *testing.T, checkpointRoot, pipelineName string) {
	t.Helper()
	p := pipeline.New(pipelineName)
	h, err := p.AddSource(&noopFactory{}, "only", true, "out.json")
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	plan, err := p.Build(map[pipeline.StepHandle]map[string]any{h: {}}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := plan.CheckpointGraph.Save(mustMetadataDir(t, checkpointRoot, pipelineName)); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

type noopFactory struct{}

func (f *noopFactory) TypeID() string                                    { return "ctl-test.noop" }
func (f *noopFactory) InputLabels() []string                             { return nil }
func (f *noopFactory) AcceptsWildcard() bool                             { return true }
func (f *noopFactory) DataFormat() string                                { return "json" }
func (f *noopFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }
func (f *noopFactory) NewInstance(map[string]any, *slog.Logger) (pipeline.StepInstance, error) {
	return nil, nil
}

func mustMetadataDir(t *testing.T, checkpointRoot, pipelineName string) string {
	t.Helper()
	dir := filepath.Join(checkpointRoot, pipelineName, "metadata")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	return dir
}

func TestInspectPrintsTableForExistingGraph(t *testing.T) {
	root := t.TempDir()
	buildAndSaveGraph(t, root, "inspect-test")

	logger := zerolog.Nop()
	cmd := newInspectCmd(&logger)
	cmd.SetArgs([]string{root, "inspect-test"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "only") {
		t.Fatalf("expected output to mention the step name, got: %s", out.String())
	}
}

func TestInspectReportsMissingGraph(t *testing.T) {
	root := t.TempDir()

	logger := zerolog.Nop()
	cmd := newInspectCmd(&logger)
	cmd.SetArgs([]string{root, "never-ran"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "no checkpoint graph found") {
		t.Fatalf("expected a no-graph message, got: %s", out.String())
	}
}
