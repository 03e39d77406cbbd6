// Package runner is the orchestration entry point that glues a compiled
// pipeline.ExecutionPlan to an on-disk store and a task executor. It is a
// thin façade: every behavior it exercises (structural matching, atomic
// remap, concurrent scheduling) lives in pipeline/store and
// pipeline/executor, which this package is free to import since it sits
// above both in the dependency graph.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gml4tdm/checkpointed-go/pipeline"
	"github.com/gml4tdm/checkpointed-go/pipeline/executor"
	"github.com/gml4tdm/checkpointed-go/pipeline/registry"
	"github.com/gml4tdm/checkpointed-go/pipeline/store"
)

// Config configures where a Runner persists checkpoints and outputs, and
// which optional observability hooks it wires into the executor.
type Config struct {
	// CheckpointRoot is the directory checkpoint data and metadata live
	// under, one subdirectory per pipeline name.
	CheckpointRoot string

	// OutputRoot is the directory output-marked steps publish their
	// results under. May be empty only for a pipeline with no output
	// nodes.
	OutputRoot string

	// Registry is an optional run journal. A nil Registry disables run
	// history entirely. The pipeline's own checkpoint semantics are
	// unaffected either way, except in crash recovery, where a pending
	// remap the Registry confirms is completed instead of discarded.
	Registry registry.Registry

	Metrics *executor.Metrics
	Tracer  executor.Tracer
	Logger  *slog.Logger
}

// Runner executes compiled plans against a Config's storage and
// observability settings.
type Runner struct {
	cfg Config
}

// New returns a Runner bound to cfg.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg}
}

// Run opens the checkpoint store for plan.Name, performs the structural
// remap against any previous run, executes every instruction in plan, and
// returns the per-step results. If a Registry is configured, the run's
// start, end, and outcome are journaled around the same operation.
func (r *Runner) Run(ctx context.Context, plan *pipeline.ExecutionPlan) (map[pipeline.StepHandle]any, error) {
	var runID string
	if r.cfg.Registry != nil {
		var err error
		runID, err = r.cfg.Registry.RecordRunStart(plan.Name, timeNow())
		if err != nil {
			return nil, fmt.Errorf("runner: record run start: %w", err)
		}
	}

	results, runErr := r.run(ctx, plan)

	if r.cfg.Registry != nil {
		if err := r.cfg.Registry.RecordRunEnd(runID, timeNow(), runErr); err != nil {
			r.cfg.Logger.Error("failed to record run end", "pipeline", plan.Name, "error", err)
		}
	}
	return results, runErr
}

func (r *Runner) run(ctx context.Context, plan *pipeline.ExecutionPlan) (map[pipeline.StepHandle]any, error) {
	s, err := store.Open(r.cfg.CheckpointRoot, r.cfg.OutputRoot, plan.Name, plan.CheckpointGraph, r.cfg.Logger, r.cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("runner: open store: %w", err)
	}

	var opts []executor.Option
	if r.cfg.Metrics != nil {
		opts = append(opts, executor.WithMetrics(r.cfg.Metrics))
	}
	if r.cfg.Tracer != nil {
		opts = append(opts, executor.WithTracer(r.cfg.Tracer))
	}

	exec := executor.New(plan, s, opts...)
	return exec.Run(ctx)
}

// timeNow supplies the run start and end timestamps recorded in the
// registry.
func timeNow() time.Time { return time.Now() }
