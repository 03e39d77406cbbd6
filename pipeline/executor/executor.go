// Package executor runs a compiled pipeline.ExecutionPlan: a single
// scheduler goroutine owns the pending/blocked/active/done bookkeeping,
// while each dispatched task runs concurrently in its own goroutine so that
// step I/O (checkpoint load/store, the step body itself) overlaps.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"

	"github.com/gml4tdm/checkpointed-go/pipeline"
	"github.com/gml4tdm/checkpointed-go/pipeline/store"
)

// Storage is the subset of *store.ResultStore the executor depends on,
// kept as an interface so tests can substitute a fake. SubStorage returns
// the concrete type directly since sub-pipeline steps need the full
// ResultStore API, not just this narrow slice.
type Storage interface {
	Store(handle pipeline.StepHandle, factory pipeline.StepFactory, value any, metadata any, outputFilename string) error
	Retrieve(handle pipeline.StepHandle, factory pipeline.StepFactory) (any, error)
	RetrieveMetadata(handle pipeline.StepHandle) (any, error)
	HaveCheckpoint(handle pipeline.StepHandle) bool
	CheckpointPath(handle pipeline.StepHandle) string
	SubStorage(parent pipeline.StepHandle, innerGraph *pipeline.CheckpointGraph, pipelineName string) (*store.ResultStore, error)
}

var _ Storage = (*store.ResultStore)(nil)

// taskResult is the outcome of one task, delivered over the completion
// channel the main loop selects on.
type taskResult struct {
	handle pipeline.StepHandle
	value  any
	err    error
}

// TaskExecutor runs one ExecutionPlan's instructions to completion.
type TaskExecutor struct {
	plan    *pipeline.ExecutionPlan
	storage Storage
	logger  *slog.Logger
	metrics *Metrics
	tracer  Tracer

	preloaded map[pipeline.StepHandle]map[string]any
}

// Option configures a TaskExecutor.
type Option func(*TaskExecutor)

// WithMetrics attaches a Prometheus metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(e *TaskExecutor) { e.metrics = m }
}

// WithTracer attaches an OpenTelemetry tracer.
func WithTracer(t Tracer) Option {
	return func(e *TaskExecutor) { e.tracer = t }
}

// WithPreloadedInputs seeds per-step inputs that must not be retrieved from
// storage (used by the sub-pipeline engine to hand a scatter group its
// slice of the original input directly).
func WithPreloadedInputs(inputs map[pipeline.StepHandle]map[string]any) Option {
	return func(e *TaskExecutor) { e.preloaded = inputs }
}

// New constructs a TaskExecutor for plan, backed by storage.
func New(plan *pipeline.ExecutionPlan, storage Storage, opts ...Option) *TaskExecutor {
	logger := plan.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &TaskExecutor{
		plan:      plan,
		storage:   storage,
		logger:    logger,
		preloaded: make(map[pipeline.StepHandle]map[string]any),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every instruction in plan to completion, or returns the
// first task failure once all in-flight tasks have drained.
func (e *TaskExecutor) Run(ctx context.Context) (map[pipeline.StepHandle]any, error) {
	var (
		pending []pipeline.Instruction // Start instructions not yet dispatched
		blocked []pipeline.Instruction // Sync instructions awaiting their required set
		done    = make(map[pipeline.StepHandle]bool)
		results = make(map[pipeline.StepHandle]any)
	)

	for _, instr := range e.plan.Instructions {
		switch instr.Kind {
		case pipeline.Start:
			pending = append(pending, instr)
		case pipeline.Sync:
			blocked = append(blocked, instr)
		}
	}

	completions := make(chan taskResult)
	active := 0
	var firstErr error
	aborting := false

	unblock := func() {
		remaining := blocked[:0]
		for _, sync := range blocked {
			if subsetOfDone(sync.Requires, done) {
				continue
			}
			remaining = append(remaining, sync)
		}
		blocked = remaining
	}

	dispatchReady := func() []pipeline.Instruction {
		var ready []pipeline.Instruction
		var stillPending []pipeline.Instruction
		for _, instr := range pending {
			if subsetOfDone(instr.Requires, done) {
				ready = append(ready, instr)
			} else {
				stillPending = append(stillPending, instr)
			}
		}
		pending = stillPending
		return ready
	}

	// An instruction with an empty Requires set and not yet satisfied by a
	// Sync barrier above is immediately ready; compile() only emits a Sync
	// ahead of a Start group when that group's Requires is non-empty, so
	// zero-dependency Starts are ready from the first iteration.
	for len(pending) > 0 || len(blocked) > 0 || active > 0 {
		unblock()

		if !aborting {
			for _, instr := range dispatchReady() {
				active++
				e.dispatch(ctx, instr, completions)
			}
		}

		if active == 0 {
			if aborting {
				// A failure already stopped further dispatch; nothing left
				// to drain.
				break
			}
			if len(pending) == 0 && len(blocked) > 0 {
				// Nothing can ever unblock the remaining Syncs: their
				// required handles will never complete.
				return results, fmt.Errorf("%w: scheduler deadlock with %d blocked sync(s)", pipeline.ErrStorageError, len(blocked))
			}
			if len(pending) == 0 {
				break
			}
			continue
		}

		res := <-completions
		active--
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			aborting = true
			e.logger.Error("step failed, aborting further dispatch", "step", res.handle, "error", res.err)
			continue
		}
		done[res.handle] = true
		results[res.handle] = res.value
		e.logger.Info("step completed", "step", res.handle)
	}

	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}

func subsetOfDone(required []pipeline.StepHandle, done map[pipeline.StepHandle]bool) bool {
	for _, h := range required {
		if !done[h] {
			return false
		}
	}
	return true
}

func (e *TaskExecutor) dispatch(ctx context.Context, instr pipeline.Instruction, completions chan<- taskResult) {
	go func() {
		value, err := e.runTask(ctx, instr)
		completions <- taskResult{handle: instr.Step, value: value, err: err}
	}()
}

func (e *TaskExecutor) runTask(ctx context.Context, instr pipeline.Instruction) (value any, err error) {
	node, ok := e.plan.NodeByHandle(instr.Step)
	if !ok {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownStep, instr.Step)
	}

	if e.metrics != nil {
		e.metrics.TaskStarted(e.plan.Name, instr.Step)
		defer e.metrics.TaskFinished(e.plan.Name, instr.Step)
	}
	var span Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartSpan(ctx, e.plan.Name, instr.Step)
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	inputs, labelFormats, err := e.resolveInputs(instr)
	if err != nil {
		return nil, &pipeline.StepFailedError{Handle: instr.Step, Cause: err}
	}

	config := e.plan.ConfigByStep[instr.Step]
	step, err := node.Factory.NewInstance(config, e.logger)
	if err != nil {
		return nil, &pipeline.StepFailedError{Handle: instr.Step, Cause: err}
	}
	if receiver, ok := step.(pipeline.FormatReceiver); ok {
		receiver.SetInputStorageFormats(labelFormats)
	}
	if receiver, ok := step.(pipeline.ContextReceiver); ok {
		execCtx := pipeline.NewExecutionContext()
		execCtx.Set(pipeline.CtxStepHandle, instr.Step)
		execCtx.Set(pipeline.CtxCheckpointDirectory, e.storage.CheckpointPath(instr.Step))
		execCtx.Set(pipeline.CtxStorageManager, e.storage)
		receiver.SetExecutionContext(execCtx)
	}

	if e.storage.HaveCheckpoint(instr.Step) {
		if metadata, err := e.storage.RetrieveMetadata(instr.Step); err == nil && step.CheckpointIsValid(metadata) {
			value, err := e.storage.Retrieve(instr.Step, node.Factory)
			if err != nil {
				return nil, &pipeline.StepFailedError{Handle: instr.Step, Cause: err}
			}
			e.logger.Debug("checkpoint reused", "step", instr.Step)
			if e.metrics != nil {
				e.metrics.TaskCacheHit(e.plan.Name)
			}
			return value, nil
		}
	}

	value, err = step.Execute(ctx, inputs)
	if err != nil {
		if e.metrics != nil {
			e.metrics.TaskFailed(e.plan.Name)
		}
		return nil, &pipeline.StepFailedError{Handle: instr.Step, Cause: err}
	}

	metadata, err := step.CheckpointMetadata()
	if err != nil {
		return nil, &pipeline.StepFailedError{Handle: instr.Step, Cause: err}
	}

	outputFilename := ""
	if node.IsOutput {
		outputFilename = node.OutputFilename
	}
	if err := e.storage.Store(instr.Step, node.Factory, value, metadata, outputFilename); err != nil {
		return nil, &pipeline.StepFailedError{Handle: instr.Step, Cause: err}
	}
	if e.metrics != nil {
		e.metrics.TaskExecuted(e.plan.Name)
	}
	return value, nil
}

func (e *TaskExecutor) resolveInputs(instr pipeline.Instruction) (map[string]any, map[string]string, error) {
	inputs := make(map[string]any, len(instr.Inputs))
	labelFormats := make(map[string]string, len(instr.Inputs))
	preloaded := e.preloaded[instr.Step]

	for _, ref := range instr.Inputs {
		if preloaded != nil {
			if v, ok := preloaded[ref.Label]; ok {
				inputs[ref.Label] = v
				continue
			}
		}
		upstream, ok := e.plan.NodeByHandle(ref.Upstream)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownStep, ref.Upstream)
		}
		value, err := e.storage.Retrieve(ref.Upstream, upstream.Factory)
		if err != nil {
			return nil, nil, err
		}
		inputs[ref.Label] = value
		labelFormats[ref.Label] = upstream.Factory.DataFormat()
	}

	// Preloaded labels with no corresponding edge (e.g. a scatter/gather
	// group's start handle, which receives its value out-of-band rather
	// than from an upstream step) are not covered by instr.Inputs at all;
	// merge whatever is left so they still reach the step.
	for label, v := range preloaded {
		if _, ok := inputs[label]; !ok {
			inputs[label] = v
		}
	}
	return inputs, labelFormats, nil
}
