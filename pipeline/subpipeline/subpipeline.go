// Package subpipeline implements the scatter/gather step kind: a step
// whose execution clones a template inner pipeline once per scatter group,
// runs it against a nested sub-store, and folds per-group results back.
package subpipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gml4tdm/checkpointed-go/pipeline"
	"github.com/gml4tdm/checkpointed-go/pipeline/executor"
	"github.com/gml4tdm/checkpointed-go/pipeline/store"
)

// PreloadLabel is the well-known input label each group's clone of the
// designated start handle receives its group value under.
const PreloadLabel = "scatter.group-value"

// ScatterFunc fans a sub-pipeline step's inputs into named groups.
type ScatterFunc func(inputs map[string]any) (map[string]any, error)

// InnerSpec is what InnerPipelineFunc returns: the template pipeline to
// clone for one group, the handle within it that receives the group's
// value, and the per-handle configuration to build it with.
//
// StartHandle's factory must not list PreloadLabel among its InputLabels:
// the group value arrives out-of-band (there is no edge into StartHandle
// carrying it), so declaring it as a required label would make every
// clone fail the pipeline's input-completeness check.
type InnerSpec struct {
	Template     *pipeline.Pipeline
	StartHandle  pipeline.StepHandle
	ConfigByStep map[pipeline.StepHandle]map[string]any
}

// InnerPipelineFunc returns the template pipeline to clone for groupKey.
type InnerPipelineFunc func(groupKey string) (InnerSpec, error)

// GatherFunc folds one output node's per-group results back into a single
// value, invoked once per distinct output filename in the template;
// outputName is that (template, un-suffixed) filename.
type GatherFunc func(outputName string, perGroup map[string]any) (any, error)

// Factory is a pipeline.StepFactory for a scatter/gather step.
type Factory struct {
	Type          string
	Labels        []string
	Wildcard      bool
	Scatter       ScatterFunc
	InnerPipeline InnerPipelineFunc
	Gather        GatherFunc
}

func (f *Factory) TypeID() string        { return f.Type }
func (f *Factory) InputLabels() []string { return f.Labels }
func (f *Factory) AcceptsWildcard() bool  { return f.Wildcard }
func (f *Factory) DataFormat() string     { return "json" }

func (f *Factory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }

func (f *Factory) NewInstance(config map[string]any, logger *slog.Logger) (pipeline.StepInstance, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &instance{factory: f, config: config, logger: logger}, nil
}

type instance struct {
	factory *Factory
	config  map[string]any
	logger  *slog.Logger
	execCtx *pipeline.ExecutionContext
}

func (i *instance) SetExecutionContext(ctx *pipeline.ExecutionContext) { i.execCtx = ctx }

// CheckpointMetadata returns nil: a scatter/gather step is never itself
// cacheable, so its stored metadata file carries no payload.
func (i *instance) CheckpointMetadata() (any, error) { return nil, nil }

// CheckpointIsValid always reports false: the step's own checkpoint is
// dynamic (its result depends on runtime scatter groups), but the inner
// pipeline's checkpoints are separately cached inside the sub-store.
func (i *instance) CheckpointIsValid(any) bool { return false }

func (i *instance) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	if i.execCtx == nil {
		return nil, fmt.Errorf("subpipeline: execution context was not set before Execute")
	}
	handle, ok := i.execCtx.Handle()
	if !ok {
		return nil, fmt.Errorf("subpipeline: execution context has no step handle")
	}
	rawStorage, ok := i.execCtx.StorageManager()
	if !ok {
		return nil, fmt.Errorf("subpipeline: execution context has no storage manager")
	}
	parentStore, ok := rawStorage.(*store.ResultStore)
	if !ok {
		return nil, fmt.Errorf("subpipeline: storage manager has unexpected type %T", rawStorage)
	}

	groups, err := i.factory.Scatter(inputs)
	if err != nil {
		return nil, fmt.Errorf("subpipeline: scatter: %w", err)
	}

	concrete := pipeline.New(fmt.Sprintf("sub-%s", handle))
	configByStep := make(map[pipeline.StepHandle]map[string]any)
	preloaded := make(map[pipeline.StepHandle]map[string]any)
	// outputGroupValues maps an output node's template output filename to
	// its per-group clone handles, keyed by the group key that produced them.
	outputGroupValues := make(map[string]map[string]pipeline.StepHandle)

	for groupKey, groupValue := range groups {
		spec, err := i.factory.InnerPipeline(groupKey)
		if err != nil {
			return nil, fmt.Errorf("subpipeline: get inner pipeline for group %q: %w", groupKey, err)
		}

		clone := make(map[pipeline.StepHandle]pipeline.StepHandle, len(spec.Template.Nodes()))
		for _, node := range spec.Template.Nodes() {
			name := node.Name
			if name != "" {
				name = fmt.Sprintf("%s-%s", name, groupKey)
			}
			filename := node.OutputFilename
			if filename != "" {
				filename = fmt.Sprintf("%s__%s", filename, groupKey)
			}

			var cloneHandle pipeline.StepHandle
			switch {
			case node.IsInput:
				cloneHandle, err = concrete.AddSource(node.Factory, name, node.IsOutput, filename)
			case node.IsOutput:
				cloneHandle, err = concrete.AddSink(node.Factory, filename, name)
			default:
				cloneHandle = concrete.AddStep(node.Factory, name)
			}
			if err != nil {
				return nil, fmt.Errorf("subpipeline: clone node %s for group %q: %w", node.Handle, groupKey, err)
			}
			clone[node.Handle] = cloneHandle

			if cfg, ok := spec.ConfigByStep[node.Handle]; ok {
				configByStep[cloneHandle] = cfg
			}
			if node.Handle == spec.StartHandle {
				preloaded[cloneHandle] = map[string]any{PreloadLabel: groupValue}
			}
			if node.IsOutput {
				if outputGroupValues[node.OutputFilename] == nil {
					outputGroupValues[node.OutputFilename] = make(map[string]pipeline.StepHandle)
				}
				outputGroupValues[node.OutputFilename][groupKey] = cloneHandle
			}
		}

		for _, edge := range spec.Template.Edges() {
			if err := concrete.Connect(clone[edge.Source], clone[edge.Target], edge.Label); err != nil {
				return nil, fmt.Errorf("subpipeline: clone edge for group %q: %w", groupKey, err)
			}
		}
	}

	plan, err := concrete.Build(configByStep, i.logger)
	if err != nil {
		return nil, fmt.Errorf("subpipeline: build inner pipeline: %w", err)
	}
	// A sub-store has no output directory, so the clones of the template's
	// output nodes are not published; their results are collected from the
	// inner run below and returned through Gather.
	for k := range plan.Nodes {
		plan.Nodes[k].IsOutput = false
	}

	subStore, err := parentStore.SubStorage(handle, plan.CheckpointGraph, concrete.Name())
	if err != nil {
		return nil, fmt.Errorf("subpipeline: obtain sub-store: %w", err)
	}

	innerExecutor := executor.New(plan, subStore, executor.WithPreloadedInputs(preloaded))
	results, err := innerExecutor.Run(ctx)
	if err != nil {
		return nil, &pipeline.SubPipelineError{ParentHandle: handle, Cause: err}
	}

	gathered := make(map[string]any, len(outputGroupValues))
	for outputName, byGroup := range outputGroupValues {
		perGroup := make(map[string]any, len(byGroup))
		for groupKey, clone := range byGroup {
			perGroup[groupKey] = results[clone]
		}
		value, err := i.factory.Gather(outputName, perGroup)
		if err != nil {
			return nil, fmt.Errorf("subpipeline: gather %q: %w", outputName, err)
		}
		gathered[outputName] = value
	}
	return gathered, nil
}
