package pipeline

import "log/slog"

// ExecutionPlan is the compiled, immutable artifact produced by
// Pipeline.Build. It carries everything a TaskExecutor needs to run the
// pipeline and everything the checkpoint store needs to match this run
// against a previous one, but it does not itself know how to run — that
// orchestration lives in pipeline/runner, which can import both this
// package and the store/executor packages without creating an import
// cycle.
type ExecutionPlan struct {
	Name            string
	Instructions    []Instruction
	Nodes           []PipelineNode
	ConfigByStep    map[StepHandle]map[string]any
	CheckpointGraph *CheckpointGraph
	Logger          *slog.Logger
}

// NodeByHandle returns the node with the given handle, if present.
func (p *ExecutionPlan) NodeByHandle(h StepHandle) (PipelineNode, bool) {
	for _, n := range p.Nodes {
		if n.Handle == h {
			return n, true
		}
	}
	return PipelineNode{}, false
}

// InputNodes returns every node marked as a pipeline input.
func (p *ExecutionPlan) InputNodes() []PipelineNode {
	var out []PipelineNode
	for _, n := range p.Nodes {
		if n.IsInput {
			out = append(out, n)
		}
	}
	return out
}

// OutputNodes returns every node marked as a pipeline output.
func (p *ExecutionPlan) OutputNodes() []PipelineNode {
	var out []PipelineNode
	for _, n := range p.Nodes {
		if n.IsOutput {
			out = append(out, n)
		}
	}
	return out
}
