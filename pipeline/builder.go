package pipeline

import (
	"fmt"
	"log/slog"
)

// edgeKey identifies an edge by its endpoints, independent of label, for
// duplicate-edge detection.
type edgeKey struct {
	source StepHandle
	target StepHandle
}

// Pipeline incrementally builds a typed DAG of steps. Handles and factories
// recorded on a Pipeline exist only for the duration of the build; once
// Build succeeds, the resulting ExecutionPlan is the artifact callers keep.
type Pipeline struct {
	name string

	order    []StepHandle
	factory  map[StepHandle]StepFactory
	nodeName map[StepHandle]string
	isInput  map[StepHandle]bool
	isOutput map[StepHandle]bool
	outFile  map[StepHandle]string

	edges     []PipelineEdge
	edgeLabel map[edgeKey]string
	outgoing  map[StepHandle][]StepHandle
	incoming  map[StepHandle][]StepHandle
}

// New creates an empty pipeline under the given name. The name becomes the
// directory component under both the checkpoint root and the output root
// once a built plan is executed.
func New(name string) *Pipeline {
	return &Pipeline{
		name:      name,
		factory:   make(map[StepHandle]StepFactory),
		nodeName:  make(map[StepHandle]string),
		isInput:   make(map[StepHandle]bool),
		isOutput:  make(map[StepHandle]bool),
		outFile:   make(map[StepHandle]string),
		edgeLabel: make(map[edgeKey]string),
		outgoing:  make(map[StepHandle][]StepHandle),
		incoming:  make(map[StepHandle][]StepHandle),
	}
}

// Name returns the pipeline's name.
func (p *Pipeline) Name() string { return p.name }

// AddStep allocates a fresh handle for factory. name is optional and only
// used for logging/debugging and sub-pipeline clone naming.
func (p *Pipeline) AddStep(factory StepFactory, name string) StepHandle {
	handle := StepHandle(len(p.order))
	p.order = append(p.order, handle)
	p.factory[handle] = factory
	p.nodeName[handle] = name
	return handle
}

// AddSource allocates a handle and marks it as an input (source) node. If
// isSink is true the node is also marked as an output, and filename must be
// non-empty.
func (p *Pipeline) AddSource(factory StepFactory, name string, isSink bool, filename string) (StepHandle, error) {
	handle := p.AddStep(factory, name)
	p.isInput[handle] = true
	if isSink {
		if filename == "" {
			return InvalidHandle, fmt.Errorf("pipeline: filename is required when is_sink is true (step %s)", handle)
		}
		p.isOutput[handle] = true
		p.outFile[handle] = filename
	}
	return handle, nil
}

// AddSink allocates a handle and marks it as an output node, publishing its
// result under filename.
func (p *Pipeline) AddSink(factory StepFactory, filename string, name string) (StepHandle, error) {
	if filename == "" {
		return InvalidHandle, fmt.Errorf("pipeline: filename is required for a sink")
	}
	handle := p.AddStep(factory, name)
	p.isOutput[handle] = true
	p.outFile[handle] = filename
	return handle, nil
}

// Connect records a labeled edge from source to target.
func (p *Pipeline) Connect(source, target StepHandle, label string) error {
	sourceFactory, ok := p.factory[source]
	if !ok {
		return withHandle(ErrUnknownStep, source)
	}
	targetFactory, ok := p.factory[target]
	if !ok {
		return withHandle(ErrUnknownStep, target)
	}
	if source == target {
		return withHandle(ErrSelfLoop, source)
	}
	if p.isInput[target] {
		return withHandle(ErrInputAsSink, target)
	}
	key := edgeKey{source, target}
	if _, exists := p.edgeLabel[key]; exists {
		return withHandle(ErrDuplicateEdge, target)
	}
	if !labelAccepted(targetFactory, label) || !targetFactory.AcceptsUpstream(sourceFactory, label) {
		return withHandleLabel(ErrUnsupportedLabel, target, label)
	}

	p.edgeLabel[key] = label
	p.edges = append(p.edges, PipelineEdge{Source: source, Target: target, Label: label})
	p.outgoing[source] = append(p.outgoing[source], target)
	p.incoming[target] = append(p.incoming[target], source)
	return nil
}

func labelAccepted(factory StepFactory, label string) bool {
	if factory.AcceptsWildcard() {
		return true
	}
	for _, l := range factory.InputLabels() {
		if l == label {
			return true
		}
	}
	return false
}

// Nodes returns every node currently in the pipeline, in insertion order.
func (p *Pipeline) Nodes() []PipelineNode {
	nodes := make([]PipelineNode, 0, len(p.order))
	for _, h := range p.order {
		nodes = append(nodes, PipelineNode{
			Handle:         h,
			Name:           p.nodeName[h],
			Factory:        p.factory[h],
			IsInput:        p.isInput[h],
			IsOutput:       p.isOutput[h],
			OutputFilename: p.outFile[h],
		})
	}
	return nodes
}

// Edges returns every edge currently in the pipeline, in insertion order.
func (p *Pipeline) Edges() []PipelineEdge {
	edges := make([]PipelineEdge, len(p.edges))
	copy(edges, p.edges)
	return edges
}

// Build validates the pipeline and compiles it into an ExecutionPlan.
// Validation runs in this fixed order, short-circuiting on the first
// failure: (i) per-node input completeness, (ii) source/sink structural
// constraint, (iii) reachability from inputs, (iv) acyclicity.
func (p *Pipeline) Build(configByStep map[StepHandle]map[string]any, logger *slog.Logger) (*ExecutionPlan, error) {
	if configByStep == nil {
		configByStep = make(map[StepHandle]map[string]any)
	}
	if err := p.checkInputCompleteness(); err != nil {
		return nil, err
	}
	if err := p.checkSourceSinkConstraints(); err != nil {
		return nil, err
	}
	if err := p.checkReachability(); err != nil {
		return nil, err
	}
	if err := p.checkAcyclic(); err != nil {
		return nil, err
	}

	instructions := compile(p)
	graph := newCheckpointGraph(p, configByStep)

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &ExecutionPlan{
		Name:          p.name,
		Instructions:  instructions,
		Nodes:         p.Nodes(),
		ConfigByStep:  configByStep,
		CheckpointGraph: graph,
		Logger:        logger,
	}, nil
}

func (p *Pipeline) checkInputCompleteness() error {
	for _, h := range p.order {
		factory := p.factory[h]
		required := make(map[string]bool)
		for _, l := range factory.InputLabels() {
			required[l] = true
		}
		for _, source := range p.incoming[h] {
			label := p.edgeLabel[edgeKey{source, h}]
			delete(required, label)
		}
		for label := range required {
			return withHandleLabel(ErrMissingConnection, h, label)
		}
	}
	return nil
}

func (p *Pipeline) isSource(h StepHandle) bool { return len(p.outgoing[h]) > 0 }
func (p *Pipeline) isSink(h StepHandle) bool   { return len(p.incoming[h]) > 0 }

func (p *Pipeline) checkSourceSinkConstraints() error {
	for _, h := range p.order {
		boundary := p.isInput[h] || p.isOutput[h]
		if !boundary && !(p.isSource(h) && p.isSink(h)) {
			return withHandle(ErrBadBoundary, h)
		}
	}
	return nil
}

func (p *Pipeline) checkReachability() error {
	reachable := make(map[StepHandle]bool)
	var stack []StepHandle
	for h, in := range p.isInput {
		if in {
			stack = append(stack, h)
		}
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[h] {
			continue
		}
		reachable[h] = true
		stack = append(stack, p.outgoing[h]...)
	}
	for _, h := range p.order {
		if !reachable[h] {
			return withHandle(ErrUnreachable, h)
		}
	}
	return nil
}

func (p *Pipeline) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[StepHandle]int)
	var visit func(h StepHandle) error
	visit = func(h StepHandle) error {
		color[h] = gray
		for _, next := range p.outgoing[h] {
			switch color[next] {
			case gray:
				return withHandle(ErrCycle, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[h] = black
		return nil
	}
	for _, h := range p.order {
		if color[h] == white {
			if err := visit(h); err != nil {
				return err
			}
		}
	}
	return nil
}
