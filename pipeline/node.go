package pipeline

// PipelineNode describes one step as it exists in a built pipeline: its
// handle, factory, optional human name, and its role as a source and/or
// sink of the overall pipeline.
//
// An input node has no incoming edges inside the graph (it is a source of
// externally-supplied data). An output node has a non-empty
// OutputFilename; its result is additionally published to the user-facing
// output directory. A node may be both.
type PipelineNode struct {
	Handle         StepHandle
	Name           string
	Factory        StepFactory
	IsInput        bool
	IsOutput       bool
	OutputFilename string
}
