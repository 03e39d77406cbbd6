package pipeline

// PipelineEdge is a labeled connection from an upstream step's output to a
// downstream step's input. At most one edge exists per (Source, Target)
// pair; self-loops and edges targeting an input node are rejected by
// Pipeline.Connect before an edge is ever recorded.
type PipelineEdge struct {
	Source StepHandle
	Target StepHandle
	Label  string
}
