// Package pipeline provides the core execution engine for checkpointed
// computation pipelines expressed as directed acyclic graphs of steps.
//
// A Pipeline is built incrementally with AddStep/AddSource/AddSink/Connect,
// then compiled with Build into an ExecutionPlan: a validated graph, a
// CheckpointGraph used for cross-run structural matching, and a linear
// instruction list a TaskExecutor can run.
package pipeline
