package pipeline

import (
	"errors"
	"testing"
)

func TestBuildLinearPipeline(t *testing.T) {
	p := New("linear")
	src, err := p.AddSource(newStub("source"), "src", false, "")
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	mid := p.AddStep(newStub("transform", "in"), "mid")
	sink, err := p.AddSink(newStub("sink", "in"), "out.json", "sink")
	if err != nil {
		t.Fatalf("AddSink: %v", err)
	}

	if err := p.Connect(src, mid, "in"); err != nil {
		t.Fatalf("Connect src->mid: %v", err)
	}
	if err := p.Connect(mid, sink, "in"); err != nil {
		t.Fatalf("Connect mid->sink: %v", err)
	}

	plan, err := p.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(plan.Nodes))
	}
	if len(plan.Instructions) == 0 {
		t.Fatalf("expected compiled instructions")
	}
}

func TestConnectRejectsSelfLoop(t *testing.T) {
	p := New("self-loop")
	h := p.AddStep(newStub("t", "in"), "h")
	err := p.Connect(h, h, "in")
	if !errors.Is(err, ErrSelfLoop) {
		t.Fatalf("expected ErrSelfLoop, got %v", err)
	}
}

func TestConnectRejectsInputAsSink(t *testing.T) {
	p := New("bad-sink")
	a, _ := p.AddSource(newStub("a"), "a", false, "")
	b, _ := p.AddSource(newStub("b"), "b", false, "")
	err := p.Connect(a, b, "in")
	if !errors.Is(err, ErrInputAsSink) {
		t.Fatalf("expected ErrInputAsSink, got %v", err)
	}
}

func TestConnectRejectsDuplicateEdge(t *testing.T) {
	p := New("dup")
	a, _ := p.AddSource(newStub("a"), "a", false, "")
	b := p.AddStep(&stubFactory{typeID: "b", labels: []string{"x", "y"}, acceptAny: true}, "b")
	if err := p.Connect(a, b, "x"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	err := p.Connect(a, b, "y")
	if !errors.Is(err, ErrDuplicateEdge) {
		t.Fatalf("expected ErrDuplicateEdge, got %v", err)
	}
}

func TestConnectRejectsUnsupportedLabel(t *testing.T) {
	p := New("bad-label")
	a, _ := p.AddSource(newStub("a"), "a", false, "")
	b := p.AddStep(&stubFactory{typeID: "b", labels: []string{"only"}}, "b")
	err := p.Connect(a, b, "other")
	if !errors.Is(err, ErrUnsupportedLabel) {
		t.Fatalf("expected ErrUnsupportedLabel, got %v", err)
	}
}

func TestBuildRejectsUnreachableStep(t *testing.T) {
	p := New("unreachable")
	_, _ = p.AddSource(newStub("a"), "a", false, "")
	orphan, _ := p.AddSink(newStub("b"), "out.json", "orphan")
	_ = orphan
	_, err := p.Build(nil, nil)
	if !errors.Is(err, ErrUnreachable) && !errors.Is(err, ErrMissingConnection) && !errors.Is(err, ErrBadBoundary) {
		t.Fatalf("expected a validation error for an unreachable node, got %v", err)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	p := New("cycle")
	src, _ := p.AddSource(&stubFactory{typeID: "src", wildcard: true, acceptAny: true}, "src", false, "")
	a := p.AddStep(&stubFactory{typeID: "a", wildcard: true, acceptAny: true}, "a")
	b := p.AddStep(&stubFactory{typeID: "b", wildcard: true, acceptAny: true}, "b")
	if err := p.Connect(src, a, "in"); err != nil {
		t.Fatalf("connect src->a: %v", err)
	}
	if err := p.Connect(a, b, "x"); err != nil {
		t.Fatalf("connect a->b: %v", err)
	}
	if err := p.Connect(b, a, "y"); err != nil {
		t.Fatalf("connect b->a: %v", err)
	}
	_, err := p.Build(nil, nil)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}
