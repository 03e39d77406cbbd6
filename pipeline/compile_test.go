package pipeline

import "testing"

func TestCompileGroupsByDependencySet(t *testing.T) {
	p := New("diamond")
	src, _ := p.AddSource(newStub("src"), "src", false, "")
	left := p.AddStep(&stubFactory{typeID: "left", labels: []string{"in"}, acceptAny: true}, "left")
	right := p.AddStep(&stubFactory{typeID: "right", labels: []string{"in"}, acceptAny: true}, "right")
	join, _ := p.AddSink(&stubFactory{typeID: "join", wildcard: true, acceptAny: true}, "out.json", "join")

	must(t, p.Connect(src, left, "in"))
	must(t, p.Connect(src, right, "in"))
	must(t, p.Connect(left, join, "left"))
	must(t, p.Connect(right, join, "right"))

	plan, err := p.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var starts int
	var syncs int
	for _, instr := range plan.Instructions {
		switch instr.Kind {
		case Start:
			starts++
		case Sync:
			syncs++
		}
	}
	if starts != 4 {
		t.Fatalf("expected 4 Start instructions, got %d", starts)
	}
	// left and right share the same dependency set {src} and are grouped
	// under one Sync; join has its own dependency set {left, right}.
	if syncs != 2 {
		t.Fatalf("expected 2 Sync instructions, got %d", syncs)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
