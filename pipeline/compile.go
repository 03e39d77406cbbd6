package pipeline

import "sort"

// InstructionKind distinguishes the two scheduler instruction shapes a
// compiled plan is made of.
type InstructionKind int

const (
	// Start instructs the executor to begin a step as soon as every step in
	// Requires has completed.
	Start InstructionKind = iota
	// Sync is a barrier: the executor waits for every step in Requires
	// before any step ordered after the Sync may start. Sync instructions
	// exist so the scheduler only has to track set membership, not a full
	// dependency DAG, once compilation is done.
	Sync
)

// InputRef names one upstream dependency of a Start instruction: the
// handle that produced it and the label it was connected under.
type InputRef struct {
	Upstream StepHandle
	Label    string
}

// Instruction is one entry in a compiled ExecutionPlan's linear program.
type Instruction struct {
	Kind     InstructionKind
	Step     StepHandle // meaningful only when Kind == Start
	Inputs   []InputRef // meaningful only when Kind == Start
	Requires []StepHandle
}

// compile lowers a validated Pipeline into a flat instruction list grouping
// steps by their exact dependency set: all steps that require precisely the
// same predecessor set are started together, guarded by a single Sync on
// that set's completion. This mirrors the plan compiler's grouping in the
// original executor, which schedules by "the pending set depending on
// exactly this frontier" rather than a per-edge wait.
func compile(p *Pipeline) []Instruction {
	depKey := func(deps []StepHandle) string {
		sorted := append([]StepHandle(nil), deps...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		key := ""
		for _, h := range sorted {
			key += "," + h.String()
		}
		return key
	}

	groups := make(map[string][]StepHandle)
	groupDeps := make(map[string][]StepHandle)
	var groupOrder []string

	for _, h := range p.order {
		deps := append([]StepHandle(nil), p.incoming[h]...)
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
		key := depKey(deps)
		if _, ok := groups[key]; !ok {
			groupOrder = append(groupOrder, key)
			groupDeps[key] = deps
		}
		groups[key] = append(groups[key], h)
	}

	var instructions []Instruction
	for _, key := range groupOrder {
		deps := groupDeps[key]
		if len(deps) > 0 {
			instructions = append(instructions, Instruction{Kind: Sync, Requires: deps})
		}
		for _, h := range groups[key] {
			var inputs []InputRef
			for _, source := range p.incoming[h] {
				inputs = append(inputs, InputRef{Upstream: source, Label: p.edgeLabel[edgeKey{source, h}]})
			}
			instructions = append(instructions, Instruction{Kind: Start, Step: h, Inputs: inputs, Requires: deps})
		}
	}
	return instructions
}
