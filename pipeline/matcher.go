package pipeline

import (
	"encoding/json"
	"reflect"
)

// Match computes the maximum-size structurally-consistent mapping from
// current's handles to old's handles, suitable for remapping checkpoint
// storage from a previous run onto the current pipeline.
//
// A node pairing (cur, old) is a candidate only if both steps share a
// factory TypeID, an identical resolved configuration, and an identical set
// of incoming edge labels. Candidates are then refined to a least fixed
// point: a pairing survives a round only if, for every incoming edge of
// cur, old has an incoming edge under the same label whose source is still
// a surviving candidate for cur's source. This converges because each
// round can only remove pairings, never add them. The final candidate sets
// are resolved into an injective mapping by maximum bipartite matching, so
// at most one current node maps to any given old node.
func Match(current, old *CheckpointGraph) map[StepHandle]StepHandle {
	if current == nil || old == nil {
		return nil
	}

	candidates := seedCandidates(current, old)
	refineToFixedPoint(current, old, candidates)
	return maximumMatchup(current, candidates)
}

func seedCandidates(current, old *CheckpointGraph) map[StepHandle]map[StepHandle]bool {
	candidates := make(map[StepHandle]map[StepHandle]bool, len(current.Nodes))
	for _, cur := range current.Nodes {
		curLabels := incomingLabelSet(current, cur.Handle)
		set := make(map[StepHandle]bool)
		for _, o := range old.Nodes {
			if o.TypeID != cur.TypeID {
				continue
			}
			if !reflect.DeepEqual(normalizeConfig(o.Config), normalizeConfig(cur.Config)) {
				continue
			}
			if !sameLabelSet(curLabels, incomingLabelSet(old, o.Handle)) {
				continue
			}
			set[o.Handle] = true
		}
		candidates[cur.Handle] = set
	}
	return candidates
}

// normalizeConfig re-encodes a config map through JSON-equivalent types so
// that e.g. int(3) and float64(3) compare equal the way they would after a
// round trip through the JSON-backed checkpoint graph file.
func normalizeConfig(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

func incomingLabelSet(g *CheckpointGraph, h StepHandle) map[string]bool {
	labels := make(map[string]bool)
	for _, e := range g.incoming[h] {
		labels[e.Label] = true
	}
	return labels
}

func sameLabelSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for l := range a {
		if !b[l] {
			return false
		}
	}
	return true
}

func refineToFixedPoint(current, old *CheckpointGraph, candidates map[StepHandle]map[StepHandle]bool) {
	for {
		changed := false
		for _, cur := range current.Nodes {
			set := candidates[cur.Handle]
			for oldHandle := range set {
				if !inputsCompatible(current, old, cur.Handle, oldHandle, candidates) {
					delete(set, oldHandle)
					changed = true
				}
			}
		}
		if !changed {
			return
		}
	}
}

// inputsCompatible reports whether, for every incoming edge of cur under
// some label, old has an incoming edge under the same label whose source
// is still a live candidate for cur's source.
func inputsCompatible(current, old *CheckpointGraph, cur, oldHandle StepHandle, candidates map[StepHandle]map[StepHandle]bool) bool {
	for _, ce := range current.incoming[cur] {
		matched := false
		for _, oe := range old.incoming[oldHandle] {
			if oe.Label != ce.Label {
				continue
			}
			if candidates[ce.Source][oe.Source] {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// maximumMatchup resolves per-node candidate sets into an injective
// mapping of maximum size via Kuhn's augmenting-path algorithm. Current
// nodes are tried in handle order for determinism.
func maximumMatchup(current *CheckpointGraph, candidates map[StepHandle]map[StepHandle]bool) map[StepHandle]StepHandle {
	matchOfOld := make(map[StepHandle]StepHandle) // old handle -> matched current handle
	result := make(map[StepHandle]StepHandle)

	var tryAssign func(cur StepHandle, visited map[StepHandle]bool) bool
	tryAssign = func(cur StepHandle, visited map[StepHandle]bool) bool {
		for oldHandle := range candidates[cur] {
			if visited[oldHandle] {
				continue
			}
			visited[oldHandle] = true
			matchedCur, taken := matchOfOld[oldHandle]
			if !taken || tryAssign(matchedCur, visited) {
				matchOfOld[oldHandle] = cur
				result[cur] = oldHandle
				return true
			}
		}
		return false
	}

	for _, cur := range current.Nodes {
		tryAssign(cur.Handle, make(map[StepHandle]bool))
	}
	return result
}
