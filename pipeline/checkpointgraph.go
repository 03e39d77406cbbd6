package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CheckpointFilename is the literal name a CheckpointGraph is persisted
// under inside a pipeline's checkpoint root. The name is kept for
// cross-language familiarity even though the contents are JSON, not a
// pickle stream.
const CheckpointFilename = "graph.pickle"

// CheckpointNode is the structural fingerprint of one step: its name, its
// factory's identity, its resolved configuration, and its boundary role.
// The matcher compares TypeID and Config (plus incoming edge labels); Name,
// IsInput and IsOutput are recorded for inspection only.
type CheckpointNode struct {
	Handle   StepHandle     `json:"handle"`
	Name     string         `json:"name"`
	TypeID   string         `json:"type_id"`
	Config   map[string]any `json:"config"`
	IsInput  bool           `json:"is_input"`
	IsOutput bool           `json:"is_output"`
}

// CheckpointEdgeRecord is one labeled connection in a CheckpointGraph.
type CheckpointEdgeRecord struct {
	Source StepHandle `json:"source"`
	Target StepHandle `json:"target"`
	Label  string     `json:"label"`
}

// CheckpointGraph is the content-and-topology snapshot of a built pipeline,
// persisted next to its checkpoints so a later run can structurally match
// its own pipeline against it and reuse compatible checkpoints.
type CheckpointGraph struct {
	Nodes []CheckpointNode       `json:"nodes"`
	Edges []CheckpointEdgeRecord `json:"edges"`

	byHandle  map[StepHandle]*CheckpointNode
	incoming  map[StepHandle][]CheckpointEdgeRecord
	outgoing  map[StepHandle][]CheckpointEdgeRecord
}

func newCheckpointGraph(p *Pipeline, configByStep map[StepHandle]map[string]any) *CheckpointGraph {
	g := &CheckpointGraph{}
	for _, h := range p.order {
		g.Nodes = append(g.Nodes, CheckpointNode{
			Handle:   h,
			Name:     p.nodeName[h],
			TypeID:   p.factory[h].TypeID(),
			Config:   configByStep[h],
			IsInput:  p.isInput[h],
			IsOutput: p.isOutput[h],
		})
	}
	for _, e := range p.edges {
		g.Edges = append(g.Edges, CheckpointEdgeRecord{Source: e.Source, Target: e.Target, Label: e.Label})
	}
	g.index()
	return g
}

func (g *CheckpointGraph) index() {
	g.byHandle = make(map[StepHandle]*CheckpointNode, len(g.Nodes))
	g.incoming = make(map[StepHandle][]CheckpointEdgeRecord)
	g.outgoing = make(map[StepHandle][]CheckpointEdgeRecord)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		g.byHandle[n.Handle] = n
	}
	for _, e := range g.Edges {
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}
}

// Save writes g as JSON under dir/CheckpointFilename, replacing any
// existing file atomically via a temp-file-then-rename.
func (g *CheckpointGraph) Save(dir string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode checkpoint graph: %v", ErrCodecError, err)
	}
	final := filepath.Join(dir, CheckpointFilename)
	temp := final + "_temp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorageError, temp, err)
	}
	if err := os.Rename(temp, final); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrStorageError, temp, err)
	}
	return nil
}

// LoadCheckpointGraph reads a CheckpointGraph previously written by Save
// from dir. It returns (nil, nil) if no graph file is present, signalling a
// fresh checkpoint root rather than an error.
func LoadCheckpointGraph(dir string) (*CheckpointGraph, error) {
	data, err := os.ReadFile(filepath.Join(dir, CheckpointFilename))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read checkpoint graph: %v", ErrStorageError, err)
	}
	var g CheckpointGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: decode checkpoint graph: %v", ErrCodecError, err)
	}
	g.index()
	return &g, nil
}
