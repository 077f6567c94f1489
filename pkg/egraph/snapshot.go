package egraph

import (
	"sort"
)

// SnapshotNode is one e-node as seen by a renderer.
type SnapshotNode struct {
	Hash     uint64    `json:"hash" yaml:"hash"`
	Label    string    `json:"label" yaml:"label"`
	Children []ClassID `json:"children" yaml:"children"`
}

// SnapshotClass is one equivalence class and its nodes in stored order.
type SnapshotClass struct {
	ID    ClassID        `json:"id" yaml:"id"`
	Nodes []SnapshotNode `json:"nodes" yaml:"nodes"`
}

// Snapshot is an immutable copy of every class of a clean e-graph, ordered
// by class id.
type Snapshot struct {
	Engine    string          `json:"engine,omitempty" yaml:"engine,omitempty"`
	Iteration int             `json:"iteration" yaml:"iteration"`
	Root      ClassID         `json:"root" yaml:"root"`
	Classes   []SnapshotClass `json:"classes" yaml:"classes"`
}

// Snapshot copies the current classes. The graph must be clean.
func (g *EGraph) Snapshot() (*Snapshot, error) {
	if g.Dirty() {
		return nil, &InvariantError{Op: "snapshot", Err: ErrNeedsRebuild}
	}
	ids := g.ClassIDs()
	snap := &Snapshot{Classes: make([]SnapshotClass, 0, len(ids))}
	for _, id := range ids {
		c := g.classes[id]
		sc := SnapshotClass{ID: id, Nodes: make([]SnapshotNode, 0, len(c.nodes))}
		for _, n := range c.nodes {
			n = g.canonicalize(n)
			sc.Nodes = append(sc.Nodes, SnapshotNode{
				Hash:     n.Hash(),
				Label:    n.Op,
				Children: n.Children,
			})
		}
		snap.Classes = append(snap.Classes, sc)
	}
	return snap, nil
}

// Class returns the snapshot of class id.
func (s *Snapshot) Class(id ClassID) (SnapshotClass, bool) {
	i := sort.Search(len(s.Classes), func(i int) bool { return s.Classes[i].ID >= id })
	if i < len(s.Classes) && s.Classes[i].ID == id {
		return s.Classes[i], true
	}
	return SnapshotClass{}, false
}

// NodeCount returns the number of nodes in the snapshot.
func (s *Snapshot) NodeCount() int {
	n := 0
	for _, c := range s.Classes {
		n += len(c.Nodes)
	}
	return n
}

// Graph returns the snapshot as class id -> node hash -> node, the shape
// consumed by graph renderers.
func (s *Snapshot) Graph() map[ClassID]map[uint64]SnapshotNode {
	out := make(map[ClassID]map[uint64]SnapshotNode, len(s.Classes))
	for _, c := range s.Classes {
		nodes := make(map[uint64]SnapshotNode, len(c.Nodes))
		for _, n := range c.Nodes {
			nodes[n.Hash] = n
		}
		out[c.ID] = nodes
	}
	return out
}

// NodeRef locates a node inside a snapshot.
type NodeRef struct {
	Class ClassID `json:"class" yaml:"class"`
	Hash  uint64  `json:"hash" yaml:"hash"`
	Label string  `json:"label" yaml:"label"`
}

// Diff is the structural delta between two snapshots of one graph.
type Diff struct {
	// AddedClasses exist after but not before.
	AddedClasses []ClassID `json:"added_classes,omitempty" yaml:"added_classes,omitempty"`
	// MergedClasses existed before and were absorbed by another class.
	MergedClasses []ClassID `json:"merged_classes,omitempty" yaml:"merged_classes,omitempty"`
	// AddedNodes did not exist anywhere before.
	AddedNodes []NodeRef `json:"added_nodes,omitempty" yaml:"added_nodes,omitempty"`
	// RemovedNodes no longer exist in their old form, typically because a
	// child class was merged and the node was re-canonicalized.
	RemovedNodes []NodeRef `json:"removed_nodes,omitempty" yaml:"removed_nodes,omitempty"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.AddedClasses) == 0 && len(d.MergedClasses) == 0 &&
		len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0
}

// DiffSnapshots compares two snapshots of the same graph.
func DiffSnapshots(before, after *Snapshot) Diff {
	var d Diff
	beforeNodes := nodeIndex(before)
	afterNodes := nodeIndex(after)

	for _, c := range after.Classes {
		if _, ok := before.Class(c.ID); !ok {
			d.AddedClasses = append(d.AddedClasses, c.ID)
		}
		for _, n := range c.Nodes {
			if _, ok := beforeNodes[n.Hash]; !ok {
				d.AddedNodes = append(d.AddedNodes, NodeRef{Class: c.ID, Hash: n.Hash, Label: n.Label})
			}
		}
	}
	for _, c := range before.Classes {
		if _, ok := after.Class(c.ID); !ok {
			d.MergedClasses = append(d.MergedClasses, c.ID)
		}
		for _, n := range c.Nodes {
			if _, ok := afterNodes[n.Hash]; !ok {
				d.RemovedNodes = append(d.RemovedNodes, NodeRef{Class: c.ID, Hash: n.Hash, Label: n.Label})
			}
		}
	}
	return d
}

func nodeIndex(s *Snapshot) map[uint64]struct{} {
	idx := make(map[uint64]struct{}, s.NodeCount())
	for _, c := range s.Classes {
		for _, n := range c.Nodes {
			idx[n.Hash] = struct{}{}
		}
	}
	return idx
}
