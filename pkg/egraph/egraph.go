package egraph

import (
	"sort"
)

// EClass is an equivalence class: the nodes currently known to denote the
// same value, and the nodes elsewhere in the graph that use this class as a
// child.
type EClass struct {
	id      ClassID
	nodes   []Node
	parents []parentRef
}

// ID returns the class id. For a class obtained from EGraph.Class this is
// always the canonical representative.
func (c *EClass) ID() ClassID { return c.id }

// Nodes returns the nodes of the class in stable (insertion) order.
// The returned slice must not be modified.
func (c *EClass) Nodes() []Node { return c.nodes }

// Len returns the number of nodes in the class.
func (c *EClass) Len() int { return len(c.nodes) }

// ParentCount returns how many parent references the class holds.
func (c *EClass) ParentCount() int { return len(c.parents) }

// EGraph is the saturation state: equivalence classes, a union-find forest
// over class ids and a hash-cons index from canonical node to class.
//
// The index and class membership are consistent except between a Union and
// the next Rebuild. During that window only Add, Union and Rebuild may be
// called; queries return ErrNeedsRebuild.
//
// Thread safety: EGraph is NOT safe for concurrent use.
type EGraph struct {
	// unionFind[i] is the parent of class id i; roots point to themselves.
	unionFind []ClassID

	// classes holds canonical classes only.
	classes map[ClassID]*EClass

	// memo is the hash-cons index keyed by Node.key().
	memo map[string]ClassID

	// pending holds parent references whose children changed class.
	pending []parentRef

	// touched collects classes whose node lists need canonicalizing.
	touched map[ClassID]struct{}

	// version increments on every structural change.
	version uint64

	stats *Monitor
}

// NewEGraph creates an empty e-graph.
func NewEGraph() *EGraph {
	return &EGraph{
		classes: make(map[ClassID]*EClass),
		memo:    make(map[string]ClassID),
		touched: make(map[ClassID]struct{}),
		stats:   NewMonitor(),
	}
}

// Dirty reports whether unions are waiting for a Rebuild.
func (g *EGraph) Dirty() bool {
	return len(g.pending) > 0 || len(g.touched) > 0
}

// Version returns a counter that changes whenever the graph changes.
func (g *EGraph) Version() uint64 { return g.version }

// Stats returns the graph's monitor.
func (g *EGraph) Stats() *Monitor { return g.stats }

func (g *EGraph) exists(id ClassID) bool {
	return int(id) < len(g.unionFind)
}

// find resolves id to its representative using path halving.
// The caller must ensure id exists.
func (g *EGraph) find(id ClassID) ClassID {
	for g.unionFind[id] != id {
		g.unionFind[id] = g.unionFind[g.unionFind[id]]
		id = g.unionFind[id]
	}
	return id
}

// Find returns the canonical representative of id.
func (g *EGraph) Find(id ClassID) (ClassID, error) {
	if !g.exists(id) {
		return 0, &InvariantError{Op: "find", Class: id, Err: ErrUnknownClass}
	}
	return g.find(id), nil
}

// Equivalent reports whether a and b are in the same class.
func (g *EGraph) Equivalent(a, b ClassID) (bool, error) {
	ra, err := g.Find(a)
	if err != nil {
		return false, err
	}
	rb, err := g.Find(b)
	if err != nil {
		return false, err
	}
	return ra == rb, nil
}

func (g *EGraph) canonicalize(n Node) Node {
	out := Node{Op: n.Op, Children: make([]ClassID, len(n.Children))}
	for i, c := range n.Children {
		out.Children[i] = g.find(c)
	}
	return out
}

// Lookup returns the class of n if an equal node is already interned.
func (g *EGraph) Lookup(n Node) (ClassID, bool, error) {
	for _, c := range n.Children {
		if !g.exists(c) {
			return 0, false, &InvariantError{Op: "lookup", Class: c, Err: ErrUnknownClass}
		}
	}
	id, ok := g.memo[g.canonicalize(n).key()]
	if !ok {
		return 0, false, nil
	}
	return g.find(id), true, nil
}

// Add interns n and returns its class. If an equal node (after
// canonicalizing its children) already exists, its class is returned and the
// graph is unchanged; otherwise a fresh singleton class is created.
func (g *EGraph) Add(n Node) (ClassID, error) {
	for _, c := range n.Children {
		if !g.exists(c) {
			return 0, &InvariantError{Op: "add", Class: c, Err: ErrUnknownClass}
		}
	}
	id, _ := g.add(n)
	return id, nil
}

// add interns n and reports whether a new class was created.
func (g *EGraph) add(n Node) (ClassID, bool) {
	n = g.canonicalize(n)
	key := n.key()
	if id, ok := g.memo[key]; ok {
		return g.find(id), false
	}

	id := ClassID(len(g.unionFind))
	g.unionFind = append(g.unionFind, id)
	g.classes[id] = &EClass{id: id, nodes: []Node{n}}
	for _, child := range n.Children {
		c := g.classes[child]
		c.parents = append(c.parents, parentRef{node: n, class: id})
	}
	g.memo[key] = id
	g.version++
	g.stats.RecordAdd()
	return id, true
}

// AddTerm interns t bottom-up so that identical subterms share one class.
// Generic variables are rejected.
func (g *EGraph) AddTerm(t Term) (ClassID, error) {
	switch t := t.(type) {
	case nil:
		return 0, configError(RuleLabel{}, ErrNilTerm, "")
	case *Variable:
		if t.generic {
			return 0, configError(RuleLabel{}, ErrGenericInProgram, "variable %q", t.name)
		}
		id, _ := g.add(Node{Op: t.name})
		return id, nil
	case *Invocation:
		children := make([]ClassID, len(t.args))
		for i, a := range t.args {
			id, err := g.AddTerm(a)
			if err != nil {
				return 0, err
			}
			children[i] = id
		}
		id, _ := g.add(Node{Op: t.fn.Name, Children: children})
		return id, nil
	default:
		return 0, configError(RuleLabel{}, ErrNilTerm, "unsupported term %T", t)
	}
}

// Union merges the classes of a and b and returns the surviving
// representative. Merging a class with itself is a no-op.
//
// The class with more parent references survives (ties: more nodes, then the
// smaller id), so each parent reference is copied O(log n) times over the
// lifetime of the graph. The absorbed class's parents are queued for
// Rebuild because their hash-cons keys are now stale.
func (g *EGraph) Union(a, b ClassID) (ClassID, error) {
	if !g.exists(a) {
		return 0, &InvariantError{Op: "union", Class: a, Err: ErrUnknownClass}
	}
	if !g.exists(b) {
		return 0, &InvariantError{Op: "union", Class: b, Err: ErrUnknownClass}
	}
	id, _ := g.union(a, b)
	return id, nil
}

// union reports whether two distinct classes were merged.
func (g *EGraph) union(a, b ClassID) (ClassID, bool) {
	a, b = g.find(a), g.find(b)
	if a == b {
		return a, false
	}
	ca, cb := g.classes[a], g.classes[b]
	if survivesOver(cb, ca) {
		a, b = b, a
		ca, cb = cb, ca
	}

	g.unionFind[b] = a
	ca.nodes = append(ca.nodes, cb.nodes...)
	ca.parents = append(ca.parents, cb.parents...)
	g.pending = append(g.pending, cb.parents...)
	delete(g.classes, b)

	g.touched[a] = struct{}{}
	g.version++
	g.stats.RecordUnion()
	return a, true
}

// survivesOver reports whether x should be kept as representative over y.
func survivesOver(x, y *EClass) bool {
	if len(x.parents) != len(y.parents) {
		return len(x.parents) > len(y.parents)
	}
	if len(x.nodes) != len(y.nodes) {
		return len(x.nodes) > len(y.nodes)
	}
	return x.id < y.id
}

// Class returns the canonical class containing id.
func (g *EGraph) Class(id ClassID) (*EClass, error) {
	if !g.exists(id) {
		return nil, &InvariantError{Op: "class", Class: id, Err: ErrUnknownClass}
	}
	return g.classes[g.find(id)], nil
}

// ClassIDs returns the canonical class ids in ascending order.
func (g *EGraph) ClassIDs() []ClassID {
	ids := make([]ClassID, 0, len(g.classes))
	for id := range g.classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClassCount returns the number of live (non-empty) classes.
func (g *EGraph) ClassCount() int { return len(g.classes) }

// NodeCount returns the total number of distinct nodes.
func (g *EGraph) NodeCount() (int, error) {
	if g.Dirty() {
		return 0, &InvariantError{Op: "node count", Err: ErrNeedsRebuild}
	}
	n := 0
	for _, c := range g.classes {
		n += len(c.nodes)
	}
	return n, nil
}

// TotalIDs returns how many class ids were ever allocated.
func (g *EGraph) TotalIDs() int { return len(g.unionFind) }
