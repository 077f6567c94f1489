package egraph

// CostFunction scores a node given the best costs of its children.
// Costs must be monotone: a node never costs less than any of its children.
type CostFunction interface {
	Cost(op string, childCosts []int) int
}

// CostFunc adapts a plain function to CostFunction.
type CostFunc func(op string, childCosts []int) int

// Cost calls f.
func (f CostFunc) Cost(op string, childCosts []int) int { return f(op, childCosts) }

// AstSize counts operation applications: the size of the extracted tree.
var AstSize CostFunction = CostFunc(func(_ string, childCosts []int) int {
	total := 1
	for _, c := range childCosts {
		total += c
	}
	return total
})

// AstDepth measures the height of the extracted tree.
var AstDepth CostFunction = CostFunc(func(_ string, childCosts []int) int {
	deepest := 0
	for _, c := range childCosts {
		if c > deepest {
			deepest = c
		}
	}
	return deepest + 1
})

type choice struct {
	cost  int
	index int // position of node within its class
	node  Node
}

// Extractor picks, for every class, the node of minimal cost. Best choices
// are computed once, by fixpoint iteration over all classes, when the
// extractor is created; terms are rebuilt from them on demand.
//
// A class whose every node depends (transitively) on the class itself has no
// finite term. Such classes are reported with ErrCyclicClass rather than
// looping.
type Extractor struct {
	g     *EGraph
	cost  CostFunction
	best  map[ClassID]choice
	terms map[ClassID]Term
}

// NewExtractor computes best choices for every class of g. The graph must be
// clean. A nil cost function selects AstSize.
func NewExtractor(g *EGraph, cost CostFunction) (*Extractor, error) {
	if g.Dirty() {
		return nil, &InvariantError{Op: "extract", Err: ErrNeedsRebuild}
	}
	if cost == nil {
		cost = AstSize
	}
	x := &Extractor{
		g:     g,
		cost:  cost,
		best:  make(map[ClassID]choice, g.ClassCount()),
		terms: make(map[ClassID]Term),
	}
	x.computeCosts()
	return x, nil
}

// computeCosts sweeps the classes in ascending id order until no choice
// improves. Ties keep the node that comes first in the class.
func (x *Extractor) computeCosts() {
	ids := x.g.ClassIDs()
	total := 0
	for _, id := range ids {
		total += len(x.g.classes[id].nodes)
	}

	for sweep := 0; sweep <= total; sweep++ {
		changed := false
		for _, id := range ids {
			cur, has := x.best[id]
			for i, n := range x.g.classes[id].nodes {
				c, ok := x.nodeCost(n)
				if !ok {
					continue
				}
				if !has || c < cur.cost || (c == cur.cost && i < cur.index) {
					cur = choice{cost: c, index: i, node: n}
					has = true
					changed = true
				}
			}
			if has {
				x.best[id] = cur
			}
		}
		if !changed {
			return
		}
	}
}

func (x *Extractor) nodeCost(n Node) (int, bool) {
	childCosts := make([]int, len(n.Children))
	for i, ch := range n.Children {
		b, ok := x.best[x.g.find(ch)]
		if !ok {
			return 0, false
		}
		childCosts[i] = b.cost
	}
	return x.cost.Cost(n.Op, childCosts), true
}

// Cost returns the best cost of the class containing id.
func (x *Extractor) Cost(id ClassID) (int, error) {
	if !x.g.exists(id) {
		return 0, &InvariantError{Op: "extract", Class: id, Err: ErrUnknownClass}
	}
	root := x.g.find(id)
	b, ok := x.best[root]
	if !ok {
		return 0, &StructuralError{Class: root, Err: ErrCyclicClass}
	}
	return b.cost, nil
}

// FindBest returns the cheapest term of the class containing id and its cost.
func (x *Extractor) FindBest(id ClassID) (int, Term, error) {
	cost, err := x.Cost(id)
	if err != nil {
		return 0, nil, err
	}
	t, err := x.build(x.g.find(id), make(map[ClassID]bool))
	if err != nil {
		return 0, nil, err
	}
	return cost, t, nil
}

// build reconstructs the chosen term. onPath guards against cost functions
// that are not strictly increasing, which can make best choices cyclic.
func (x *Extractor) build(id ClassID, onPath map[ClassID]bool) (Term, error) {
	if t, ok := x.terms[id]; ok {
		return t, nil
	}
	if onPath[id] {
		return nil, &StructuralError{Class: id, Err: ErrCyclicClass}
	}
	b, ok := x.best[id]
	if !ok {
		return nil, &StructuralError{Class: id, Err: ErrCyclicClass}
	}

	var t Term
	if b.node.IsLeaf() {
		t = NewVariable(b.node.Op)
	} else {
		onPath[id] = true
		args := make([]Term, len(b.node.Children))
		for i, ch := range b.node.Children {
			arg, err := x.build(x.g.find(ch), onPath)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		delete(onPath, id)
		t = NewInvocation(b.node.Op, args...)
	}
	x.terms[id] = t
	return t, nil
}
