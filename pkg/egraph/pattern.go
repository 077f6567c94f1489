package egraph

import (
	"sort"
	"strings"
)

// Pattern is a term template searched against the e-graph. Leaves are either
// pattern variables, which bind to any class, or ground operations, which
// must match a concrete label.
type Pattern interface {
	String() string
	// vars appends the variable names of the pattern in first-occurrence order.
	vars(seen map[string]bool, out []string) []string
}

// PatternVar binds to any class. Repeated occurrences of the same name within
// one pattern must bind the same class.
type PatternVar struct {
	Name string
}

func (v PatternVar) String() string { return v.Name }

func (v PatternVar) vars(seen map[string]bool, out []string) []string {
	if !seen[v.Name] {
		seen[v.Name] = true
		out = append(out, v.Name)
	}
	return out
}

// PatternOp matches nodes labelled Op whose children match Args.
// A PatternOp with no arguments matches leaves such as constants and
// concrete variables.
type PatternOp struct {
	Op   string
	Args []Pattern
}

func (p PatternOp) String() string {
	if len(p.Args) == 0 {
		return p.Op
	}
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(p.Op)
	for _, a := range p.Args {
		sb.WriteByte(' ')
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

func (p PatternOp) vars(seen map[string]bool, out []string) []string {
	for _, a := range p.Args {
		out = a.vars(seen, out)
	}
	return out
}

// CompilePattern converts a term into a pattern: generic variables become
// PatternVar, everything else becomes PatternOp.
func CompilePattern(t Term) (Pattern, error) {
	switch t := t.(type) {
	case *Variable:
		if t.generic {
			return PatternVar{Name: t.name}, nil
		}
		return PatternOp{Op: t.name}, nil
	case *Invocation:
		args := make([]Pattern, len(t.args))
		for i, a := range t.args {
			p, err := CompilePattern(a)
			if err != nil {
				return nil, err
			}
			args[i] = p
		}
		return PatternOp{Op: t.fn.Name, Args: args}, nil
	default:
		return nil, configError(RuleLabel{}, ErrNilTerm, "cannot compile %T into a pattern", t)
	}
}

// PatternVars returns the variable names of p in first-occurrence order.
func PatternVars(p Pattern) []string {
	return p.vars(map[string]bool{}, nil)
}

// Subst maps pattern-variable names to classes. A Subst is immutable;
// Bind returns an extended copy.
type Subst struct {
	bindings map[string]ClassID
}

// NewSubst creates an empty substitution.
func NewSubst() Subst {
	return Subst{}
}

// Get returns the class bound to name.
func (s Subst) Get(name string) (ClassID, bool) {
	id, ok := s.bindings[name]
	return id, ok
}

// Bind returns a copy of s with name bound to id.
func (s Subst) Bind(name string, id ClassID) Subst {
	next := make(map[string]ClassID, len(s.bindings)+1)
	for k, v := range s.bindings {
		next[k] = v
	}
	next[name] = id
	return Subst{bindings: next}
}

// Len returns the number of bindings.
func (s Subst) Len() int { return len(s.bindings) }

// Vars returns the bound names in sorted order.
func (s Subst) Vars() []string {
	names := make([]string, 0, len(s.bindings))
	for k := range s.bindings {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// String renders the substitution as {a=C1, b=C4}.
func (s Subst) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, name := range s.Vars() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(s.bindings[name].String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// Match is every substitution under which a pattern matched one class.
type Match struct {
	Class  ClassID
	Substs []Subst
}

// Search finds every class matching p. Classes are visited in ascending id
// order and nodes in stored order, so results are deterministic.
// Search is read-only and requires a clean graph.
func (g *EGraph) Search(p Pattern) ([]Match, error) {
	if g.Dirty() {
		return nil, &InvariantError{Op: "search", Err: ErrNeedsRebuild}
	}
	var matches []Match
	for _, id := range g.ClassIDs() {
		substs := g.matchClass(p, id, NewSubst())
		if len(substs) == 0 {
			continue
		}
		matches = append(matches, Match{Class: id, Substs: dedupSubsts(substs)})
	}
	return matches, nil
}

// SearchClass matches p against a single class.
func (g *EGraph) SearchClass(p Pattern, id ClassID) ([]Subst, error) {
	if g.Dirty() {
		return nil, &InvariantError{Op: "search", Err: ErrNeedsRebuild}
	}
	if !g.exists(id) {
		return nil, &InvariantError{Op: "search", Class: id, Err: ErrUnknownClass}
	}
	return dedupSubsts(g.matchClass(p, g.find(id), NewSubst())), nil
}

// matchClass returns every extension of subst under which p matches id.
// Matching works over classes: a child position is satisfied if some node of
// the child class satisfies the sub-pattern.
func (g *EGraph) matchClass(p Pattern, id ClassID, subst Subst) []Subst {
	id = g.find(id)
	switch p := p.(type) {
	case PatternVar:
		if bound, ok := subst.Get(p.Name); ok {
			if g.find(bound) == id {
				return []Subst{subst}
			}
			return nil
		}
		return []Subst{subst.Bind(p.Name, id)}
	case PatternOp:
		var out []Subst
		for _, n := range g.classes[id].nodes {
			if n.Op != p.Op || len(n.Children) != len(p.Args) {
				continue
			}
			partial := []Subst{subst}
			for i, arg := range p.Args {
				var next []Subst
				for _, s := range partial {
					next = append(next, g.matchClass(arg, n.Children[i], s)...)
				}
				partial = next
				if len(partial) == 0 {
					break
				}
			}
			out = append(out, partial...)
		}
		return out
	}
	return nil
}

func dedupSubsts(substs []Subst) []Subst {
	if len(substs) < 2 {
		return substs
	}
	seen := make(map[string]bool, len(substs))
	out := substs[:0:0]
	for _, s := range substs {
		k := s.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// Instantiate adds the concrete instance of p under subst, bottom-up, and
// returns its class. Every variable of p must be bound.
func (g *EGraph) Instantiate(p Pattern, subst Subst) (ClassID, error) {
	switch p := p.(type) {
	case PatternVar:
		id, ok := subst.Get(p.Name)
		if !ok {
			return 0, configError(RuleLabel{}, ErrUnboundVariable, "variable %s", p.Name)
		}
		if !g.exists(id) {
			return 0, &InvariantError{Op: "instantiate", Class: id, Err: ErrUnknownClass}
		}
		return g.find(id), nil
	case PatternOp:
		children := make([]ClassID, len(p.Args))
		for i, a := range p.Args {
			id, err := g.Instantiate(a, subst)
			if err != nil {
				return 0, err
			}
			children[i] = id
		}
		id, _ := g.add(Node{Op: p.Op, Children: children})
		return id, nil
	}
	return 0, configError(RuleLabel{}, ErrNilTerm, "unsupported pattern %T", p)
}

// Apply instantiates rhs under subst and merges it with class, the class that
// produced the match. It reports whether the merge joined two distinct
// classes. The graph is left dirty when it did; call Rebuild before the next
// search.
func (g *EGraph) Apply(rhs Pattern, class ClassID, subst Subst) (ClassID, bool, error) {
	if !g.exists(class) {
		return 0, false, &InvariantError{Op: "apply", Class: class, Err: ErrUnknownClass}
	}
	id, err := g.Instantiate(rhs, subst)
	if err != nil {
		return 0, false, err
	}
	root, merged := g.union(class, id)
	return root, merged, nil
}
