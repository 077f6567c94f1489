// Package egraph implements interactive equality saturation over a small
// applicative term language.
//
// An e-graph stores a set of terms partitioned into equivalence classes,
// sharing structurally identical subterms. Rewrite rules are searched against
// the graph and their right-hand sides are merged into the class that matched,
// so the graph grows to represent every term reachable by the rules without
// ever committing to one rewritten form.
//
// The package is built around a single owning Engine:
//   - Term model: Variable, Invocation and Function describe input terms
//   - Store: EGraph interns nodes (hash-consing) and keeps a union-find forest
//   - Congruence closure: Rebuild restores structural consistency after merges
//   - Pattern matching: Search and Apply drive rewrite rules
//   - Scheduler: Engine.Step fires one rule, or every rule once, and reports
//     the structural delta so each step can be inspected before the next
//   - Extraction: Extractor picks a cheapest concrete term per class
//
// Engines are single-threaded. Independent engines may run on separate
// goroutines, but one engine must never be driven from two at once.
package egraph

import (
	"fmt"
	"strings"
)

// Term is a concrete term or a rewrite-rule pattern.
// A term is either a Variable or an Invocation of a Function.
type Term interface {
	// String returns the s-expression form of the term.
	String() string

	// Equal reports structural equality.
	Equal(other Term) bool

	// HasGeneric reports whether the term contains a generic variable.
	HasGeneric() bool
}

// Variable is a leaf identified by name. Concrete variables denote
// themselves; generic variables are placeholders that only make sense inside
// rewrite-rule patterns.
type Variable struct {
	name    string
	generic bool
}

// NewVariable creates a concrete variable.
func NewVariable(name string) *Variable {
	return &Variable{name: name}
}

// NewGeneric creates a generic (pattern) variable.
func NewGeneric(name string) *Variable {
	return &Variable{name: name, generic: true}
}

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// IsGeneric reports whether v is a pattern placeholder.
func (v *Variable) IsGeneric() bool { return v.generic }

// String returns the variable name.
func (v *Variable) String() string { return v.name }

// Equal checks if two variables have the same name and kind.
func (v *Variable) Equal(other Term) bool {
	o, ok := other.(*Variable)
	return ok && o.name == v.name && o.generic == v.generic
}

// HasGeneric reports whether v is generic.
func (v *Variable) HasGeneric() bool { return v.generic }

// Function identifies an operation by name and arity.
type Function struct {
	Name  string
	Arity int
}

// String returns name/arity.
func (f Function) String() string {
	return fmt.Sprintf("%s/%d", f.Name, f.Arity)
}

// Invocation applies a Function to an ordered list of arguments.
type Invocation struct {
	fn   Function
	args []Term
}

// NewInvocation creates an invocation of name over args. The arity is taken
// from len(args).
//
// Example:
//
//	// (add x (add y z))
//	t := NewInvocation("add", NewVariable("x"),
//	    NewInvocation("add", NewVariable("y"), NewVariable("z")))
func NewInvocation(name string, args ...Term) *Invocation {
	return &Invocation{
		fn:   Function{Name: name, Arity: len(args)},
		args: args,
	}
}

// Function returns the invoked function.
func (i *Invocation) Function() Function { return i.fn }

// Args returns the argument terms. The slice must not be modified.
func (i *Invocation) Args() []Term { return i.args }

// String returns the s-expression form, e.g. (add x y).
func (i *Invocation) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(i.fn.Name)
	for _, a := range i.args {
		sb.WriteByte(' ')
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Equal checks structural equality of two invocations.
func (i *Invocation) Equal(other Term) bool {
	o, ok := other.(*Invocation)
	if !ok || o.fn != i.fn {
		return false
	}
	for k := range i.args {
		if !i.args[k].Equal(o.args[k]) {
			return false
		}
	}
	return true
}

// HasGeneric reports whether any argument contains a generic variable.
func (i *Invocation) HasGeneric() bool {
	for _, a := range i.args {
		if a.HasGeneric() {
			return true
		}
	}
	return false
}

// TermSize counts the operation applications in t, i.e. its node count.
func TermSize(t Term) int {
	inv, ok := t.(*Invocation)
	if !ok {
		return 1
	}
	n := 1
	for _, a := range inv.args {
		n += TermSize(a)
	}
	return n
}
