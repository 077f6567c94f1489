package lispy

import (
	"sort"
)

// ArityChecker remembers the argument count of every function symbol seen so
// far. One checker is shared by a program and all of its rules, so a symbol
// used with two different arities anywhere is rejected.
type ArityChecker struct {
	arities map[string]int
}

// NewArityChecker creates an empty checker.
func NewArityChecker() *ArityChecker {
	return &ArityChecker{arities: make(map[string]int)}
}

// Check records arity for name, or reports the previously recorded arity
// when it differs.
func (c *ArityChecker) Check(name string, arity int) (previous int, ok bool) {
	if prev, seen := c.arities[name]; seen {
		return prev, prev == arity
	}
	c.arities[name] = arity
	return arity, true
}

// Arity returns the recorded arity of name.
func (c *ArityChecker) Arity(name string) (int, bool) {
	a, ok := c.arities[name]
	return a, ok
}

// Symbols returns every recorded function symbol in sorted order.
func (c *ArityChecker) Symbols() []string {
	out := make([]string, 0, len(c.arities))
	for name := range c.arities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *ArityChecker) clone() *ArityChecker {
	cp := NewArityChecker()
	for k, v := range c.arities {
		cp.arities[k] = v
	}
	return cp
}
