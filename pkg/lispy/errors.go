package lispy

import (
	"fmt"
)

// Side names the part of a rewrite rule a parse error belongs to.
type Side int

const (
	// SideProgram marks errors in the program text.
	SideProgram Side = iota
	// SideLeft marks errors in a rule's left-hand side.
	SideLeft
	// SideRight marks errors in a rule's right-hand side.
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "program"
	}
}

// ParseError reports malformed input. Offset is the byte offset of the
// offending token. For rule sides, Side and Label identify the rule.
//
// Err, when set, is an egraph sentinel such as egraph.ErrArityMismatch or
// egraph.ErrGenericInProgram, so callers can use errors.Is uniformly.
type ParseError struct {
	Offset int
	Side   Side
	Label  string
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Side == SideProgram {
		return fmt.Sprintf("program: offset %d: %s", e.Offset, e.Msg)
	}
	return fmt.Sprintf("rule %s, %s side: offset %d: %s", e.Label, e.Side, e.Offset, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }
