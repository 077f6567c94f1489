package egraph

import (
	"errors"
	"fmt"
)

// Configuration errors. They are detected before any engine state is
// mutated and are returned to the caller verbatim.
var (
	ErrDuplicateRule    = errors.New("duplicate rewrite rule label")
	ErrUnknownRule      = errors.New("unknown rewrite rule label")
	ErrInvalidLabel     = errors.New("invalid rewrite rule label")
	ErrArityMismatch    = errors.New("inconsistent function arity")
	ErrUnboundVariable  = errors.New("right-hand side uses a variable not bound by the left-hand side")
	ErrGenericInProgram = errors.New("generic variable outside of a rewrite rule")
	ErrNilTerm          = errors.New("nil term")
	ErrNilStrategy      = errors.New("nil step strategy")
)

// Structural errors. They are reported per call and do not corrupt the store.
var (
	ErrCyclicClass = errors.New("class has no finite term")
)

// Internal invariant violations. These indicate misuse of the API.
var (
	ErrUnknownClass = errors.New("class id does not exist")
	ErrNeedsRebuild = errors.New("e-graph is dirty; call Rebuild first")
)

// ErrNoHistory is returned by Engine.Back when no step has been taken.
var ErrNoHistory = errors.New("no step to go back from")

// ConfigurationError reports an invalid rule set, rule request or input term.
type ConfigurationError struct {
	Label  RuleLabel
	Detail string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if !e.Label.IsZero() {
		msg += fmt.Sprintf(" (rule %s)", e.Label)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StructuralError reports that extraction could not produce a term for Class.
// The caller may retry after further rewriting changes the graph.
type StructuralError struct {
	Class ClassID
	Err   error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error at %s: %v", e.Class, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// InvariantError reports a programming-contract violation such as a class id
// that was never allocated by this graph.
type InvariantError struct {
	Op    string
	Class ClassID
	Err   error
}

func (e *InvariantError) Error() string {
	if errors.Is(e.Err, ErrUnknownClass) {
		return fmt.Sprintf("internal error in %s: %v: %d", e.Op, e.Err, uint32(e.Class))
	}
	return fmt.Sprintf("internal error in %s: %v", e.Op, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

func configError(label RuleLabel, err error, format string, args ...interface{}) error {
	return &ConfigurationError{Label: label, Err: err, Detail: fmt.Sprintf(format, args...)}
}
