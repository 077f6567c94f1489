// Package lispy parses the small s-expression language used to write
// programs and rewrite rules for the egraph package.
//
// The grammar is:
//
//	term     := symbol | '(' symbol term* ')'
//	symbol   := any run of characters other than whitespace, '(' and ')'
//
// A symbol in argument position that starts with the generic prefix ("?" by
// default) is a generic variable, allowed only in rewrite rules. Function
// names are never generic. Every function symbol must be used with a single
// arity across the program and all rules parsed by the same Parser.
//
// Example:
//
//	p := lispy.New(lispy.Options{})
//	program, _ := p.ParseProgram("(add x (add y z))")
//	rule, _ := p.ParseRule(egraph.NamedLabel("add_comm"), "(add ?a ?b)", "(add ?b ?a)")
package lispy

import (
	"fmt"
	"strings"

	"github.com/gitrdm/eggstep/pkg/egraph"
)

// DefaultGenericPrefix marks generic variables unless Options says otherwise.
const DefaultGenericPrefix = "?"

// Options configures a Parser.
type Options struct {
	// GenericPrefix marks generic variables. Empty selects "?".
	GenericPrefix string
}

// RuleSource is the textual form of one rewrite rule. An empty Label
// selects the rule's position in its list.
type RuleSource struct {
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
	Left  string `yaml:"left" json:"left" validate:"notblank"`
	Right string `yaml:"right" json:"right" validate:"notblank"`
}

// Parser turns source text into egraph terms and rules. It carries the arity
// checker shared by everything it parses.
type Parser struct {
	prefix string
	arity  *ArityChecker
}

// New creates a parser with a fresh arity checker.
func New(opts Options) *Parser {
	prefix := opts.GenericPrefix
	if prefix == "" {
		prefix = DefaultGenericPrefix
	}
	return &Parser{prefix: prefix, arity: NewArityChecker()}
}

// Arity returns the parser's arity checker.
func (p *Parser) Arity() *ArityChecker { return p.arity }

// GenericPrefix returns the prefix that marks generic variables.
func (p *Parser) GenericPrefix() string { return p.prefix }

// ParseProgram parses a program. Generic variables are rejected.
func (p *Parser) ParseProgram(src string) (egraph.Term, error) {
	t, err := p.parse(src, false, p.arity)
	if err != nil {
		err.Side = SideProgram
		return nil, err
	}
	return t, nil
}

// ParseRule parses both sides of a rule and compiles it. The arity checker
// is only updated when the whole rule is valid.
func (p *Parser) ParseRule(label egraph.RuleLabel, left, right string) (*egraph.Rule, error) {
	checker := p.arity.clone()
	lhs, perr := p.parse(left, true, checker)
	if perr != nil {
		perr.Side, perr.Label = SideLeft, label.String()
		return nil, perr
	}
	rhs, perr := p.parse(right, true, checker)
	if perr != nil {
		perr.Side, perr.Label = SideRight, label.String()
		return nil, perr
	}
	rule, err := egraph.NewRule(label, lhs, rhs)
	if err != nil {
		return nil, err
	}
	p.arity = checker
	return rule, nil
}

// ParseRules parses rules in order and collects them into a rule set.
// Rules without a label get their position, so "#2" names the third rule.
// Labels that collide, explicitly or through defaults, are rejected.
func (p *Parser) ParseRules(sources []RuleSource) (*egraph.RuleSet, error) {
	rules := make([]*egraph.Rule, 0, len(sources))
	for i, src := range sources {
		label := egraph.IndexLabel(i)
		if src.Label != "" {
			l, err := egraph.ParseLabel(src.Label)
			if err != nil {
				return nil, err
			}
			label = l
		}
		r, err := p.ParseRule(label, src.Left, src.Right)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return egraph.NewRuleSet(rules...)
}

// ParseProgram parses a program with a fresh parser.
func ParseProgram(src string, opts Options) (egraph.Term, error) {
	return New(opts).ParseProgram(src)
}

func (p *Parser) parse(src string, allowGenerics bool, checker *ArityChecker) (egraph.Term, *ParseError) {
	st := &state{lex: newLexer(src), prefix: p.prefix, generics: allowGenerics, arity: checker}
	t, err := st.term()
	if err != nil {
		return nil, err
	}
	if tok := st.lex.next(); tok.kind != tokEOF {
		return nil, &ParseError{Offset: tok.offset, Msg: fmt.Sprintf("unexpected %s %q after expression", tok.kind, tok.text)}
	}
	return t, nil
}

type state struct {
	lex      *lexer
	prefix   string
	generics bool
	arity    *ArityChecker
}

func (s *state) term() (egraph.Term, *ParseError) {
	tok := s.lex.next()
	switch tok.kind {
	case tokEOF:
		return nil, &ParseError{Offset: tok.offset, Msg: "empty expression"}
	case tokRParen:
		return nil, &ParseError{Offset: tok.offset, Msg: "expected function term or variable name, got ')'"}
	case tokSymbol:
		return s.variable(tok)
	}
	return s.invocation(tok)
}

func (s *state) variable(tok token) (egraph.Term, *ParseError) {
	if !strings.HasPrefix(tok.text, s.prefix) {
		return egraph.NewVariable(tok.text), nil
	}
	if !s.generics {
		return nil, &ParseError{
			Offset: tok.offset,
			Msg:    fmt.Sprintf("generic variable %q in program; names starting with %q are reserved for rewrite rules", tok.text, s.prefix),
			Err:    egraph.ErrGenericInProgram,
		}
	}
	return egraph.NewGeneric(tok.text), nil
}

// invocation parses the rest of a '(' form opened by open.
func (s *state) invocation(open token) (egraph.Term, *ParseError) {
	name := s.lex.next()
	switch name.kind {
	case tokLParen:
		return nil, &ParseError{Offset: name.offset, Msg: "function name expected, got '('"}
	case tokRParen:
		return nil, &ParseError{Offset: name.offset, Msg: "empty function body"}
	case tokEOF:
		return nil, &ParseError{Offset: open.offset, Msg: "unmatched '('"}
	}

	var args []egraph.Term
	for {
		switch s.lex.lookahead().kind {
		case tokRParen:
			s.lex.next()
			if prev, ok := s.arity.Check(name.text, len(args)); !ok {
				return nil, &ParseError{
					Offset: name.offset,
					Msg:    fmt.Sprintf("function %q used with %d arguments, but it was already declared with %d", name.text, len(args), prev),
					Err:    egraph.ErrArityMismatch,
				}
			}
			return egraph.NewInvocation(name.text, args...), nil
		case tokEOF:
			return nil, &ParseError{Offset: open.offset, Msg: "unmatched '('"}
		}
		arg, err := s.term()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
}
