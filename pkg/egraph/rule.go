package egraph

import (
	"fmt"
	"strconv"
	"strings"
)

// labelIndexPrefix marks positional labels in their string form.
const labelIndexPrefix = "#"

// RuleLabel identifies a rewrite rule. It is either an explicit name or the
// rule's position in its rule set. Labels are comparable and may be used as
// map keys.
type RuleLabel struct {
	name  string
	index int
	named bool
	set   bool
}

// NamedLabel creates an explicit label.
func NamedLabel(name string) RuleLabel {
	return RuleLabel{name: name, named: true, set: true}
}

// IndexLabel creates a positional label.
func IndexLabel(index int) RuleLabel {
	return RuleLabel{index: index, set: true}
}

// ParseLabel parses the String form of a label: "#3" is positional, anything
// else is a name.
func ParseLabel(s string) (RuleLabel, error) {
	if s == "" {
		return RuleLabel{}, configError(RuleLabel{}, ErrInvalidLabel, "empty label")
	}
	if strings.HasPrefix(s, labelIndexPrefix) {
		i, err := strconv.Atoi(strings.TrimPrefix(s, labelIndexPrefix))
		if err != nil || i < 0 {
			return RuleLabel{}, configError(RuleLabel{}, ErrInvalidLabel, "%q is not a positional label", s)
		}
		return IndexLabel(i), nil
	}
	return NamedLabel(s), nil
}

// IsZero reports whether the label is unset.
func (l RuleLabel) IsZero() bool { return !l.set }

// IsNamed reports whether the label is an explicit name.
func (l RuleLabel) IsNamed() bool { return l.named }

// Name returns the explicit name, or "" for positional labels.
func (l RuleLabel) Name() string { return l.name }

// Index returns the position for positional labels, or -1.
func (l RuleLabel) Index() int {
	if l.named || !l.set {
		return -1
	}
	return l.index
}

// String returns the name, or #<index> for positional labels.
func (l RuleLabel) String() string {
	switch {
	case !l.set:
		return "<unset>"
	case l.named:
		return l.name
	default:
		return labelIndexPrefix + strconv.Itoa(l.index)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l RuleLabel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *RuleLabel) UnmarshalText(b []byte) error {
	parsed, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Rule is a compiled rewrite rule: whenever LHS matches a class, the
// instantiated RHS is merged into that class.
type Rule struct {
	Label RuleLabel
	LHS   Pattern
	RHS   Pattern
}

// NewRule compiles a rule from two terms. Every variable used by rhs must be
// bound by lhs.
func NewRule(label RuleLabel, lhs, rhs Term) (*Rule, error) {
	if label.IsZero() {
		return nil, configError(label, ErrInvalidLabel, "rule has no label")
	}
	if lhs == nil || rhs == nil {
		return nil, configError(label, ErrNilTerm, "rule side is nil")
	}
	l, err := CompilePattern(lhs)
	if err != nil {
		return nil, err
	}
	r, err := CompilePattern(rhs)
	if err != nil {
		return nil, err
	}
	rule := &Rule{Label: label, LHS: l, RHS: r}
	if err := rule.validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// validate checks a rule that may have been assembled by hand: it needs a
// label, both sides, and every variable of RHS bound by LHS.
func (r *Rule) validate() error {
	if r.Label.IsZero() {
		return configError(r.Label, ErrInvalidLabel, "rule has no label")
	}
	if r.LHS == nil || r.RHS == nil {
		return configError(r.Label, ErrNilTerm, "rule side is nil")
	}
	bound := make(map[string]bool)
	for _, v := range PatternVars(r.LHS) {
		bound[v] = true
	}
	for _, v := range PatternVars(r.RHS) {
		if !bound[v] {
			return configError(r.Label, ErrUnboundVariable, "variable %s", v)
		}
	}
	return nil
}

// MustRule is like NewRule but panics on error. It is intended for tests and
// statically known rule sets.
func MustRule(label RuleLabel, lhs, rhs Term) *Rule {
	r, err := NewRule(label, lhs, rhs)
	if err != nil {
		panic(err)
	}
	return r
}

// String renders the rule as label: lhs -> rhs.
func (r *Rule) String() string {
	return fmt.Sprintf("%s: %s -> %s", r.Label, r.LHS, r.RHS)
}

// RuleSet is an ordered collection of rules with unique labels.
type RuleSet struct {
	rules   []*Rule
	byLabel map[RuleLabel]*Rule
}

// NewRuleSet validates that labels are unique, that explicit names do not
// collide with the positional form and that every rule is well formed, since
// Rule values can be built without NewRule.
func NewRuleSet(rules ...*Rule) (*RuleSet, error) {
	rs := &RuleSet{
		rules:   make([]*Rule, 0, len(rules)),
		byLabel: make(map[RuleLabel]*Rule, len(rules)),
	}
	for _, r := range rules {
		if r == nil {
			return nil, configError(RuleLabel{}, ErrNilTerm, "nil rule")
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
		if r.Label.IsNamed() && strings.HasPrefix(r.Label.Name(), labelIndexPrefix) {
			return nil, configError(r.Label, ErrInvalidLabel, "names may not start with %q", labelIndexPrefix)
		}
		if _, dup := rs.byLabel[r.Label]; dup {
			return nil, configError(r.Label, ErrDuplicateRule, "")
		}
		rs.byLabel[r.Label] = r
		rs.rules = append(rs.rules, r)
	}
	return rs, nil
}

// Rules returns the rules in declaration order. The slice must not be modified.
func (rs *RuleSet) Rules() []*Rule { return rs.rules }

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Get returns the rule with the given label.
func (rs *RuleSet) Get(label RuleLabel) (*Rule, bool) {
	r, ok := rs.byLabel[label]
	return r, ok
}

// Labels returns the labels in declaration order.
func (rs *RuleSet) Labels() []RuleLabel {
	out := make([]RuleLabel, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.Label
	}
	return out
}
