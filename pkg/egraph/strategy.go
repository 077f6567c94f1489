package egraph

import (
	"strings"
)

// Strategy decides which rules may fire during one step. The engine owns the
// saturation loop and consults the strategy once per step, before any state
// is mutated, so a strategy error leaves the graph untouched.
type Strategy interface {
	// Permit returns the rules allowed to fire, in the order they should be
	// searched and applied.
	Permit(rules *RuleSet) ([]*Rule, error)

	// String describes the strategy for reports and logs.
	String() string
}

// Only permits exactly one rule. Requesting a label that is not in the rule
// set is a configuration error.
func Only(label RuleLabel) Strategy {
	return onlyStrategy{label: label}
}

type onlyStrategy struct {
	label RuleLabel
}

func (s onlyStrategy) Permit(rules *RuleSet) ([]*Rule, error) {
	r, ok := rules.Get(s.label)
	if !ok {
		return nil, configError(s.label, ErrUnknownRule, "")
	}
	return []*Rule{r}, nil
}

func (s onlyStrategy) String() string { return "only(" + s.label.String() + ")" }

// Auto permits every rule, in declaration order.
func Auto() Strategy {
	return autoStrategy{}
}

type autoStrategy struct{}

func (autoStrategy) Permit(rules *RuleSet) ([]*Rule, error) {
	return rules.Rules(), nil
}

func (autoStrategy) String() string { return "auto" }

// Subset permits the listed rules, in rule-set declaration order.
// Every label must exist.
func Subset(labels ...RuleLabel) Strategy {
	return subsetStrategy{labels: labels}
}

type subsetStrategy struct {
	labels []RuleLabel
}

func (s subsetStrategy) Permit(rules *RuleSet) ([]*Rule, error) {
	want := make(map[RuleLabel]bool, len(s.labels))
	for _, l := range s.labels {
		if _, ok := rules.Get(l); !ok {
			return nil, configError(l, ErrUnknownRule, "")
		}
		want[l] = true
	}
	var out []*Rule
	for _, r := range rules.Rules() {
		if want[r.Label] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s subsetStrategy) String() string {
	parts := make([]string, len(s.labels))
	for i, l := range s.labels {
		parts[i] = l.String()
	}
	return "subset(" + strings.Join(parts, ",") + ")"
}
