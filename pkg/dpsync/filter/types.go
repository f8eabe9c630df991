// Package filter evaluates declarative filter rules against catalog items and
// computes weighted priority scores used to order candidates within a budget.
//
// A Tree passes an item when every AND rule matches and, if any OR rules are
// present, at least one of them matches. A missing attribute fails an AND rule
// and is skipped in the OR group. Evaluation never errors.
package filter

import (
	"errors"
	"fmt"
	"strings"
)

// Operator is a comparison applied to one attribute.
type Operator string

// Supported operators.
const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpGlob     Operator = "glob"
	OpExists   Operator = "exists"
)

// operatorAliases maps symbolic spellings accepted in configuration files.
var operatorAliases = map[string]Operator{
	"=": OpEq, "==": OpEq, "!=": OpNe,
	">": OpGt, ">=": OpGte, "<": OpLt, "<=": OpLte,
	"~": OpContains, "matches": OpGlob,
}

// ErrInvalidOperator indicates that the operator string could not be parsed.
var ErrInvalidOperator = errors.New("invalid operator")

// ErrNegativeWeight indicates a priority rule with a negative weight.
var ErrNegativeWeight = errors.New("priority weight cannot be negative")

// ErrMissingAttribute indicates a rule without an attribute name.
var ErrMissingAttribute = errors.New("rule attribute is required")

// ParseOperator parses a string into an Operator. An empty string means OpEq.
func ParseOperator(s string) (Operator, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OpEq, nil
	}
	if op, ok := operatorAliases[s]; ok {
		return op, nil
	}
	switch op := Operator(s); op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpGlob, OpExists:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
}

// Rule is a single {attribute, operator, value} predicate.
type Rule struct {
	Attribute string   `json:"attribute" yaml:"attribute" mapstructure:"attribute"`
	Operator  Operator `json:"operator,omitempty" yaml:"operator,omitempty" mapstructure:"operator"`
	Value     string   `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`

	// Values is used by OpIn. A comma-separated Value is accepted as well.
	Values []string `json:"values,omitempty" yaml:"values,omitempty" mapstructure:"values"`
}

// String renders the rule for logs and reports.
func (r Rule) String() string {
	op := r.Operator
	if op == "" {
		op = OpEq
	}
	if op == OpExists {
		return r.Attribute + " exists"
	}
	if op == OpIn {
		return fmt.Sprintf("%s in [%s]", r.Attribute, strings.Join(r.inValues(), ","))
	}
	return fmt.Sprintf("%s %s %s", r.Attribute, op, r.Value)
}

// Validate checks the rule's operator and attribute, and compiles glob patterns.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Attribute) == "" {
		return ErrMissingAttribute
	}
	op, err := ParseOperator(string(r.Operator))
	if err != nil {
		return err
	}
	if op == OpGlob {
		if _, err := compileGlob(r.Value); err != nil {
			return fmt.Errorf("rule %q: %w", r.String(), err)
		}
	}
	return nil
}

// Tree is an AND group and an OR group of rules.
type Tree struct {
	And []Rule `json:"and,omitempty" yaml:"and,omitempty" mapstructure:"and"`
	Or  []Rule `json:"or,omitempty" yaml:"or,omitempty" mapstructure:"or"`
}

// Empty reports whether the tree has no rules and therefore passes everything.
func (t Tree) Empty() bool {
	return len(t.And) == 0 && len(t.Or) == 0
}

// Validate validates every rule in the tree.
func (t Tree) Validate() error {
	for _, group := range [][]Rule{t.And, t.Or} {
		for _, r := range group {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// PriorityRule adds Weight to an item's score when its rule matches.
// A rule with no operator and no value matches whenever the attribute exists.
type PriorityRule struct {
	Rule   `yaml:",inline" mapstructure:",squash"`
	Weight float64 `json:"weight" yaml:"weight" mapstructure:"weight"`
}

// Validate checks the embedded rule and rejects negative weights.
func (p PriorityRule) Validate() error {
	if p.Weight < 0 {
		return fmt.Errorf("%w: %s (%g)", ErrNegativeWeight, p.Attribute, p.Weight)
	}
	return p.Rule.Validate()
}
