package rules

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Node is one node of a rule's condition tree: either a combinator
// ("all"/"any" of child nodes) or a leaf predicate comparing a named
// variable against a value.
type Node struct {
	All      []Node   `json:"all,omitempty"`
	Any      []Node   `json:"any,omitempty"`
	Name     string   `json:"name,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`
}

// IsLeaf reports whether the node is a leaf predicate.
func (n Node) IsLeaf() bool {
	return n.Name != ""
}

// ActionCall names an action to execute with its declared parameters.
type ActionCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule is a named, versioned condition/action configuration.
type Rule struct {
	Name       string       `json:"name"`
	Version    int          `json:"version,omitempty"`
	Conditions Node         `json:"conditions"`
	Actions    []ActionCall `json:"actions"`
}

// ParseRule decodes a rule configuration from its JSON form.
func ParseRule(raw []byte) (Rule, error) {
	var rule Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return Rule{}, fmt.Errorf("parse rule: %w", err)
	}
	if err := checkShape(rule.Conditions); err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	return rule, nil
}

// StripConditions returns a copy of the rule with the named leaf conditions
// removed from the top-level "all" list. Used when re-qualifying a ticket
// where some predicates are already known to hold.
func (r Rule) StripConditions(names ...string) Rule {
	skip := make(map[string]bool, len(names))
	for _, name := range names {
		skip[name] = true
	}
	kept := make([]Node, 0, len(r.Conditions.All))
	for _, child := range r.Conditions.All {
		if child.IsLeaf() && skip[child.Name] {
			continue
		}
		kept = append(kept, child)
	}
	out := r
	out.Conditions = Node{All: kept}
	return out
}

func checkShape(node Node) error {
	kinds := 0
	if node.All != nil {
		kinds++
	}
	if node.Any != nil {
		kinds++
	}
	if node.IsLeaf() {
		kinds++
	}
	if kinds > 1 {
		return errors.New("condition node mixes all/any/leaf forms")
	}
	if node.IsLeaf() && node.Operator == "" {
		return fmt.Errorf("leaf condition %q is missing an operator", node.Name)
	}
	for _, child := range node.All {
		if err := checkShape(child); err != nil {
			return err
		}
	}
	for _, child := range node.Any {
		if err := checkShape(child); err != nil {
			return err
		}
	}
	return nil
}
