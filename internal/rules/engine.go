package rules

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrActionFailed distinguishes "rule matched but an action failed" from
// "rule did not match". Run still returns matched == true alongside it;
// partial action application is possible and callers decide retry policy.
var ErrActionFailed = errors.New("rule action failed")

// Engine evaluates condition trees and executes their actions. The engine
// itself never touches ticket state; all side effects go through the
// provided executor.
type Engine struct {
	logger *zap.Logger
}

// NewEngine constructs the engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Validate checks every condition and action name against the registries.
// Call it at configuration-load time so unknown names fail fast instead of
// at evaluation time.
func (e *Engine) Validate(rule Rule, vars VariableProvider, actions ActionExecutor) error {
	if err := checkShape(rule.Conditions); err != nil {
		return fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	if err := validateNode(rule.Conditions, vars); err != nil {
		return fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	for _, call := range rule.Actions {
		if !actions.Has(call.Name) {
			return fmt.Errorf("rule %q: action %q not registered", rule.Name, call.Name)
		}
	}
	return nil
}

// Run evaluates the rule's condition tree and, if satisfied, executes its
// actions in declared order. The boolean reports whether the conditions
// matched; an ErrActionFailed-wrapped error reports action failure without
// reverting the match verdict.
func (e *Engine) Run(ctx context.Context, rule Rule, vars VariableProvider, actions ActionExecutor) (bool, error) {
	if err := e.Validate(rule, vars, actions); err != nil {
		return false, err
	}

	matched, err := e.evalNode(ctx, rule.Conditions, vars)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	if !matched {
		return false, nil
	}

	for _, call := range rule.Actions {
		if err := actions.Execute(ctx, call.Name, call.Params); err != nil {
			e.logger.Error("rule action failed",
				zap.String("rule", rule.Name),
				zap.String("action", call.Name),
				zap.Error(err))
			return true, fmt.Errorf("rule %q action %q: %v: %w", rule.Name, call.Name, err, ErrActionFailed)
		}
	}
	return true, nil
}

// evalNode short-circuits: "all" fails on the first false child, "any"
// succeeds on the first true child. Empty "all" is true, empty "any" false.
func (e *Engine) evalNode(ctx context.Context, node Node, vars VariableProvider) (bool, error) {
	switch {
	case node.IsLeaf():
		return e.evalLeaf(ctx, node, vars)
	case node.Any != nil:
		for _, child := range node.Any {
			ok, err := e.evalNode(ctx, child, vars)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		for _, child := range node.All {
			ok, err := e.evalNode(ctx, child, vars)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

func (e *Engine) evalLeaf(ctx context.Context, node Node, vars VariableProvider) (bool, error) {
	value, err := vars.Resolve(ctx, node.Name)
	if err != nil {
		return false, err
	}
	ok, err := Compare(value, node.Operator, node.Value)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", node.Name, err)
	}
	return ok, nil
}

func validateNode(node Node, vars VariableProvider) error {
	if node.IsLeaf() {
		if !vars.Has(node.Name) {
			return fmt.Errorf("condition %q not registered", node.Name)
		}
		return nil
	}
	for _, child := range node.All {
		if err := validateNode(child, vars); err != nil {
			return err
		}
	}
	for _, child := range node.Any {
		if err := validateNode(child, vars); err != nil {
			return err
		}
	}
	return nil
}
