// Package policy resolves which remediation action applies to a ticket at
// timeout. The Service interface is the stable contract; the static table
// implementation is a default meant to be swapped for an operator-specific
// one.
package policy

import (
	"context"
	"strings"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
)

// Service resolves the remediation action for a timed-out ticket. A nil
// action with a nil error means "no action applies".
type Service interface {
	ActionForTimeout(ctx context.Context, ticket *domain.Ticket) (*domain.Action, error)
}

// StaticPolicy maps service component types to actions.
type StaticPolicy struct {
	byComponent map[string]domain.Action
}

// NewStaticPolicy builds a policy from a component-type table.
func NewStaticPolicy(actions map[string]domain.Action) *StaticPolicy {
	normalized := make(map[string]domain.Action, len(actions))
	for component, action := range actions {
		normalized[strings.ToLower(component)] = action
	}
	return &StaticPolicy{byComponent: normalized}
}

// ActionForTimeout picks the action configured for the ticket's service
// component type.
func (p *StaticPolicy) ActionForTimeout(ctx context.Context, ticket *domain.Ticket) (*domain.Action, error) {
	if ticket.Service == nil {
		return nil, nil
	}
	action, ok := p.byComponent[strings.ToLower(ticket.Service.ComponentType)]
	if !ok {
		return nil, nil
	}
	copied := action
	return &copied, nil
}
