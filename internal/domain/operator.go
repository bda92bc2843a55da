package domain

import "time"

// RoleAuthorizations maps model name to per-flag booleans, e.g.
// ticket -> unassignedOnMultipleAlarm. Missing keys mean the feature is
// disabled, never an error.
type RoleAuthorizations map[string]map[string]bool

// Allows reports whether the given model/flag pair is authorized.
func (a RoleAuthorizations) Allows(model, flag string) bool {
	if a == nil {
		return false
	}
	flags, ok := a[model]
	if !ok {
		return false
	}
	return flags[flag]
}

// Role is an operator role with its model authorizations.
type Role struct {
	ID             string
	Codename       string
	Authorizations RoleAuthorizations
}

// Operator is a human (or bot) handling tickets.
type Operator struct {
	ID        string
	Username  string
	Email     string
	IsBot     bool
	Role      *Role
	LastLogin *time.Time
}
