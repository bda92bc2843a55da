package domain

import "time"

// HistoryActionType enumerates audited ticket actions.
type HistoryActionType string

const (
	ActionChangeStatus         HistoryActionType = "change_status"
	ActionChangeTreatedBy      HistoryActionType = "change_treatedby"
	ActionUpdateProperty       HistoryActionType = "update_property"
	ActionSetAction            HistoryActionType = "set_action"
	ActionAddComment           HistoryActionType = "add_comment"
	ActionAddTag               HistoryActionType = "add_tag"
	ActionValidatePhishToCheck HistoryActionType = "validate_phishtocheck"
)

// TicketHistory is one append-only audit entry on a ticket.
type TicketHistory struct {
	ID           string
	TicketID     string
	OperatorID   *string
	ActionType   HistoryActionType
	TicketStatus TicketStatus
	Context      map[string]any
	Date         time.Time
}

// Comment is an operator (or bot) note attached to a ticket.
type Comment struct {
	ID         string
	TicketID   string
	OperatorID string
	Body       string
	CreatedAt  time.Time
}

// Tag is a label applied to tickets, e.g. autoclose markers.
type Tag struct {
	ID   string
	Name string
}

// ContactedProvider records that a provider was notified about a ticket.
type ContactedProvider struct {
	ID            string
	TicketID      string
	ProviderEmail string
	ContactedAt   time.Time
}
