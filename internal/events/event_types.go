package events

import (
	"time"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketClosed        EventType = "ticket_closed"
	EventActionDispatched    EventType = "action_dispatched"
	EventJobsCancelled       EventType = "jobs_cancelled"
	EventTicketUnassigned    EventType = "ticket_unassigned"
)

// Event represents a lifecycle event emitted by the controller.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	Resolution     string `json:"resolution"`
	ServiceBlocked bool   `json:"service_blocked"`
}

// ActionDispatchedPayload payload.
type ActionDispatchedPayload struct {
	ActionName string `json:"action_name"`
	IP         string `json:"ip"`
	AsyncJobID string `json:"async_job_id"`
}

// JobsCancelledPayload payload.
type JobsCancelledPayload struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// TicketUnassignedPayload payload.
type TicketUnassignedPayload struct {
	PreviousOperator string `json:"previous_operator"`
}
