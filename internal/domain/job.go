package domain

import "time"

// ServiceActionJobStatus enumerates remediation job states.
type ServiceActionJobStatus string

const (
	JobStatusPending   ServiceActionJobStatus = "pending"
	JobStatusCompleted ServiceActionJobStatus = "completed"
)

// ServiceActionJob records one scheduled remediation attempt against a
// defendant's service. AsyncJobID is the handle in the external scheduler.
type ServiceActionJob struct {
	ID         string
	TicketID   string
	IP         string
	ActionID   string
	AsyncJobID string
	Status     string
	CreatedAt  time.Time
}

// Action is a named remediation policy resolved for a ticket/service pair,
// immutable once chosen for a dispatch.
type Action struct {
	ID     string
	Name   string
	Module string
	Level  string
}
