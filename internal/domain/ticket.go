package domain

import "time"

// TicketStatus enumerates lifecycle states for abuse tickets.
type TicketStatus string

const (
	TicketStatusOpen          TicketStatus = "Open"
	TicketStatusReopened      TicketStatus = "Reopened"
	TicketStatusWaitingAnswer TicketStatus = "WaitingAnswer"
	TicketStatusAlarm         TicketStatus = "Alarm"
	TicketStatusPaused        TicketStatus = "Paused"
	TicketStatusAnswered      TicketStatus = "Answered"
	TicketStatusClosed        TicketStatus = "Closed"
	TicketStatusActionError   TicketStatus = "ActionError"
)

// TicketCategory enumerates abuse categories.
type TicketCategory string

const (
	CategoryPhishing  TicketCategory = "phishing"
	CategoryCopyright TicketCategory = "copyright"
	CategoryIllegal   TicketCategory = "illegal"
	CategorySpam      TicketCategory = "spam"
	CategoryMalware   TicketCategory = "malware"
	CategoryIntrusion TicketCategory = "intrusion"
	CategoryOther     TicketCategory = "other"
)

// Defendant identifies the customer an abuse case is opened against.
type Defendant struct {
	ID    string
	Email string
	Lang  string
}

// Service is the defendant's service targeted by the abuse case.
type Service struct {
	ID            string
	Name          string
	ComponentType string
}

// Ticket is the aggregate for abuse cases. Exactly one of the snooze or
// pause timers may be active at a time; PreviousStatus is only meaningful
// while the ticket is paused.
type Ticket struct {
	ID             string
	PublicID       string
	Status         TicketStatus
	PreviousStatus TicketStatus
	Category       TicketCategory
	Defendant      *Defendant
	Service        *Service
	TreatedBy      *string
	Escalated      bool
	Alarm          bool
	SnoozeStart    *time.Time
	SnoozeDuration time.Duration
	PauseStart     *time.Time
	PauseDuration  time.Duration
	ActionID       *string
	Resolution     string
	Tags           []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// SnoozeActive reports whether the deferred-wake timer is armed.
func (t *Ticket) SnoozeActive() bool {
	return t.SnoozeStart != nil && t.SnoozeDuration > 0
}

// PauseActive reports whether the freeze timer is armed.
func (t *Ticket) PauseActive() bool {
	return t.PauseStart != nil && t.PauseDuration > 0
}

// SnoozeExpired reports whether the snooze window elapsed at the given time.
func (t *Ticket) SnoozeExpired(now time.Time) bool {
	return t.SnoozeActive() && now.After(t.SnoozeStart.Add(t.SnoozeDuration))
}

// PauseExpired reports whether the pause window elapsed at the given time.
func (t *Ticket) PauseExpired(now time.Time) bool {
	return t.PauseActive() && now.After(t.PauseStart.Add(t.PauseDuration))
}
