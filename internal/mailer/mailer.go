// Package mailer defines the notification contract the lifecycle core
// consumes and its SMTP implementation.
package mailer

import (
	"context"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
)

// Template codenames used by the lifecycle controller.
const (
	TemplateCaseClosed     = "case_closed"
	TemplateTicketClosed   = "ticket_closed"
	TemplateServiceBlocked = "service_blocked"
)

// Mailer sends templated lifecycle notifications. Implementations must be
// safe for concurrent use by multiple sweep workers.
type Mailer interface {
	// SendEmail renders the template identified by codename in the given
	// language (empty means the default) and sends it to every recipient.
	SendEmail(ctx context.Context, ticket *domain.Ticket, recipients []string, codename, lang string) error
	// CloseThread marks the ticket's email conversation as closed.
	CloseThread(ctx context.Context, ticket *domain.Ticket) error
}

// Template is one localized mail body.
type Template struct {
	Subject string
	Body    string
}
