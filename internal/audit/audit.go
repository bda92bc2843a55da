// Package audit records ticket actions in the append-only history log.
// Writes are best effort: a failed audit entry is logged and never fails
// the calling flow.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/internal/repository"
)

// Log is the append-only ticket action trail.
type Log interface {
	// TicketAction records an action on a ticket with free-form context.
	TicketAction(ctx context.Context, ticketID string, action domain.HistoryActionType, fields map[string]any)
	// StatusChange records a status transition, keeping the new status
	// queryable for the auto-unassignment heuristic.
	StatusChange(ctx context.Context, ticketID string, operatorID *string, status domain.TicketStatus)
}

type historyLog struct {
	history repository.HistoryRepository
	logger  *zap.Logger
}

// NewHistoryLog builds a Log writing through the history repository.
func NewHistoryLog(history repository.HistoryRepository, logger *zap.Logger) Log {
	return &historyLog{history: history, logger: logger}
}

func (l *historyLog) TicketAction(ctx context.Context, ticketID string, action domain.HistoryActionType, fields map[string]any) {
	entry := &domain.TicketHistory{
		TicketID:   ticketID,
		ActionType: action,
		Context:    fields,
	}
	if err := l.history.Create(ctx, entry); err != nil {
		l.logger.Error("audit write failed",
			zap.String("ticket", ticketID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func (l *historyLog) StatusChange(ctx context.Context, ticketID string, operatorID *string, status domain.TicketStatus) {
	entry := &domain.TicketHistory{
		TicketID:     ticketID,
		OperatorID:   operatorID,
		ActionType:   domain.ActionChangeStatus,
		TicketStatus: status,
	}
	if err := l.history.Create(ctx, entry); err != nil {
		l.logger.Error("audit write failed",
			zap.String("ticket", ticketID),
			zap.String("action", string(domain.ActionChangeStatus)),
			zap.Error(err))
	}
}
