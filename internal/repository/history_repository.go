package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
)

// HistoryRepository encapsulates the append-only ticket action log.
type HistoryRepository interface {
	Create(ctx context.Context, entry *domain.TicketHistory) error
	// LastStatuses returns the ticket statuses of the most recent
	// change_status entries, newest first.
	LastStatuses(ctx context.Context, ticketID string, limit int) ([]domain.TicketStatus, error)
}

type historyRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository instantiates the repository.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepository{pool: pool}
}

func (r *historyRepository) Create(ctx context.Context, entry *domain.TicketHistory) error {
	payload, err := json.Marshal(entry.Context)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO ticket_history (ticket_id, operator_id, action_type, ticket_status, context)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, date`
	return r.pool.QueryRow(ctx, query,
		entry.TicketID,
		entry.OperatorID,
		entry.ActionType,
		nullStatus(entry.TicketStatus),
		payload,
	).Scan(&entry.ID, &entry.Date)
}

func (r *historyRepository) LastStatuses(ctx context.Context, ticketID string, limit int) ([]domain.TicketStatus, error) {
	const query = `
        SELECT ticket_status FROM ticket_history
        WHERE ticket_id=$1 AND action_type=$2 AND ticket_status IS NOT NULL
        ORDER BY date DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, ticketID, domain.ActionChangeStatus, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []domain.TicketStatus
	for rows.Next() {
		var status domain.TicketStatus
		if err := rows.Scan(&status); err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}
