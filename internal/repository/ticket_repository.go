package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Update(ctx context.Context, ticket *domain.Ticket) error
	ListByStatus(ctx context.Context, status domain.TicketStatus) ([]domain.Ticket, error)
	// SetAlarmForOperator flips the alarm flag on every ticket assigned to
	// the operator whose status is not in excluded. Bulk and idempotent.
	SetAlarmForOperator(ctx context.Context, operatorID string, alarm bool, excluded []domain.TicketStatus) error
	AddTag(ctx context.Context, ticketID, tagID string) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `
        t.id, t.public_id, t.status, t.previous_status, t.category,
        t.treated_by, t.escalated, t.alarm,
        t.snooze_start, t.snooze_duration_sec, t.pause_start, t.pause_duration_sec,
        t.action_id, t.resolution, t.created_at, t.updated_at, t.closed_at,
        d.id, d.email, d.lang,
        s.id, s.name, s.component_type`

const ticketFrom = `
        FROM tickets t
        LEFT JOIN defendants d ON d.id = t.defendant_id
        LEFT JOIN services s ON s.id = t.service_id`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := "SELECT" + ticketColumns + ticketFrom + " WHERE t.id=$1"
	row := r.pool.QueryRow(ctx, query, id)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, util.NewNotFound("ticket", map[string]any{"id": id})
	}
	if err != nil {
		return nil, err
	}
	tags, err := r.tagsFor(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	ticket.Tags = tags
	return ticket, nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, previous_status=$2, treated_by=$3, escalated=$4, alarm=$5,
            snooze_start=$6, snooze_duration_sec=$7, pause_start=$8, pause_duration_sec=$9,
            action_id=$10, resolution=$11, closed_at=$12, updated_at=NOW()
        WHERE id=$13`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Status,
		nullStatus(ticket.PreviousStatus),
		ticket.TreatedBy,
		ticket.Escalated,
		ticket.Alarm,
		ticket.SnoozeStart,
		int64(ticket.SnoozeDuration/time.Second),
		ticket.PauseStart,
		int64(ticket.PauseDuration/time.Second),
		ticket.ActionID,
		nullString(ticket.Resolution),
		ticket.ClosedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return util.NewNotFound("ticket", map[string]any{"id": ticket.ID})
	}
	return nil
}

func (r *ticketRepository) ListByStatus(ctx context.Context, status domain.TicketStatus) ([]domain.Ticket, error) {
	query := "SELECT" + ticketColumns + ticketFrom + " WHERE t.status=$1 ORDER BY t.updated_at"
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) SetAlarmForOperator(ctx context.Context, operatorID string, alarm bool, excluded []domain.TicketStatus) error {
	clauses := []string{"treated_by=$1"}
	args := []any{operatorID, alarm}
	for _, status := range excluded {
		args = append(args, status)
		clauses = append(clauses, fmt.Sprintf("status <> $%d", len(args)))
	}
	query := fmt.Sprintf("UPDATE tickets SET alarm=$2, updated_at=NOW() WHERE %s", strings.Join(clauses, " AND "))
	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

func (r *ticketRepository) AddTag(ctx context.Context, ticketID, tagID string) error {
	const query = `
        INSERT INTO ticket_tags (ticket_id, tag_id) VALUES ($1,$2)
        ON CONFLICT DO NOTHING`
	_, err := r.pool.Exec(ctx, query, ticketID, tagID)
	return err
}

func (r *ticketRepository) tagsFor(ctx context.Context, ticketID string) ([]string, error) {
	const query = `
        SELECT tg.name FROM ticket_tags tt
        JOIN tags tg ON tg.id = tt.tag_id
        WHERE tt.ticket_id=$1`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket         domain.Ticket
		previousStatus *string
		snoozeSec      int64
		pauseSec       int64
		resolution     *string
		defID          *string
		defEmail       *string
		defLang        *string
		svcID          *string
		svcName        *string
		svcComponent   *string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.PublicID,
		&ticket.Status,
		&previousStatus,
		&ticket.Category,
		&ticket.TreatedBy,
		&ticket.Escalated,
		&ticket.Alarm,
		&ticket.SnoozeStart,
		&snoozeSec,
		&ticket.PauseStart,
		&pauseSec,
		&ticket.ActionID,
		&resolution,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
		&defID,
		&defEmail,
		&defLang,
		&svcID,
		&svcName,
		&svcComponent,
	); err != nil {
		return nil, err
	}
	if previousStatus != nil {
		ticket.PreviousStatus = domain.TicketStatus(*previousStatus)
	}
	ticket.SnoozeDuration = time.Duration(snoozeSec) * time.Second
	ticket.PauseDuration = time.Duration(pauseSec) * time.Second
	if resolution != nil {
		ticket.Resolution = *resolution
	}
	if defID != nil {
		ticket.Defendant = &domain.Defendant{ID: *defID, Email: deref(defEmail), Lang: deref(defLang)}
	}
	if svcID != nil {
		ticket.Service = &domain.Service{ID: *svcID, Name: deref(svcName), ComponentType: deref(svcComponent)}
	}
	return &ticket, nil
}

func nullStatus(status domain.TicketStatus) *string {
	if status == "" {
		return nil
	}
	s := string(status)
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
