package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

// ReportRepository encapsulates report evidence persistence. The lifecycle
// core consumes reports read-only.
type ReportRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Report, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Report, error)
}

type reportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository instantiates the repository.
func NewReportRepository(pool *pgxpool.Pool) ReportRepository {
	return &reportRepository{pool: pool}
}

func (r *reportRepository) GetByID(ctx context.Context, id string) (*domain.Report, error) {
	const query = `
        SELECT id, ticket_id, provider_id, subject, category, received_at
        FROM reports WHERE id=$1`
	var report domain.Report
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&report.ID,
		&report.TicketID,
		&report.ProviderID,
		&report.Subject,
		&report.Category,
		&report.ReceivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, util.NewNotFound("report", map[string]any{"id": id})
	}
	if err != nil {
		return nil, err
	}
	items, err := r.itemsFor(ctx, report.ID)
	if err != nil {
		return nil, err
	}
	report.Items = items
	return &report, nil
}

func (r *reportRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Report, error) {
	const query = `
        SELECT id, ticket_id, provider_id, subject, category, received_at
        FROM reports WHERE ticket_id=$1 ORDER BY received_at`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		var report domain.Report
		if err := rows.Scan(
			&report.ID,
			&report.TicketID,
			&report.ProviderID,
			&report.Subject,
			&report.Category,
			&report.ReceivedAt,
		); err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range reports {
		items, err := r.itemsFor(ctx, reports[i].ID)
		if err != nil {
			return nil, err
		}
		reports[i].Items = items
	}
	return reports, nil
}

func (r *reportRepository) itemsFor(ctx context.Context, reportID string) ([]domain.ReportItem, error) {
	const query = `
        SELECT id, report_id, item_type, raw_item,
               COALESCE(ip,''), COALESCE(fqdn,''), COALESCE(url,''), COALESCE(fqdn_resolved,''), down
        FROM report_items WHERE report_id=$1`
	rows, err := r.pool.Query(ctx, query, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ReportItem
	for rows.Next() {
		var item domain.ReportItem
		if err := rows.Scan(
			&item.ID,
			&item.ReportID,
			&item.ItemType,
			&item.RawItem,
			&item.IP,
			&item.FQDN,
			&item.URL,
			&item.FQDNResolved,
			&item.Down,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
