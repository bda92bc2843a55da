package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
)

// JobRepository encapsulates service action job persistence.
type JobRepository interface {
	Create(ctx context.Context, job *domain.ServiceActionJob) error
	UpdateStatus(ctx context.Context, jobID, status string) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.ServiceActionJob, error)
	CountByTicket(ctx context.Context, ticketID string) (int, error)
}

type jobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository instantiates the repository.
func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &jobRepository{pool: pool}
}

func (r *jobRepository) Create(ctx context.Context, job *domain.ServiceActionJob) error {
	const query = `
        INSERT INTO service_action_jobs (ticket_id, ip, action_id, async_job_id, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		job.TicketID,
		job.IP,
		job.ActionID,
		job.AsyncJobID,
		job.Status,
	).Scan(&job.ID, &job.CreatedAt)
}

func (r *jobRepository) UpdateStatus(ctx context.Context, jobID, status string) error {
	const query = `UPDATE service_action_jobs SET status=$1 WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, status, jobID)
	return err
}

func (r *jobRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.ServiceActionJob, error) {
	const query = `
        SELECT id, ticket_id, ip, action_id, async_job_id, status, created_at
        FROM service_action_jobs WHERE ticket_id=$1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.ServiceActionJob
	for rows.Next() {
		var job domain.ServiceActionJob
		if err := rows.Scan(
			&job.ID,
			&job.TicketID,
			&job.IP,
			&job.ActionID,
			&job.AsyncJobID,
			&job.Status,
			&job.CreatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) CountByTicket(ctx context.Context, ticketID string) (int, error) {
	const query = `SELECT COUNT(*) FROM service_action_jobs WHERE ticket_id=$1`
	var count int
	err := r.pool.QueryRow(ctx, query, ticketID).Scan(&count)
	return count, err
}
