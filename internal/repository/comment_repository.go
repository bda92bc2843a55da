package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
)

// CommentRepository persists operator and bot comments on tickets.
type CommentRepository interface {
	Create(ctx context.Context, comment *domain.Comment) error
}

type commentRepository struct {
	pool *pgxpool.Pool
}

// NewCommentRepository instantiates the repository.
func NewCommentRepository(pool *pgxpool.Pool) CommentRepository {
	return &commentRepository{pool: pool}
}

func (r *commentRepository) Create(ctx context.Context, comment *domain.Comment) error {
	const query = `
        INSERT INTO ticket_comments (ticket_id, operator_id, body)
        VALUES ($1,$2,$3)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		comment.TicketID,
		comment.OperatorID,
		comment.Body,
	).Scan(&comment.ID, &comment.CreatedAt)
}
