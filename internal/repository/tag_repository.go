package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

// TagRepository resolves ticket tags by name.
type TagRepository interface {
	GetByName(ctx context.Context, name string) (*domain.Tag, error)
}

type tagRepository struct {
	pool *pgxpool.Pool
}

// NewTagRepository instantiates the repository.
func NewTagRepository(pool *pgxpool.Pool) TagRepository {
	return &tagRepository{pool: pool}
}

func (r *tagRepository) GetByName(ctx context.Context, name string) (*domain.Tag, error) {
	const query = `SELECT id, name FROM tags WHERE name=$1`
	var tag domain.Tag
	err := r.pool.QueryRow(ctx, query, name).Scan(&tag.ID, &tag.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, util.NewNotFound("tag", map[string]any{"name": name})
	}
	if err != nil {
		return nil, err
	}
	return &tag, nil
}
