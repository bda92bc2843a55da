package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

// OperatorRepository encapsulates operator lookups.
type OperatorRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Operator, error)
	// ListHumans returns every non-bot operator.
	ListHumans(ctx context.Context) ([]domain.Operator, error)
	// Bot returns the service account used for automated comments.
	Bot(ctx context.Context) (*domain.Operator, error)
}

type operatorRepository struct {
	pool *pgxpool.Pool
}

// NewOperatorRepository instantiates the repository.
func NewOperatorRepository(pool *pgxpool.Pool) OperatorRepository {
	return &operatorRepository{pool: pool}
}

const operatorSelect = `
        SELECT o.id, o.username, o.email, o.is_bot, o.last_login,
               r.id, r.codename, r.authorizations
        FROM operators o
        LEFT JOIN roles r ON r.id = o.role_id`

func (r *operatorRepository) GetByID(ctx context.Context, id string) (*domain.Operator, error) {
	op, err := r.fetchOne(ctx, operatorSelect+" WHERE o.id=$1", id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, util.NewNotFound("operator", map[string]any{"id": id})
	}
	return op, err
}

func (r *operatorRepository) ListHumans(ctx context.Context) ([]domain.Operator, error) {
	rows, err := r.pool.Query(ctx, operatorSelect+" WHERE NOT o.is_bot")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var operators []domain.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		operators = append(operators, *op)
	}
	return operators, rows.Err()
}

func (r *operatorRepository) Bot(ctx context.Context) (*domain.Operator, error) {
	op, err := r.fetchOne(ctx, operatorSelect+" WHERE o.is_bot ORDER BY o.username LIMIT 1")
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, util.NewNotFound("bot operator", nil)
	}
	return op, err
}

func (r *operatorRepository) fetchOne(ctx context.Context, query string, args ...any) (*domain.Operator, error) {
	return scanOperator(r.pool.QueryRow(ctx, query, args...))
}

func scanOperator(row pgx.Row) (*domain.Operator, error) {
	var (
		op        domain.Operator
		roleID    *string
		roleCode  *string
		roleAuths []byte
	)
	if err := row.Scan(
		&op.ID,
		&op.Username,
		&op.Email,
		&op.IsBot,
		&op.LastLogin,
		&roleID,
		&roleCode,
		&roleAuths,
	); err != nil {
		return nil, err
	}
	if roleID != nil {
		role := &domain.Role{ID: *roleID, Codename: deref(roleCode)}
		if len(roleAuths) > 0 {
			// unparseable authorizations degrade to "feature disabled"
			_ = json.Unmarshal(roleAuths, &role.Authorizations)
		}
		op.Role = role
	}
	return &op, nil
}
