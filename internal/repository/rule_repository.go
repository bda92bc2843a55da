package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamiejackherer/cerberus-core/internal/rules"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

// RuleRepository loads business rules stored as JSON documents.
type RuleRepository interface {
	GetByName(ctx context.Context, name string) (rules.Rule, error)
}

type ruleRepository struct {
	pool *pgxpool.Pool
}

func NewRuleRepository(pool *pgxpool.Pool) RuleRepository {
	return &ruleRepository{pool: pool}
}

func (r *ruleRepository) GetByName(ctx context.Context, name string) (rules.Rule, error) {
	const query = `SELECT config FROM business_rules WHERE name = $1`

	var raw []byte
	err := r.pool.QueryRow(ctx, query, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.Rule{}, util.NewNotFound("business rule", map[string]any{"name": name})
	}
	if err != nil {
		return rules.Rule{}, fmt.Errorf("query business rule %q: %w", name, err)
	}
	rule, err := rules.ParseRule(raw)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("parse business rule %q: %w", name, err)
	}
	return rule, nil
}
