package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderRepository tracks which abuse providers were contacted per ticket.
type ProviderRepository interface {
	// ContactedEmails returns the distinct provider emails already
	// contacted about a ticket.
	ContactedEmails(ctx context.Context, ticketID string) ([]string, error)
}

type providerRepository struct {
	pool *pgxpool.Pool
}

// NewProviderRepository instantiates the repository.
func NewProviderRepository(pool *pgxpool.Pool) ProviderRepository {
	return &providerRepository{pool: pool}
}

func (r *providerRepository) ContactedEmails(ctx context.Context, ticketID string) ([]string, error) {
	const query = `
        SELECT DISTINCT provider_email FROM contacted_providers
        WHERE ticket_id=$1 ORDER BY provider_email`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
