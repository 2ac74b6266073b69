package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tradejournal/internal/domain"
)

// GetOrCreateAccount looks up an account by ID. If it doesn't exist, creates it.
func (r *Repository) GetOrCreateAccount(ctx context.Context, id string) (*domain.Account, error) {
	var acct domain.Account
	err := r.pool.QueryRow(ctx,
		"SELECT id, name, created_at FROM journal_accounts WHERE id = $1", id,
	).Scan(&acct.ID, &acct.Name, &acct.CreatedAt)

	if err == pgx.ErrNoRows {
		// Auto-create account
		_, err := r.pool.Exec(ctx,
			"INSERT INTO journal_accounts (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING",
			id, id,
		)
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}

		return r.GetOrCreateAccount(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	return &acct, nil
}

// AccountExists checks if an account with the given ID exists.
func (r *Repository) AccountExists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM journal_accounts WHERE id = $1", id,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return count > 0, nil
}
