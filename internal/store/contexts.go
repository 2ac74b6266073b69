package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tradejournal/internal/domain"
)

// EnsureDecisionContext creates a placeholder decision context for a fill
// that has none. Buys get an entry context, sells an exit; the trader fills
// in the narrative later.
func (r *Repository) EnsureDecisionContext(ctx context.Context, tx pgx.Tx, fill *domain.TradeFill) error {
	contextType := "entry"
	if fill.Side == domain.SideSell {
		contextType = "exit"
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO decision_contexts (id, account_id, fill_id, context_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fill_id) DO NOTHING
	`, uuid.NewString(), fill.AccountID, fill.ID, contextType)
	if err != nil {
		return fmt.Errorf("ensure decision context: %w", err)
	}
	return nil
}

// TagStrategy sets the strategy on a fill's decision context.
func (r *Repository) TagStrategy(ctx context.Context, accountID, fillID, strategyID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE decision_contexts SET strategy_id = $3, updated_at = NOW()
		WHERE account_id = $1 AND fill_id = $2
	`, accountID, fillID, strategyID)
	if err != nil {
		return fmt.Errorf("tag strategy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ContextForFill loads the decision context attached to a fill.
func (r *Repository) ContextForFill(ctx context.Context, accountID, fillID string) (*domain.DecisionContext, error) {
	var d domain.DecisionContext
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, fill_id, campaign_id, leg_id, context_type,
			strategy_id, hypothesis, notes, created_at, updated_at
		FROM decision_contexts WHERE fill_id = $1
	`, fillID).Scan(
		&d.ID, &d.AccountID, &d.FillID, &d.CampaignID, &d.LegID, &d.ContextType,
		&d.StrategyID, &d.Hypothesis, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision context: %w", err)
	}
	if d.AccountID != accountID {
		return nil, ErrNotOwned
	}
	return &d, nil
}
