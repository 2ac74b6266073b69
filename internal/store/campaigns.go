package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"tradejournal/internal/domain"
)

const campaignColumns = `id, account_id, symbol, direction, status, opened_at, closed_at,
	qty_opened, qty_closed, max_qty, avg_open_price, avg_close_price,
	realized_pnl, return_pct, holding_period_sec, num_fills, source, derived_from`

func scanCampaign(row pgx.Row) (domain.PositionCampaign, error) {
	var c domain.PositionCampaign
	var direction, status, source string
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Symbol, &direction, &status, &c.OpenedAt, &c.ClosedAt,
		&c.QtyOpened, &c.QtyClosed, &c.MaxQty, &c.AvgOpenPrice, &c.AvgClosePrice,
		&c.RealizedPnL, &c.ReturnPct, &c.HoldingPeriodSec, &c.NumFills, &source, &c.DerivedFrom,
	)
	if err != nil {
		return c, err
	}
	c.Direction = domain.Direction(direction)
	c.Status = domain.CampaignStatus(status)
	c.Source = domain.FillSource(source)
	return c, nil
}

func upsertCampaign(ctx context.Context, tx pgx.Tx, c *domain.PositionCampaign) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO position_campaigns (
			id, account_id, symbol, direction, status, opened_at, closed_at,
			qty_opened, qty_closed, max_qty, avg_open_price, avg_close_price,
			realized_pnl, return_pct, holding_period_sec, num_fills, source, derived_from
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at,
			qty_opened = EXCLUDED.qty_opened,
			qty_closed = EXCLUDED.qty_closed,
			max_qty = EXCLUDED.max_qty,
			avg_open_price = EXCLUDED.avg_open_price,
			avg_close_price = EXCLUDED.avg_close_price,
			realized_pnl = EXCLUDED.realized_pnl,
			return_pct = EXCLUDED.return_pct,
			holding_period_sec = EXCLUDED.holding_period_sec,
			num_fills = EXCLUDED.num_fills,
			derived_from = EXCLUDED.derived_from
	`,
		c.ID, c.AccountID, c.Symbol, string(c.Direction), string(c.Status), c.OpenedAt, c.ClosedAt,
		c.QtyOpened, c.QtyClosed, c.MaxQty, c.AvgOpenPrice, c.AvgClosePrice,
		c.RealizedPnL, c.ReturnPct, c.HoldingPeriodSec, c.NumFills, string(c.Source), c.DerivedFrom,
	)
	if err != nil {
		return fmt.Errorf("upsert campaign: %w", err)
	}
	return nil
}

// OpenCampaignForSymbol returns the earliest-opened open campaign for a
// partition, or nil when the partition is flat.
func (r *Repository) OpenCampaignForSymbol(ctx context.Context, tx pgx.Tx, accountID, symbol string) (*domain.PositionCampaign, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM position_campaigns
		WHERE account_id = $1 AND symbol = $2 AND status = 'open'
		ORDER BY opened_at ASC, id ASC
		LIMIT 1
	`, campaignColumns), accountID, symbol)

	c, err := scanCampaign(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query open campaign: %w", err)
	}
	return &c, nil
}

// OpenCampaigns returns every open campaign for an account, optionally
// restricted to one symbol.
func (r *Repository) OpenCampaigns(ctx context.Context, tx pgx.Tx, accountID, symbol string) ([]domain.PositionCampaign, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM position_campaigns
		WHERE account_id = $1 AND status = 'open'
	`, campaignColumns)
	args := []interface{}{accountID}
	if symbol != "" {
		query += " AND symbol = $2"
		args = append(args, symbol)
	}
	query += " ORDER BY opened_at ASC, id ASC"

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.PositionCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// CampaignFilter defines filters for listing campaigns.
type CampaignFilter struct {
	Symbol string
	Status string
	Cursor string
	Limit  int
}

// CampaignListResult contains paginated campaign results.
type CampaignListResult struct {
	Campaigns  []domain.PositionCampaign `json:"campaigns"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

// ListCampaigns returns campaigns for an account with filters and cursor-based pagination.
func (r *Repository) ListCampaigns(ctx context.Context, accountID string, filter CampaignFilter) (*CampaignListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}

	var conditions []string
	var args []interface{}
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIdx))
	args = append(args, accountID)
	argIdx++

	if filter.Symbol != "" {
		conditions = append(conditions, fmt.Sprintf("symbol = $%d", argIdx))
		args = append(args, filter.Symbol)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Cursor != "" {
		cursorTS, cursorID, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		conditions = append(conditions, fmt.Sprintf(
			"(opened_at, id) < ($%d, $%d)", argIdx, argIdx+1,
		))
		args = append(args, cursorTS, cursorID)
		argIdx += 2
	}

	where := strings.Join(conditions, " AND ")

	query := fmt.Sprintf(`
		SELECT %s FROM position_campaigns
		WHERE %s
		ORDER BY opened_at DESC, id DESC
		LIMIT $%d
	`, campaignColumns, where, argIdx)
	args = append(args, filter.Limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.PositionCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	result := &CampaignListResult{}
	if len(campaigns) > filter.Limit {
		campaigns = campaigns[:filter.Limit]
		last := campaigns[len(campaigns)-1]
		result.NextCursor = encodeCursor(last.OpenedAt, last.ID)
	}
	result.Campaigns = campaigns
	if result.Campaigns == nil {
		result.Campaigns = []domain.PositionCampaign{}
	}

	return result, nil
}

// CampaignDetail is a campaign with its legs and their fill allocations.
type CampaignDetail struct {
	Campaign    domain.PositionCampaign    `json:"campaign"`
	Legs        []domain.CampaignLeg       `json:"legs"`
	Allocations []domain.LegFillAllocation `json:"allocations"`
}

// GetCampaign loads one campaign with legs and allocations, enforcing
// ownership: a campaign under another account yields ErrNotOwned.
func (r *Repository) GetCampaign(ctx context.Context, accountID, campaignID string) (*CampaignDetail, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT %s FROM position_campaigns WHERE id = $1", campaignColumns), campaignID)
	c, err := scanCampaign(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if c.AccountID != accountID {
		return nil, ErrNotOwned
	}

	detail := &CampaignDetail{Campaign: c, Legs: []domain.CampaignLeg{}, Allocations: []domain.LegFillAllocation{}}

	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, campaign_id, symbol, direction, side, leg_type,
			quantity, avg_price, started_at, ended_at, fill_count
		FROM campaign_legs
		WHERE campaign_id = $1
		ORDER BY started_at ASC, id ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query campaign legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leg: %w", err)
		}
		detail.Legs = append(detail.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	allocRows, err := r.pool.Query(ctx, `
		SELECT m.leg_id, m.fill_id, m.allocated_qty
		FROM leg_fill_map m
		JOIN campaign_legs l ON l.id = m.leg_id
		WHERE l.campaign_id = $1
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer allocRows.Close()

	for allocRows.Next() {
		var a domain.LegFillAllocation
		if err := allocRows.Scan(&a.LegID, &a.FillID, &a.AllocatedQty); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		detail.Allocations = append(detail.Allocations, a)
	}
	return detail, allocRows.Err()
}

// DeleteCampaign removes a campaign. Its legs, lots, decision contexts, and
// evaluations survive with their campaign references nulled out; strategy
// tags on the orphaned contexts are cleared so a later regroup starts clean.
func (r *Repository) DeleteCampaign(ctx context.Context, accountID, campaignID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete campaign: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner string
	err = tx.QueryRow(ctx,
		"SELECT account_id FROM position_campaigns WHERE id = $1", campaignID,
	).Scan(&owner)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get campaign owner: %w", err)
	}
	if owner != accountID {
		return ErrNotOwned
	}

	if _, err := tx.Exec(ctx,
		"UPDATE decision_contexts SET strategy_id = NULL, updated_at = NOW() WHERE campaign_id = $1",
		campaignID,
	); err != nil {
		return fmt.Errorf("clear context strategy refs: %w", err)
	}

	// FKs with ON DELETE SET NULL orphan the legs, lots, contexts, and
	// evaluations rather than cascading.
	if _, err := tx.Exec(ctx,
		"DELETE FROM position_campaigns WHERE id = $1", campaignID,
	); err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}

	return tx.Commit(ctx)
}
