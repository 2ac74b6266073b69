package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tradejournal/internal/domain"
)

const lotColumns = `id, account_id, symbol, direction, campaign_id, open_fill_id,
	open_qty, remaining_qty, avg_open_price, status, opened_at`

func scanLot(row pgx.Row) (domain.PositionLot, error) {
	var l domain.PositionLot
	var direction, status string
	err := row.Scan(
		&l.ID, &l.AccountID, &l.Symbol, &direction, &l.CampaignID, &l.OpenFillID,
		&l.OpenQty, &l.RemainingQty, &l.AvgOpenPrice, &status, &l.OpenedAt,
	)
	if err != nil {
		return l, err
	}
	l.Direction = domain.Direction(direction)
	l.Status = domain.LotStatus(status)
	return l, nil
}

// OpenLotsForSymbol returns the open lots for a partition in FIFO order.
func (r *Repository) OpenLotsForSymbol(ctx context.Context, tx pgx.Tx, accountID, symbol string) ([]domain.PositionLot, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM position_lots
		WHERE account_id = $1 AND symbol = $2 AND status = 'open'
		ORDER BY opened_at ASC, id ASC
	`, lotColumns), accountID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query open lots: %w", err)
	}
	defer rows.Close()

	var lots []domain.PositionLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// LotsForCampaign returns every lot attached to a campaign.
func (r *Repository) LotsForCampaign(ctx context.Context, tx pgx.Tx, campaignID string) ([]domain.PositionLot, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM position_lots
		WHERE campaign_id = $1
		ORDER BY opened_at ASC, id ASC
	`, lotColumns), campaignID)
	if err != nil {
		return nil, fmt.Errorf("query campaign lots: %w", err)
	}
	defer rows.Close()

	var lots []domain.PositionLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// ClosuresForCampaign returns the closures of every lot attached to a campaign.
func (r *Repository) ClosuresForCampaign(ctx context.Context, tx pgx.Tx, campaignID string) ([]domain.LotClosure, error) {
	rows, err := tx.Query(ctx, `
		SELECT c.id, c.lot_id, c.open_fill_id, c.close_fill_id, c.matched_qty,
			c.open_price, c.close_price, c.realized_pnl, c.fees_allocated,
			c.match_method, c.closed_at
		FROM lot_closures c
		JOIN position_lots l ON l.id = c.lot_id
		WHERE l.campaign_id = $1
		ORDER BY c.closed_at ASC, c.id ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query campaign closures: %w", err)
	}
	defer rows.Close()

	var closures []domain.LotClosure
	for rows.Next() {
		var c domain.LotClosure
		err := rows.Scan(
			&c.ID, &c.LotID, &c.OpenFillID, &c.CloseFillID, &c.MatchedQty,
			&c.OpenPrice, &c.ClosePrice, &c.RealizedPnL, &c.FeesAllocated,
			&c.MatchMethod, &c.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan closure: %w", err)
		}
		closures = append(closures, c)
	}
	return closures, rows.Err()
}

func insertLot(ctx context.Context, tx pgx.Tx, l *domain.PositionLot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO position_lots (
			id, account_id, symbol, direction, campaign_id, open_fill_id,
			open_qty, remaining_qty, avg_open_price, status, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		l.ID, l.AccountID, l.Symbol, string(l.Direction), l.CampaignID, l.OpenFillID,
		l.OpenQty, l.RemainingQty, l.AvgOpenPrice, string(l.Status), l.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func updateLotRemaining(ctx context.Context, tx pgx.Tx, lotID string, remaining float64, status domain.LotStatus) error {
	tag, err := tx.Exec(ctx,
		"UPDATE position_lots SET remaining_qty = $2, status = $3 WHERE id = $1",
		lotID, remaining, string(status),
	)
	if err != nil {
		return fmt.Errorf("update lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update lot %s: %w", lotID, ErrNotFound)
	}
	return nil
}

func insertClosure(ctx context.Context, tx pgx.Tx, c *domain.LotClosure) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO lot_closures (
			id, lot_id, open_fill_id, close_fill_id, matched_qty,
			open_price, close_price, realized_pnl, fees_allocated,
			match_method, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID, c.LotID, c.OpenFillID, c.CloseFillID, c.MatchedQty,
		c.OpenPrice, c.ClosePrice, c.RealizedPnL, c.FeesAllocated,
		c.MatchMethod, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert closure: %w", err)
	}
	return nil
}
