package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"tradejournal/internal/domain"
)

const legColumns = `id, account_id, campaign_id, symbol, direction, side, leg_type,
	quantity, avg_price, started_at, ended_at, fill_count`

func scanLeg(row pgx.Row) (domain.CampaignLeg, error) {
	var l domain.CampaignLeg
	var direction, side, legType string
	err := row.Scan(
		&l.ID, &l.AccountID, &l.CampaignID, &l.Symbol, &direction, &side, &legType,
		&l.Quantity, &l.AvgPrice, &l.StartedAt, &l.EndedAt, &l.FillCount,
	)
	if err != nil {
		return l, err
	}
	l.Direction = domain.Direction(direction)
	l.Side = domain.Side(side)
	l.LegType = domain.LegType(legType)
	return l, nil
}

func insertLeg(ctx context.Context, tx pgx.Tx, l *domain.CampaignLeg) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO campaign_legs (
			id, account_id, campaign_id, symbol, direction, side, leg_type,
			quantity, avg_price, started_at, ended_at, fill_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		l.ID, l.AccountID, l.CampaignID, l.Symbol, string(l.Direction), string(l.Side),
		string(l.LegType), l.Quantity, l.AvgPrice, l.StartedAt, l.EndedAt, l.FillCount,
	)
	if err != nil {
		return fmt.Errorf("insert leg: %w", err)
	}
	return nil
}

func insertAllocation(ctx context.Context, tx pgx.Tx, a *domain.LegFillAllocation) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO leg_fill_map (leg_id, fill_id, allocated_qty) VALUES ($1, $2, $3)",
		a.LegID, a.FillID, a.AllocatedQty,
	)
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

// LegsForCampaigns loads the legs of the given campaigns, keyed by campaign.
func (r *Repository) LegsForCampaigns(ctx context.Context, tx pgx.Tx, campaignIDs []string) (map[string][]domain.CampaignLeg, error) {
	byCampaign := map[string][]domain.CampaignLeg{}
	if len(campaignIDs) == 0 {
		return byCampaign, nil
	}

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM campaign_legs
		WHERE campaign_id = ANY($1)
		ORDER BY started_at ASC, id ASC
	`, legColumns), campaignIDs)
	if err != nil {
		return nil, fmt.Errorf("query campaign legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leg: %w", err)
		}
		if leg.CampaignID != nil {
			byCampaign[*leg.CampaignID] = append(byCampaign[*leg.CampaignID], leg)
		}
	}
	return byCampaign, rows.Err()
}

// OrphanLegsForStrategy returns the orphaned legs of one partition whose
// fills carry the given strategy tag, ascending by start time.
func (r *Repository) OrphanLegsForStrategy(ctx context.Context, tx pgx.Tx, accountID, symbol, strategyID string) ([]domain.CampaignLeg, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT ON (l.id) %s
		FROM campaign_legs l
		JOIN leg_fill_map m ON m.leg_id = l.id
		JOIN decision_contexts d ON d.fill_id = m.fill_id
		WHERE l.account_id = $1 AND l.symbol = $2
			AND l.campaign_id IS NULL AND d.strategy_id = $3
		ORDER BY l.id
	`, qualifyLegColumns("l")), accountID, symbol, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query orphan legs: %w", err)
	}
	defer rows.Close()

	var legs []domain.CampaignLeg
	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leg: %w", err)
		}
		legs = append(legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortLegsByTime(legs)
	return legs, nil
}

func qualifyLegColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.account_id, %[1]s.campaign_id, %[1]s.symbol,
		%[1]s.direction, %[1]s.side, %[1]s.leg_type, %[1]s.quantity, %[1]s.avg_price,
		%[1]s.started_at, %[1]s.ended_at, %[1]s.fill_count`, alias)
}

func sortLegsByTime(legs []domain.CampaignLeg) {
	sort.Slice(legs, func(i, j int) bool {
		if legs[i].StartedAt.Equal(legs[j].StartedAt) {
			return legs[i].ID < legs[j].ID
		}
		return legs[i].StartedAt.Before(legs[j].StartedAt)
	})
}

func assignLegs(ctx context.Context, tx pgx.Tx, legIDs []string, campaignID string) error {
	if len(legIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		"UPDATE campaign_legs SET campaign_id = $2 WHERE id = ANY($1)",
		legIDs, campaignID,
	)
	if err != nil {
		return fmt.Errorf("assign legs: %w", err)
	}
	return nil
}

func detachLegs(ctx context.Context, tx pgx.Tx, legIDs []string) error {
	if len(legIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		"UPDATE campaign_legs SET campaign_id = NULL WHERE id = ANY($1)",
		legIDs,
	)
	if err != nil {
		return fmt.Errorf("detach legs: %w", err)
	}
	return nil
}
