package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tradejournal/internal/domain"
	"tradejournal/internal/engine"
)

// UnwindResult summarizes one unwind run.
type UnwindResult struct {
	LegsDetached     int `json:"legs_detached"`
	CampaignsDeleted int `json:"campaigns_deleted"`
}

// Unwind detaches every leg starting at or after the cutoff from the
// account's campaigns tagged with the given strategy on one symbol.
// Campaigns left without legs are deleted. Detached legs become orphans
// awaiting a regroup.
func (r *Repository) Unwind(ctx context.Context, accountID, symbol, strategyID string, cutoff time.Time) (*UnwindResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin unwind: %w", err)
	}
	defer tx.Rollback(ctx)

	campaigns, err := r.campaignsForStrategy(ctx, tx, accountID, symbol, strategyID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(campaigns))
	for _, c := range campaigns {
		ids = append(ids, c.ID)
	}
	legs, err := r.LegsForCampaigns(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	plan := engine.PlanUnwind(engine.UnwindInput{
		Campaigns:      campaigns,
		LegsByCampaign: legs,
		Cutoff:         cutoff,
	})

	if err := detachLegs(ctx, tx, plan.DetachLegIDs); err != nil {
		return nil, err
	}
	// Detached legs' contexts must stop pointing at the old campaign, or a
	// later strategy lookup would still pull it. The FK only clears contexts
	// of campaigns deleted below, not of survivors that kept earlier legs.
	if len(plan.DetachLegIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE decision_contexts d SET campaign_id = NULL, updated_at = NOW()
			FROM leg_fill_map m
			WHERE m.fill_id = d.fill_id AND m.leg_id = ANY($1)
		`, plan.DetachLegIDs); err != nil {
			return nil, fmt.Errorf("unlink detached contexts: %w", err)
		}
	}
	for _, c := range plan.KeepCampaigns {
		if err := upsertCampaign(ctx, tx, c); err != nil {
			return nil, err
		}
	}
	for _, id := range plan.DeleteCampaignIDs {
		if _, err := tx.Exec(ctx,
			"DELETE FROM position_campaigns WHERE id = $1", id,
		); err != nil {
			return nil, fmt.Errorf("delete unwound campaign: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit unwind: %w", err)
	}
	return &UnwindResult{
		LegsDetached:     len(plan.DetachLegIDs),
		CampaignsDeleted: len(plan.DeleteCampaignIDs),
	}, nil
}

// campaignsForStrategy finds the campaigns on one symbol whose fills carry
// the given strategy tag in their decision contexts.
func (r *Repository) campaignsForStrategy(ctx context.Context, tx pgx.Tx, accountID, symbol, strategyID string) ([]domain.PositionCampaign, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT ON (c.id) %s
		FROM position_campaigns c
		JOIN decision_contexts d ON d.campaign_id = c.id
		WHERE c.account_id = $1 AND c.symbol = $2 AND d.strategy_id = $3
		ORDER BY c.id
	`, qualifyCampaignColumns("c")), accountID, symbol, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query strategy campaigns: %w", err)
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

func qualifyCampaignColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.account_id, %[1]s.symbol, %[1]s.direction,
		%[1]s.status, %[1]s.opened_at, %[1]s.closed_at, %[1]s.qty_opened,
		%[1]s.qty_closed, %[1]s.max_qty, %[1]s.avg_open_price, %[1]s.avg_close_price,
		%[1]s.realized_pnl, %[1]s.return_pct, %[1]s.holding_period_sec,
		%[1]s.num_fills, %[1]s.source, %[1]s.derived_from`, alias)
}

// RegroupResult summarizes one regroup run.
type RegroupResult struct {
	CampaignsCreated int `json:"campaigns_created"`
	LegsGrouped      int `json:"legs_grouped"`
}

// Regroup rebuilds campaigns from the orphaned legs on one symbol that
// carry the given strategy tag. An existing open campaign is only reused
// when every leg already attached to it shares the strategy; otherwise the
// orphans form fresh campaigns.
func (r *Repository) Regroup(ctx context.Context, accountID, symbol, strategyID string) (*RegroupResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin regroup: %w", err)
	}
	defer tx.Rollback(ctx)

	orphans, err := r.OrphanLegsForStrategy(ctx, tx, accountID, symbol, strategyID)
	if err != nil {
		return nil, err
	}

	in := engine.RegroupInput{
		AccountID:  accountID,
		Symbol:     symbol,
		StrategyID: strategyID,
		OrphanLegs: orphans,
	}

	openCampaign, err := r.OpenCampaignForSymbol(ctx, tx, accountID, symbol)
	if err != nil {
		return nil, err
	}
	if openCampaign != nil {
		uniform, legs, err := r.campaignStrategyUniform(ctx, tx, openCampaign.ID, strategyID)
		if err != nil {
			return nil, err
		}
		if uniform {
			in.ReuseCampaign = openCampaign
			in.ReuseLegs = legs
		}
	}

	plan := engine.Regroup(in)

	for _, c := range plan.Campaigns {
		if err := upsertCampaign(ctx, tx, c); err != nil {
			return nil, err
		}
	}
	byCampaign := map[string][]string{}
	for _, a := range plan.Assignments {
		byCampaign[a.CampaignID] = append(byCampaign[a.CampaignID], a.LegID)
	}
	for campaignID, legIDs := range byCampaign {
		if err := assignLegs(ctx, tx, legIDs, campaignID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE decision_contexts d SET campaign_id = $2, updated_at = NOW()
			FROM leg_fill_map m
			WHERE m.fill_id = d.fill_id AND m.leg_id = ANY($1)
		`, legIDs, campaignID); err != nil {
			return nil, fmt.Errorf("relink contexts: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit regroup: %w", err)
	}
	return &RegroupResult{
		CampaignsCreated: plan.CampaignsCreated,
		LegsGrouped:      plan.LegsGrouped,
	}, nil
}

// campaignStrategyUniform reports whether every leg attached to a campaign
// maps to the given strategy, and returns those legs.
func (r *Repository) campaignStrategyUniform(ctx context.Context, tx pgx.Tx, campaignID, strategyID string) (bool, []domain.CampaignLeg, error) {
	legsByCampaign, err := r.LegsForCampaigns(ctx, tx, []string{campaignID})
	if err != nil {
		return false, nil, err
	}
	legs := legsByCampaign[campaignID]
	if len(legs) == 0 {
		return true, nil, nil
	}

	var mismatched int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM campaign_legs l
		JOIN leg_fill_map m ON m.leg_id = l.id
		LEFT JOIN decision_contexts d ON d.fill_id = m.fill_id
		WHERE l.campaign_id = $1 AND (d.strategy_id IS DISTINCT FROM $2)
	`, campaignID, strategyID).Scan(&mismatched)
	if err != nil {
		return false, nil, fmt.Errorf("check campaign strategy: %w", err)
	}
	return mismatched == 0, legs, nil
}
