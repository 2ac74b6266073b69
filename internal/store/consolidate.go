package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"tradejournal/internal/engine"
)

// ConsolidateResult summarizes one consolidation run.
type ConsolidateResult struct {
	CampaignsRemoved int `json:"campaigns_removed"`
	LotsReassigned   int `json:"lots_reassigned"`
	LegsReassigned   int `json:"legs_reassigned"`
}

// Consolidate merges duplicate open campaigns per (symbol, direction) for an
// account, optionally restricted to one symbol. The earliest-opened campaign
// in each group absorbs the others' lots, legs, decision contexts, and
// evaluations; the emptied duplicates are deleted. One transaction covers
// the whole run.
func (r *Repository) Consolidate(ctx context.Context, accountID, symbol string) (*ConsolidateResult, error) {
	result := &ConsolidateResult{}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin consolidate: %w", err)
	}
	defer tx.Rollback(ctx)

	open, err := r.OpenCampaigns(ctx, tx, accountID, symbol)
	if err != nil {
		return nil, err
	}

	for _, group := range engine.PlanConsolidation(open) {
		for _, dupID := range group.MergeIDs {
			reassigns := []struct {
				table string
				count *int
			}{
				{"position_lots", &result.LotsReassigned},
				{"campaign_legs", &result.LegsReassigned},
				{"decision_contexts", nil},
				{"trade_evaluations", nil},
			}
			for _, re := range reassigns {
				tag, err := tx.Exec(ctx,
					fmt.Sprintf("UPDATE %s SET campaign_id = $2 WHERE campaign_id = $1", re.table),
					dupID, group.KeeperID,
				)
				if err != nil {
					return nil, fmt.Errorf("reassign %s: %w", re.table, err)
				}
				if re.count != nil {
					*re.count += int(tag.RowsAffected())
				}
			}

			if _, err := tx.Exec(ctx,
				"DELETE FROM position_campaigns WHERE id = $1", dupID,
			); err != nil {
				return nil, fmt.Errorf("delete duplicate campaign: %w", err)
			}
			result.CampaignsRemoved++
		}

		log.Info().
			Str("account_id", accountID).
			Str("symbol", group.Symbol).
			Str("direction", string(group.Direction)).
			Str("keeper", group.KeeperID).
			Int("merged", len(group.MergeIDs)).
			Msg("consolidated duplicate campaigns")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit consolidate: %w", err)
	}
	return result, nil
}
