package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"tradejournal/internal/domain"
	"tradejournal/internal/engine"
)

// RebuildSymbol runs one incremental matching pass for a single
// (account, symbol) partition inside one transaction.
func (r *Repository) RebuildSymbol(ctx context.Context, accountID, symbol string) (engine.MatchStats, error) {
	var stats engine.MatchStats

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := r.matchPartition(ctx, tx, accountID, symbol)
	if err != nil {
		return stats, err
	}
	if err := persistMatchResult(ctx, tx, res); err != nil {
		return stats, err
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit rebuild: %w", err)
	}
	return res.Stats, nil
}

// RebuildAccount runs the matcher for every symbol the account has fills
// for. Each symbol is its own transaction, so one partition's failure leaves
// the others' results in place.
func (r *Repository) RebuildAccount(ctx context.Context, accountID string) (engine.MatchStats, []string, error) {
	var total engine.MatchStats
	var failed []string

	symbols, err := r.SymbolsWithFills(ctx, accountID)
	if err != nil {
		return total, nil, err
	}

	for _, symbol := range symbols {
		stats, err := r.RebuildSymbol(ctx, accountID, symbol)
		if err != nil {
			log.Error().Err(err).
				Str("account_id", accountID).
				Str("symbol", symbol).
				Msg("partition rebuild failed")
			failed = append(failed, symbol)
			continue
		}
		total.Add(stats)
	}
	return total, failed, nil
}

// ResetAndRebuild wipes every derived row for the account and replays the
// full fill history from scratch. Decision contexts and evaluations survive
// with their campaign/leg references cleared; fills are never touched.
//
// The wipe commits before the replay starts. If a symbol's rebuild then
// fails, that partition stays empty until a retry; the symbol is returned in
// the failed list and the fills are untouched, so rerunning the rebuild
// restores it.
func (r *Repository) ResetAndRebuild(ctx context.Context, accountID string) (engine.MatchStats, []string, error) {
	var stats engine.MatchStats

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return stats, nil, fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	wipes := []string{
		"UPDATE decision_contexts SET campaign_id = NULL, leg_id = NULL WHERE account_id = $1",
		"UPDATE trade_evaluations SET campaign_id = NULL, leg_id = NULL WHERE account_id = $1",
		`DELETE FROM leg_fill_map WHERE leg_id IN
			(SELECT id FROM campaign_legs WHERE account_id = $1)`,
		"DELETE FROM campaign_legs WHERE account_id = $1",
		`DELETE FROM lot_closures WHERE lot_id IN
			(SELECT id FROM position_lots WHERE account_id = $1)`,
		"DELETE FROM position_lots WHERE account_id = $1",
		"DELETE FROM position_campaigns WHERE account_id = $1",
	}
	for _, q := range wipes {
		if _, err := tx.Exec(ctx, q, accountID); err != nil {
			return stats, nil, fmt.Errorf("wipe derived rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, nil, fmt.Errorf("commit reset: %w", err)
	}

	return r.RebuildAccount(ctx, accountID)
}

// matchPartition loads a partition's state and runs the matcher over it.
func (r *Repository) matchPartition(ctx context.Context, tx pgx.Tx, accountID, symbol string) (*engine.MatchResult, error) {
	fills, err := r.FillsForSymbol(ctx, tx, accountID, symbol)
	if err != nil {
		return nil, err
	}
	openLots, err := r.OpenLotsForSymbol(ctx, tx, accountID, symbol)
	if err != nil {
		return nil, err
	}
	openCampaign, err := r.OpenCampaignForSymbol(ctx, tx, accountID, symbol)
	if err != nil {
		return nil, err
	}
	processed, err := r.ProcessedFillIDs(ctx, tx, accountID, symbol)
	if err != nil {
		return nil, err
	}

	in := engine.MatchInput{
		AccountID:    accountID,
		Symbol:       symbol,
		Fills:        fills,
		OpenLots:     openLots,
		OpenCampaign: openCampaign,
		Processed:    processed,
	}
	if openCampaign != nil {
		in.PriorLots, err = r.LotsForCampaign(ctx, tx, openCampaign.ID)
		if err != nil {
			return nil, err
		}
		in.PriorClosures, err = r.ClosuresForCampaign(ctx, tx, openCampaign.ID)
		if err != nil {
			return nil, err
		}
	}

	return engine.Match(in)
}

// persistMatchResult writes everything one matcher pass produced. Campaigns
// go first so lot and leg foreign keys resolve.
func persistMatchResult(ctx context.Context, tx pgx.Tx, res *engine.MatchResult) error {
	for _, c := range res.Campaigns {
		if err := upsertCampaign(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, l := range res.NewLots {
		if err := insertLot(ctx, tx, l); err != nil {
			return err
		}
	}
	for _, u := range res.LotUpdates {
		if err := updateLotRemaining(ctx, tx, u.LotID, u.RemainingQty, u.Status); err != nil {
			return err
		}
	}
	for i := range res.NewClosures {
		if err := insertClosure(ctx, tx, &res.NewClosures[i]); err != nil {
			return err
		}
	}
	for _, leg := range res.NewLegs {
		if err := insertLeg(ctx, tx, leg); err != nil {
			return err
		}
	}
	for i := range res.Allocations {
		if err := insertAllocation(ctx, tx, &res.Allocations[i]); err != nil {
			return err
		}
	}

	return linkContextsToLegs(ctx, tx, res)
}

// linkContextsToLegs points each fill's decision context at the leg and
// campaign the pass attributed the fill to. A flip fill has two legs; the
// context follows the opening one, matching how traders annotate the intent
// of the new position.
func linkContextsToLegs(ctx context.Context, tx pgx.Tx, res *engine.MatchResult) error {
	legByID := map[string]*domain.CampaignLeg{}
	for _, leg := range res.NewLegs {
		legByID[leg.ID] = leg
	}

	chosen := map[string]*domain.CampaignLeg{}
	for _, a := range res.Allocations {
		leg := legByID[a.LegID]
		if leg == nil {
			continue
		}
		if cur, ok := chosen[a.FillID]; !ok || leg.LegType == domain.LegTypeFlipOpen && cur.LegType == domain.LegTypeFlipClose {
			chosen[a.FillID] = leg
		}
	}

	for fillID, leg := range chosen {
		_, err := tx.Exec(ctx, `
			UPDATE decision_contexts
			SET leg_id = $2, campaign_id = $3, updated_at = NOW()
			WHERE fill_id = $1
		`, fillID, leg.ID, leg.CampaignID)
		if err != nil {
			return fmt.Errorf("link context to leg: %w", err)
		}
	}
	return nil
}
