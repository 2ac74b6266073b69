package engine

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"tradejournal/internal/domain"
)

// signedQty is a leg's effect on the net position: buys add, sells subtract.
func signedQty(leg domain.CampaignLeg) float64 {
	if leg.Side == domain.SideBuy {
		return leg.Quantity
	}
	return -leg.Quantity
}

// UnwindInput names the strategy-tagged campaigns to unwind and their legs.
type UnwindInput struct {
	Campaigns      []domain.PositionCampaign
	LegsByCampaign map[string][]domain.CampaignLeg
	Cutoff         time.Time
}

// UnwindPlan is what the store executes: detach the named legs, delete the
// campaigns left empty, and re-save the survivors with recomputed metrics.
type UnwindPlan struct {
	DetachLegIDs      []string
	DeleteCampaignIDs []string
	KeepCampaigns     []*domain.PositionCampaign
}

// PlanUnwind detaches every leg starting at or after the cutoff from the
// given campaigns. Campaigns that lose all their legs are deleted; the rest
// are refinalized from the legs that remain.
func PlanUnwind(in UnwindInput) *UnwindPlan {
	plan := &UnwindPlan{}

	for _, c := range in.Campaigns {
		legs := in.LegsByCampaign[c.ID]
		var kept []domain.CampaignLeg
		for _, leg := range legs {
			if leg.StartedAt.Before(in.Cutoff) {
				kept = append(kept, leg)
				continue
			}
			plan.DetachLegIDs = append(plan.DetachLegIDs, leg.ID)
		}
		if len(kept) == 0 {
			plan.DeleteCampaignIDs = append(plan.DeleteCampaignIDs, c.ID)
			continue
		}
		survivor := c
		FinalizeCampaignFromLegs(&survivor, kept)
		plan.KeepCampaigns = append(plan.KeepCampaigns, &survivor)
	}

	sort.Strings(plan.DetachLegIDs)
	return plan
}

// LegAssignment attaches one orphaned leg to a campaign.
type LegAssignment struct {
	LegID      string
	CampaignID string
}

// RegroupInput is the strategy-filtered orphan set for one (account, symbol)
// partition, legs ascending by start time. ReuseCampaign, when set, is the
// open campaign the first group continues; callers only pass it when all of
// its attached legs share the strategy being regrouped.
type RegroupInput struct {
	AccountID     string
	Symbol        string
	StrategyID    string
	OrphanLegs    []domain.CampaignLeg
	ReuseCampaign *domain.PositionCampaign
	ReuseLegs     []domain.CampaignLeg
}

// RegroupPlan lists the campaigns to upsert and the leg reassignments.
type RegroupPlan struct {
	Campaigns        []*domain.PositionCampaign
	Assignments      []LegAssignment
	CampaignsCreated int
	LegsGrouped      int
}

// Regroup walks the orphaned legs in time order, accumulating a signed
// position; each stretch between flat crossings becomes one campaign. A leg
// that crosses zero belongs to the campaign it opens.
func Regroup(in RegroupInput) *RegroupPlan {
	plan := &RegroupPlan{}

	var (
		running float64
		current *domain.PositionCampaign
		legs    []domain.CampaignLeg
	)

	if in.ReuseCampaign != nil {
		c := *in.ReuseCampaign
		current = &c
		legs = append(legs, in.ReuseLegs...)
		for _, leg := range in.ReuseLegs {
			running += signedQty(leg)
		}
		plan.Campaigns = append(plan.Campaigns, current)
	}

	for _, leg := range in.OrphanLegs {
		if current == nil {
			current = &domain.PositionCampaign{
				ID:        uuid.NewString(),
				AccountID: in.AccountID,
				Symbol:    in.Symbol,
				Direction: domain.DirectionForSide(leg.Side),
				Status:    domain.CampaignStatusOpen,
				OpenedAt:  leg.StartedAt,
				Source:    domain.SourceBrokerSynced,
			}
			plan.Campaigns = append(plan.Campaigns, current)
			plan.CampaignsCreated++
		}

		running += signedQty(leg)
		legs = append(legs, leg)
		plan.Assignments = append(plan.Assignments, LegAssignment{LegID: leg.ID, CampaignID: current.ID})
		plan.LegsGrouped++

		if math.Abs(running) <= flatEpsilon {
			FinalizeCampaignFromLegs(current, legs)
			current = nil
			legs = nil
			running = 0
		}
	}

	// A trailing non-flat stretch stays an open campaign with refreshed
	// aggregates.
	if current != nil {
		FinalizeCampaignFromLegs(current, legs)
	}
	return plan
}
