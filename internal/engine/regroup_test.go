package engine

import (
	"testing"
	"time"

	"tradejournal/internal/domain"
)

func orphanLeg(id string, side domain.Side, legType domain.LegType, qty, price float64, at time.Time) domain.CampaignLeg {
	leg := domain.CampaignLeg{
		ID:        id,
		AccountID: "acct-1",
		Symbol:    "AAPL",
		Direction: domain.DirectionForSide(side),
		Side:      side,
		LegType:   legType,
		Quantity:  qty,
		AvgPrice:  price,
		StartedAt: at,
		FillCount: 1,
	}
	switch legType {
	case domain.LegTypeClose, domain.LegTypeFlipClose, domain.LegTypeReduce:
		leg.Direction = invert(leg.Direction)
		t := at
		leg.EndedAt = &t
	}
	return leg
}

func TestPlanUnwindDetachesAfterCutoff(t *testing.T) {
	cutoff := t0.Add(time.Hour)
	plan := PlanUnwind(UnwindInput{
		Campaigns: []domain.PositionCampaign{
			openCampaignAt("c1", "AAPL", domain.DirectionLong, t0),
		},
		LegsByCampaign: map[string][]domain.CampaignLeg{
			"c1": {
				orphanLeg("leg-1", domain.SideBuy, domain.LegTypeOpen, 10, 100, t0),
				orphanLeg("leg-2", domain.SideBuy, domain.LegTypeAdd, 5, 105, cutoff),
				orphanLeg("leg-3", domain.SideSell, domain.LegTypeReduce, 5, 110, t0.Add(2*time.Hour)),
			},
		},
		Cutoff: cutoff,
	})

	if len(plan.DetachLegIDs) != 2 {
		t.Fatalf("detached = %v, want leg-2 and leg-3", plan.DetachLegIDs)
	}
	if plan.DetachLegIDs[0] != "leg-2" || plan.DetachLegIDs[1] != "leg-3" {
		t.Errorf("detached = %v", plan.DetachLegIDs)
	}
	if len(plan.DeleteCampaignIDs) != 0 {
		t.Errorf("deleted = %v, want none", plan.DeleteCampaignIDs)
	}
	if len(plan.KeepCampaigns) != 1 {
		t.Fatalf("kept = %d, want 1", len(plan.KeepCampaigns))
	}
	kept := plan.KeepCampaigns[0]
	if !approx(kept.QtyOpened, 10) || kept.Status != domain.CampaignStatusOpen {
		t.Errorf("kept = qty=%v status=%s", kept.QtyOpened, kept.Status)
	}
}

func TestPlanUnwindDeletesEmptiedCampaign(t *testing.T) {
	plan := PlanUnwind(UnwindInput{
		Campaigns: []domain.PositionCampaign{
			openCampaignAt("c1", "AAPL", domain.DirectionLong, t0),
		},
		LegsByCampaign: map[string][]domain.CampaignLeg{
			"c1": {
				orphanLeg("leg-1", domain.SideBuy, domain.LegTypeOpen, 10, 100, t0),
			},
		},
		Cutoff: t0,
	})

	if len(plan.DeleteCampaignIDs) != 1 || plan.DeleteCampaignIDs[0] != "c1" {
		t.Errorf("deleted = %v, want [c1]", plan.DeleteCampaignIDs)
	}
	if len(plan.DetachLegIDs) != 1 {
		t.Errorf("detached = %v, want [leg-1]", plan.DetachLegIDs)
	}
	if len(plan.KeepCampaigns) != 0 {
		t.Errorf("kept = %d, want 0", len(plan.KeepCampaigns))
	}
}

func TestRegroupSplitsAtFlatCrossings(t *testing.T) {
	plan := Regroup(RegroupInput{
		AccountID:  "acct-1",
		Symbol:     "AAPL",
		StrategyID: "strat-1",
		OrphanLegs: []domain.CampaignLeg{
			orphanLeg("leg-1", domain.SideBuy, domain.LegTypeOpen, 10, 100, t0),
			orphanLeg("leg-2", domain.SideSell, domain.LegTypeClose, 10, 110, t0.Add(time.Hour)),
			orphanLeg("leg-3", domain.SideSell, domain.LegTypeOpen, 5, 120, t0.Add(2*time.Hour)),
			orphanLeg("leg-4", domain.SideBuy, domain.LegTypeClose, 5, 115, t0.Add(3*time.Hour)),
		},
	})

	if plan.CampaignsCreated != 2 || len(plan.Campaigns) != 2 {
		t.Fatalf("campaigns = %d, want 2", len(plan.Campaigns))
	}
	if plan.LegsGrouped != 4 {
		t.Errorf("legs grouped = %d, want 4", plan.LegsGrouped)
	}

	long, short := plan.Campaigns[0], plan.Campaigns[1]
	if long.Direction != domain.DirectionLong || long.Status != domain.CampaignStatusClosed {
		t.Errorf("first campaign = %s/%s", long.Direction, long.Status)
	}
	if !approx(long.RealizedPnL, 100) {
		t.Errorf("long pnl = %v, want 100", long.RealizedPnL)
	}
	if short.Direction != domain.DirectionShort || !approx(short.RealizedPnL, 25) {
		t.Errorf("short = %s pnl=%v, want short/25", short.Direction, short.RealizedPnL)
	}

	for i, want := range []string{long.ID, long.ID, short.ID, short.ID} {
		if plan.Assignments[i].CampaignID != want {
			t.Errorf("assignment[%d] = %s, want %s", i, plan.Assignments[i].CampaignID, want)
		}
	}
}

func TestRegroupTrailingStretchStaysOpen(t *testing.T) {
	plan := Regroup(RegroupInput{
		AccountID:  "acct-1",
		Symbol:     "AAPL",
		StrategyID: "strat-1",
		OrphanLegs: []domain.CampaignLeg{
			orphanLeg("leg-1", domain.SideBuy, domain.LegTypeOpen, 10, 100, t0),
			orphanLeg("leg-2", domain.SideSell, domain.LegTypeReduce, 4, 110, t0.Add(time.Hour)),
		},
	})

	if len(plan.Campaigns) != 1 {
		t.Fatalf("campaigns = %d, want 1", len(plan.Campaigns))
	}
	c := plan.Campaigns[0]
	if c.Status != domain.CampaignStatusOpen {
		t.Errorf("status = %s, want open", c.Status)
	}
	if !approx(c.RealizedPnL, 40) {
		t.Errorf("pnl = %v, want 40", c.RealizedPnL)
	}
}

func TestRegroupReusesOpenCampaign(t *testing.T) {
	reuse := openCampaignAt("open-1", "AAPL", domain.DirectionLong, t0)
	existing := []domain.CampaignLeg{
		orphanLeg("leg-0", domain.SideBuy, domain.LegTypeOpen, 10, 100, t0),
	}

	plan := Regroup(RegroupInput{
		AccountID:     "acct-1",
		Symbol:        "AAPL",
		StrategyID:    "strat-1",
		ReuseCampaign: &reuse,
		ReuseLegs:     existing,
		OrphanLegs: []domain.CampaignLeg{
			orphanLeg("leg-1", domain.SideSell, domain.LegTypeClose, 10, 110, t0.Add(time.Hour)),
			orphanLeg("leg-2", domain.SideBuy, domain.LegTypeOpen, 5, 120, t0.Add(2*time.Hour)),
		},
	})

	if plan.CampaignsCreated != 1 {
		t.Fatalf("campaigns created = %d, want 1 (plus the reused one)", plan.CampaignsCreated)
	}
	if len(plan.Campaigns) != 2 {
		t.Fatalf("campaigns = %d, want 2", len(plan.Campaigns))
	}
	reused := plan.Campaigns[0]
	if reused.ID != "open-1" || reused.Status != domain.CampaignStatusClosed {
		t.Errorf("reused = %s/%s, want open-1 closed", reused.ID, reused.Status)
	}
	if !approx(reused.RealizedPnL, 100) {
		t.Errorf("reused pnl = %v, want 100", reused.RealizedPnL)
	}
	if plan.Assignments[0].CampaignID != "open-1" {
		t.Errorf("closing leg assigned to %s, want open-1", plan.Assignments[0].CampaignID)
	}
	if plan.Assignments[1].CampaignID != plan.Campaigns[1].ID {
		t.Errorf("new opening leg assigned to %s", plan.Assignments[1].CampaignID)
	}
}

func TestUnwindThenRegroupPreservesPnL(t *testing.T) {
	legs := []domain.CampaignLeg{
		orphanLeg("leg-1", domain.SideBuy, domain.LegTypeOpen, 10, 100, t0),
		orphanLeg("leg-2", domain.SideSell, domain.LegTypeClose, 10, 110, t0.Add(time.Hour)),
	}
	unwind := PlanUnwind(UnwindInput{
		Campaigns: []domain.PositionCampaign{
			openCampaignAt("c1", "AAPL", domain.DirectionLong, t0),
		},
		LegsByCampaign: map[string][]domain.CampaignLeg{"c1": legs},
		Cutoff:         t0,
	})
	if len(unwind.DeleteCampaignIDs) != 1 {
		t.Fatalf("unwind should empty the campaign, got %+v", unwind)
	}

	plan := Regroup(RegroupInput{
		AccountID:  "acct-1",
		Symbol:     "AAPL",
		StrategyID: "strat-1",
		OrphanLegs: legs,
	})

	var total float64
	for _, c := range plan.Campaigns {
		total += c.RealizedPnL
	}
	if !approx(total, 100) {
		t.Errorf("regrouped pnl = %v, want 100 preserved", total)
	}
}
