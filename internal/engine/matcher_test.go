package engine

import (
	"math"
	"testing"
	"time"

	"tradejournal/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func mkFill(id string, side domain.Side, qty, price float64, at time.Time) domain.TradeFill {
	return domain.TradeFill{
		ID:         id,
		AccountID:  "acct-1",
		Symbol:     "AAPL",
		Side:       side,
		Quantity:   qty,
		Price:      price,
		ExecutedAt: at,
		Source:     domain.SourceBrokerSynced,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mustMatch(t *testing.T, in MatchInput) *MatchResult {
	t.Helper()
	in.AccountID = "acct-1"
	in.Symbol = "AAPL"
	res, err := Match(in)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	return res
}

func TestMatchLongRoundTrip(t *testing.T) {
	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideBuy, 10, 100, t0),
			mkFill("f2", domain.SideSell, 10, 110, t0.Add(2*time.Hour)),
		},
	})

	if len(res.NewLots) != 1 {
		t.Fatalf("lots = %d, want 1", len(res.NewLots))
	}
	lot := res.NewLots[0]
	if lot.Status != domain.LotStatusClosed || lot.RemainingQty != 0 {
		t.Errorf("lot status=%s remaining=%v, want closed/0", lot.Status, lot.RemainingQty)
	}
	if lot.OpenQty != 10 || lot.AvgOpenPrice != 100 {
		t.Errorf("lot open_qty=%v avg=%v", lot.OpenQty, lot.AvgOpenPrice)
	}

	if len(res.NewClosures) != 1 {
		t.Fatalf("closures = %d, want 1", len(res.NewClosures))
	}
	cl := res.NewClosures[0]
	if !approx(cl.RealizedPnL, 100) {
		t.Errorf("closure pnl = %v, want 100", cl.RealizedPnL)
	}
	if cl.OpenFillID != "f1" || cl.CloseFillID != "f2" {
		t.Errorf("closure fills = %s/%s", cl.OpenFillID, cl.CloseFillID)
	}

	if len(res.Campaigns) != 1 {
		t.Fatalf("campaigns = %d, want 1", len(res.Campaigns))
	}
	c := res.Campaigns[0]
	if c.Status != domain.CampaignStatusClosed {
		t.Fatalf("campaign status = %s, want closed", c.Status)
	}
	if c.Direction != domain.DirectionLong {
		t.Errorf("direction = %s, want long", c.Direction)
	}
	if !approx(c.RealizedPnL, 100) || !approx(c.ReturnPct, 10) {
		t.Errorf("pnl=%v return=%v, want 100/10", c.RealizedPnL, c.ReturnPct)
	}
	if !approx(c.AvgOpenPrice, 100) || !approx(c.AvgClosePrice, 110) {
		t.Errorf("avg open=%v close=%v", c.AvgOpenPrice, c.AvgClosePrice)
	}
	if c.HoldingPeriodSec != 7200 {
		t.Errorf("holding = %d, want 7200", c.HoldingPeriodSec)
	}
	if c.NumFills != 2 || c.MaxQty != 10 {
		t.Errorf("num_fills=%d max_qty=%v", c.NumFills, c.MaxQty)
	}
	if len(c.DerivedFrom.LotIDs) != 1 || len(c.DerivedFrom.ClosureIDs) != 1 {
		t.Errorf("derived_from = %+v", c.DerivedFrom)
	}

	if len(res.NewLegs) != 2 {
		t.Fatalf("legs = %d, want 2", len(res.NewLegs))
	}
	if res.NewLegs[0].LegType != domain.LegTypeOpen || res.NewLegs[1].LegType != domain.LegTypeClose {
		t.Errorf("leg types = %s, %s", res.NewLegs[0].LegType, res.NewLegs[1].LegType)
	}
	for _, leg := range res.NewLegs {
		if leg.CampaignID == nil || *leg.CampaignID != c.ID {
			t.Errorf("leg %s not attached to campaign", leg.LegType)
		}
	}

	want := MatchStats{FillsProcessed: 2, LotsCreated: 1, ClosuresCreated: 1, CampaignsCreated: 1, LegsCreated: 2}
	if res.Stats != want {
		t.Errorf("stats = %+v, want %+v", res.Stats, want)
	}
}

func TestMatchShortRoundTrip(t *testing.T) {
	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideSell, 10, 160, t0),
			mkFill("f2", domain.SideBuy, 10, 150, t0.Add(time.Hour)),
		},
	})

	if len(res.Campaigns) != 1 {
		t.Fatalf("campaigns = %d, want 1", len(res.Campaigns))
	}
	c := res.Campaigns[0]
	if c.Direction != domain.DirectionShort || c.Status != domain.CampaignStatusClosed {
		t.Fatalf("campaign = %s/%s", c.Direction, c.Status)
	}
	if !approx(c.RealizedPnL, 100) {
		t.Errorf("pnl = %v, want 100", c.RealizedPnL)
	}
	if len(res.NewClosures) != 1 || !approx(res.NewClosures[0].RealizedPnL, 100) {
		t.Errorf("closure = %+v", res.NewClosures)
	}
}

func TestMatchFlipSplitsLegsAndCampaigns(t *testing.T) {
	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideBuy, 10, 100, t0),
			mkFill("f2", domain.SideSell, 15, 110, t0.Add(time.Hour)),
		},
	})

	if len(res.Campaigns) != 2 {
		t.Fatalf("campaigns = %d, want 2", len(res.Campaigns))
	}
	long, short := res.Campaigns[0], res.Campaigns[1]
	if long.Status != domain.CampaignStatusClosed || !approx(long.RealizedPnL, 100) {
		t.Errorf("long campaign = %s pnl=%v, want closed/100", long.Status, long.RealizedPnL)
	}
	if short.Status != domain.CampaignStatusOpen || short.Direction != domain.DirectionShort {
		t.Errorf("short campaign = %s/%s, want open/short", short.Status, short.Direction)
	}
	if !approx(short.QtyOpened, 5) {
		t.Errorf("short qty_opened = %v, want 5", short.QtyOpened)
	}

	if len(res.NewLots) != 2 {
		t.Fatalf("lots = %d, want 2", len(res.NewLots))
	}
	if res.NewLots[1].Direction != domain.DirectionShort || !approx(res.NewLots[1].RemainingQty, 5) {
		t.Errorf("flip lot = %+v", res.NewLots[1])
	}

	// The flip fill must yield two legs with distinct quantities and two
	// allocations against the same fill.
	if len(res.NewLegs) != 3 {
		t.Fatalf("legs = %d, want 3", len(res.NewLegs))
	}
	fc, fo := res.NewLegs[1], res.NewLegs[2]
	if fc.LegType != domain.LegTypeFlipClose || !approx(fc.Quantity, 10) {
		t.Errorf("flip_close = %s qty=%v, want flip_close/10", fc.LegType, fc.Quantity)
	}
	if fo.LegType != domain.LegTypeFlipOpen || !approx(fo.Quantity, 5) {
		t.Errorf("flip_open = %s qty=%v, want flip_open/5", fo.LegType, fo.Quantity)
	}
	if fc.CampaignID == nil || *fc.CampaignID != long.ID {
		t.Errorf("flip_close attached to %v, want closed campaign", fc.CampaignID)
	}
	if fo.CampaignID == nil || *fo.CampaignID != short.ID {
		t.Errorf("flip_open attached to %v, want new campaign", fo.CampaignID)
	}

	var flipAllocs []domain.LegFillAllocation
	for _, a := range res.Allocations {
		if a.FillID == "f2" {
			flipAllocs = append(flipAllocs, a)
		}
	}
	if len(flipAllocs) != 2 {
		t.Fatalf("flip fill allocations = %d, want 2", len(flipAllocs))
	}
	if !approx(flipAllocs[0].AllocatedQty+flipAllocs[1].AllocatedQty, 15) {
		t.Errorf("flip allocations = %+v, want to sum to 15", flipAllocs)
	}
}

func TestMatchPartialCloseKeepsCampaignOpen(t *testing.T) {
	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideBuy, 10, 100, t0),
			mkFill("f2", domain.SideSell, 4, 110, t0.Add(time.Hour)),
		},
	})

	if len(res.NewLots) != 1 {
		t.Fatalf("lots = %d, want 1", len(res.NewLots))
	}
	lot := res.NewLots[0]
	if lot.Status != domain.LotStatusOpen || !approx(lot.RemainingQty, 6) {
		t.Errorf("lot = %s remaining=%v, want open/6", lot.Status, lot.RemainingQty)
	}
	if len(res.NewClosures) != 1 || !approx(res.NewClosures[0].MatchedQty, 4) {
		t.Fatalf("closures = %+v", res.NewClosures)
	}
	if !approx(res.NewClosures[0].RealizedPnL, 40) {
		t.Errorf("pnl = %v, want 40", res.NewClosures[0].RealizedPnL)
	}

	c := res.Campaigns[0]
	if c.Status != domain.CampaignStatusOpen {
		t.Errorf("campaign status = %s, want open", c.Status)
	}
	if len(res.NewLegs) != 2 || res.NewLegs[1].LegType != domain.LegTypeReduce {
		t.Errorf("legs = %+v", res.NewLegs)
	}
}

func TestMatchFIFOConsumesOldestLotFirst(t *testing.T) {
	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideBuy, 5, 100, t0),
			mkFill("f2", domain.SideBuy, 5, 110, t0.Add(time.Minute)),
			mkFill("f3", domain.SideSell, 7, 120, t0.Add(2*time.Minute)),
		},
	})

	if len(res.NewClosures) != 2 {
		t.Fatalf("closures = %d, want 2", len(res.NewClosures))
	}
	first, second := res.NewClosures[0], res.NewClosures[1]
	if first.OpenFillID != "f1" || !approx(first.MatchedQty, 5) || !approx(first.RealizedPnL, 100) {
		t.Errorf("first closure = %+v", first)
	}
	if second.OpenFillID != "f2" || !approx(second.MatchedQty, 2) || !approx(second.RealizedPnL, 20) {
		t.Errorf("second closure = %+v", second)
	}

	if len(res.NewLots) != 2 {
		t.Fatalf("lots = %d, want 2", len(res.NewLots))
	}
	if !approx(res.NewLots[0].RemainingQty, 0) || !approx(res.NewLots[1].RemainingQty, 3) {
		t.Errorf("remaining = %v, %v, want 0, 3", res.NewLots[0].RemainingQty, res.NewLots[1].RemainingQty)
	}

	if res.NewLegs[1].LegType != domain.LegTypeAdd || res.NewLegs[2].LegType != domain.LegTypeReduce {
		t.Errorf("leg types = %s, %s, want add, reduce", res.NewLegs[1].LegType, res.NewLegs[2].LegType)
	}
	if c := res.Campaigns[0]; c.MaxQty != 10 {
		t.Errorf("max_qty = %v, want 10", c.MaxQty)
	}
}

func TestMatchFeeAllocationProRata(t *testing.T) {
	f3 := mkFill("f3", domain.SideSell, 7, 120, t0.Add(2*time.Minute))
	f3.Fee = 0.7
	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideBuy, 5, 100, t0),
			mkFill("f2", domain.SideBuy, 5, 110, t0.Add(time.Minute)),
			f3,
		},
	})

	if len(res.NewClosures) != 2 {
		t.Fatalf("closures = %d, want 2", len(res.NewClosures))
	}
	if !approx(res.NewClosures[0].FeesAllocated, 0.5) {
		t.Errorf("first fees = %v, want 0.5", res.NewClosures[0].FeesAllocated)
	}
	if !approx(res.NewClosures[1].FeesAllocated, 0.2) {
		t.Errorf("second fees = %v, want 0.2", res.NewClosures[1].FeesAllocated)
	}
}

func TestMatchSkipsProcessedFills(t *testing.T) {
	campaignID := "camp-1"
	openLot := domain.PositionLot{
		ID:           "lot-1",
		AccountID:    "acct-1",
		Symbol:       "AAPL",
		Direction:    domain.DirectionLong,
		CampaignID:   &campaignID,
		OpenFillID:   "f1",
		OpenQty:      10,
		RemainingQty: 10,
		AvgOpenPrice: 100,
		Status:       domain.LotStatusOpen,
		OpenedAt:     t0,
	}
	campaign := domain.PositionCampaign{
		ID:        campaignID,
		AccountID: "acct-1",
		Symbol:    "AAPL",
		Direction: domain.DirectionLong,
		Status:    domain.CampaignStatusOpen,
		OpenedAt:  t0,
		QtyOpened: 10,
		MaxQty:    10,
		NumFills:  1,
	}

	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideBuy, 10, 100, t0),
			mkFill("f2", domain.SideSell, 10, 110, t0.Add(time.Hour)),
		},
		OpenLots:     []domain.PositionLot{openLot},
		OpenCampaign: &campaign,
		PriorLots:    []domain.PositionLot{openLot},
		Processed:    map[string]bool{"f1": true},
	})

	if res.Stats.FillsProcessed != 1 {
		t.Fatalf("fills processed = %d, want 1", res.Stats.FillsProcessed)
	}
	if len(res.NewLots) != 0 {
		t.Errorf("lots = %d, want 0", len(res.NewLots))
	}
	if len(res.NewClosures) != 1 || res.NewClosures[0].LotID != "lot-1" {
		t.Fatalf("closures = %+v", res.NewClosures)
	}
	if len(res.LotUpdates) != 1 {
		t.Fatalf("lot updates = %d, want 1", len(res.LotUpdates))
	}
	upd := res.LotUpdates[0]
	if upd.LotID != "lot-1" || upd.RemainingQty != 0 || upd.Status != domain.LotStatusClosed {
		t.Errorf("lot update = %+v", upd)
	}

	c := res.Campaigns[0]
	if c.ID != campaignID || c.Status != domain.CampaignStatusClosed {
		t.Errorf("campaign = %s/%s, want %s closed", c.ID, c.Status, campaignID)
	}
	if !approx(c.RealizedPnL, 100) || c.NumFills != 2 {
		t.Errorf("pnl=%v num_fills=%d", c.RealizedPnL, c.NumFills)
	}
}

func TestMatchAllProcessedIsNoop(t *testing.T) {
	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideBuy, 10, 100, t0),
			mkFill("f2", domain.SideSell, 10, 110, t0.Add(time.Hour)),
		},
		Processed: map[string]bool{"f1": true, "f2": true},
	})

	if res.Stats != (MatchStats{}) {
		t.Errorf("stats = %+v, want all zero", res.Stats)
	}
	if len(res.NewLots)+len(res.NewClosures)+len(res.NewLegs) != 0 {
		t.Errorf("result not empty: %+v", res)
	}
}

func TestMatchZeroCostCampaignReturnsZeroPct(t *testing.T) {
	res := mustMatch(t, MatchInput{
		Fills: []domain.TradeFill{
			mkFill("f1", domain.SideBuy, 10, 0, t0),
			mkFill("f2", domain.SideSell, 10, 5, t0.Add(time.Hour)),
		},
	})

	c := res.Campaigns[0]
	if c.ReturnPct != 0 {
		t.Errorf("return_pct = %v, want 0 on zero open cost", c.ReturnPct)
	}
	if !approx(c.RealizedPnL, 50) {
		t.Errorf("pnl = %v, want 50", c.RealizedPnL)
	}
}
