package domain

import (
	"time"
)

// Side represents the direction of a single fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Direction represents the direction of a lot, campaign, or leg.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// LotStatus represents the status of a position lot.
type LotStatus string

const (
	LotStatusOpen   LotStatus = "open"
	LotStatusClosed LotStatus = "closed"
)

// CampaignStatus represents the status of a position campaign.
type CampaignStatus string

const (
	CampaignStatusOpen   CampaignStatus = "open"
	CampaignStatusClosed CampaignStatus = "closed"
)

// LegType classifies what a leg did to the position.
type LegType string

const (
	LegTypeOpen      LegType = "open"
	LegTypeAdd       LegType = "add"
	LegTypeReduce    LegType = "reduce"
	LegTypeClose     LegType = "close"
	LegTypeFlipClose LegType = "flip_close"
	LegTypeFlipOpen  LegType = "flip_open"
)

// FillSource records where a fill came from.
type FillSource string

const (
	SourceBrokerSynced FillSource = "broker_synced"
	SourceManual       FillSource = "manual"
	SourceProposed     FillSource = "proposed"
)

// MatchMethodFIFO is the only lot-matching discipline currently implemented.
const MatchMethodFIFO = "fifo"

// DirectionForSide returns the position direction a fill of the given side opens.
func DirectionForSide(side Side) Direction {
	if side == SideBuy {
		return DirectionLong
	}
	return DirectionShort
}

// Account represents a trading account.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeFill is one executed trade. Fills are append-only input to the
// reconstruction engine and are never mutated by it.
type TradeFill struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	Symbol          string     `json:"symbol"`
	Side            Side       `json:"side"`
	Quantity        float64    `json:"quantity"`
	Price           float64    `json:"price"`
	Fee             float64    `json:"fee"`
	ExecutedAt      time.Time  `json:"executed_at"`
	ExternalTradeID string     `json:"external_trade_id,omitempty"`
	Source          FillSource `json:"source"`
	IngestedAt      time.Time  `json:"ingested_at"`
}

// PositionLot is one open-inventory unit created by a single opening fill
// and drawn down FIFO by later closures.
type PositionLot struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	CampaignID   *string   `json:"campaign_id,omitempty"`
	OpenFillID   string    `json:"open_fill_id"`
	OpenQty      float64   `json:"open_qty"`
	RemainingQty float64   `json:"remaining_qty"`
	AvgOpenPrice float64   `json:"avg_open_price"`
	Status       LotStatus `json:"status"`
	OpenedAt     time.Time `json:"opened_at"`
}

// LotClosure pairs one lot with one closing fill for a partial or full
// quantity. Immutable once created.
type LotClosure struct {
	ID            string    `json:"id"`
	LotID         string    `json:"lot_id"`
	OpenFillID    string    `json:"open_fill_id"`
	CloseFillID   string    `json:"close_fill_id"`
	MatchedQty    float64   `json:"matched_qty"`
	OpenPrice     float64   `json:"open_price"`
	ClosePrice    float64   `json:"close_price"`
	RealizedPnL   float64   `json:"realized_pnl"`
	FeesAllocated float64   `json:"fees_allocated"`
	MatchMethod   string    `json:"match_method"`
	ClosedAt      time.Time `json:"closed_at"`
}

// DerivedFrom records the lot and closure rows a finalized campaign's
// metrics were computed from.
type DerivedFrom struct {
	LotIDs     []string `json:"lot_ids"`
	ClosureIDs []string `json:"closure_ids"`
}

// PositionCampaign is one directional round trip (flat to flat, or still
// open) for an (account, symbol, direction).
type PositionCampaign struct {
	ID               string         `json:"id"`
	AccountID        string         `json:"account_id"`
	Symbol           string         `json:"symbol"`
	Direction        Direction      `json:"direction"`
	Status           CampaignStatus `json:"status"`
	OpenedAt         time.Time      `json:"opened_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	QtyOpened        float64        `json:"qty_opened"`
	QtyClosed        float64        `json:"qty_closed"`
	MaxQty           float64        `json:"max_qty"`
	AvgOpenPrice     float64        `json:"avg_open_price"`
	AvgClosePrice    float64        `json:"avg_close_price"`
	RealizedPnL      float64        `json:"realized_pnl"`
	ReturnPct        float64        `json:"return_pct"`
	HoldingPeriodSec int64          `json:"holding_period_sec"`
	NumFills         int            `json:"num_fills"`
	Source           FillSource     `json:"source"`
	DerivedFrom      DerivedFrom    `json:"derived_from"`
}

// CampaignLeg is a semantically typed sub-event of a campaign. A nil
// CampaignID means the leg is orphaned and pending regrouping.
type CampaignLeg struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	CampaignID *string    `json:"campaign_id,omitempty"`
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"`
	Side       Side       `json:"side"`
	LegType    LegType    `json:"leg_type"`
	Quantity   float64    `json:"quantity"`
	AvgPrice   float64    `json:"avg_price"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	FillCount  int        `json:"fill_count"`
}

// LegFillAllocation attributes a fraction of a fill's quantity to a leg.
type LegFillAllocation struct {
	LegID        string  `json:"leg_id"`
	FillID       string  `json:"fill_id"`
	AllocatedQty float64 `json:"allocated_qty"`
}

// DecisionContext is the trader's annotation attached 1-to-1 with a fill.
// The engine reads the strategy tag as a partitioning key and clears
// references on orphaning; it never touches the narrative fields.
type DecisionContext struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	FillID      string    `json:"fill_id"`
	CampaignID  *string   `json:"campaign_id,omitempty"`
	LegID       *string   `json:"leg_id,omitempty"`
	ContextType string    `json:"context_type"`
	StrategyID  *string   `json:"strategy_id,omitempty"`
	Hypothesis  *string   `json:"hypothesis,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Evaluation is a campaign- or leg-scoped review record. Created by the
// behavioral evaluator framework outside this engine; consolidation
// reassigns it and campaign deletion orphans it.
type Evaluation struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	CampaignID   *string   `json:"campaign_id,omitempty"`
	LegID        *string   `json:"leg_id,omitempty"`
	EvalScope    string    `json:"eval_scope"`
	OverallLabel *string   `json:"overall_label,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
