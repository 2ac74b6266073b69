package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradejournal/internal/domain"
)

// FillEvent is the JSON structure for fill events received via NATS.
type FillEvent struct {
	ExternalTradeID string  `json:"external_trade_id"`
	AccountID       string  `json:"account_id"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Quantity        float64 `json:"quantity"`
	Price           float64 `json:"price"`
	Fee             float64 `json:"fee"`
	ExecutedAt      string  `json:"executed_at"`
	Source          string  `json:"source,omitempty"`

	// Optional trader annotations, copied to the fill's decision context.
	StrategyID string `json:"strategy_id,omitempty"`
}

// Validate checks that the fill event has all required fields and valid values.
func (e *FillEvent) Validate() error {
	if e.ExternalTradeID == "" {
		return fmt.Errorf("missing required field: external_trade_id")
	}
	if e.AccountID == "" {
		return fmt.Errorf("missing required field: account_id")
	}
	if e.Symbol == "" {
		return fmt.Errorf("missing required field: symbol")
	}
	if e.Side != "buy" && e.Side != "sell" {
		return fmt.Errorf("invalid side: %q (must be buy or sell)", e.Side)
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %f", e.Quantity)
	}
	if e.Price <= 0 {
		return fmt.Errorf("price must be positive, got %f", e.Price)
	}
	if e.ExecutedAt == "" {
		return fmt.Errorf("missing required field: executed_at")
	}
	if _, err := time.Parse(time.RFC3339, e.ExecutedAt); err != nil {
		return fmt.Errorf("invalid executed_at: %w", err)
	}
	switch e.Source {
	case "", "broker_synced", "manual", "proposed":
	default:
		return fmt.Errorf("invalid source: %q", e.Source)
	}
	return nil
}

// ToDomain converts a FillEvent to a domain TradeFill with a fresh ID.
func (e *FillEvent) ToDomain() (*domain.TradeFill, error) {
	ts, err := time.Parse(time.RFC3339, e.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("parse executed_at: %w", err)
	}

	source := domain.FillSource(e.Source)
	if e.Source == "" {
		source = domain.SourceBrokerSynced
	}

	return &domain.TradeFill{
		ID:              uuid.NewString(),
		AccountID:       e.AccountID,
		Symbol:          e.Symbol,
		Side:            domain.Side(e.Side),
		Quantity:        e.Quantity,
		Price:           e.Price,
		Fee:             e.Fee,
		ExecutedAt:      ts,
		ExternalTradeID: e.ExternalTradeID,
		Source:          source,
		IngestedAt:      time.Now(),
	}, nil
}
