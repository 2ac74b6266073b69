package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"tradejournal/internal/domain"
)

func invert(d domain.Direction) domain.Direction {
	if d == domain.DirectionLong {
		return domain.DirectionShort
	}
	return domain.DirectionLong
}

// ClassifyTransition maps a signed position transition to leg types. A sign
// flip yields both a closing and an opening type; every other transition
// yields exactly one.
func ClassifyTransition(prev, next float64) (domain.LegType, domain.LegType, bool) {
	wasFlat := math.Abs(prev) <= flatEpsilon
	isFlat := math.Abs(next) <= flatEpsilon

	switch {
	case wasFlat && !isFlat:
		return domain.LegTypeOpen, "", false
	case !wasFlat && isFlat:
		return domain.LegTypeClose, "", false
	case prev > 0 && next < 0, prev < 0 && next > 0:
		return domain.LegTypeFlipClose, domain.LegTypeFlipOpen, true
	case math.Abs(next) > math.Abs(prev):
		return domain.LegTypeAdd, "", false
	default:
		return domain.LegTypeReduce, "", false
	}
}

// emitLegs records the typed leg(s) for one fill. Closing legs carry the
// direction of the position they reduced; opening legs carry the direction
// the fill establishes. A flip fill produces two legs with two allocations
// against the same fill.
func (m *matcher) emitLegs(f *domain.TradeFill, prev, next, matched, remainder float64, closed *domain.PositionCampaign) {
	first, second, flipped := ClassifyTransition(prev, next)
	if first == "" {
		return
	}

	if flipped {
		m.addLeg(f, first, matched, campaignIDOf(closed))
		m.addLeg(f, second, remainder, campaignIDOf(m.campaign))
		return
	}

	qty := f.Quantity
	var campaignID *string
	switch first {
	case domain.LegTypeOpen, domain.LegTypeAdd:
		qty = remainder
		campaignID = campaignIDOf(m.campaign)
	case domain.LegTypeReduce:
		qty = matched
		campaignID = campaignIDOf(m.campaign)
	case domain.LegTypeClose:
		qty = matched
		campaignID = campaignIDOf(closed)
	}
	if qty <= flatEpsilon {
		qty = f.Quantity
	}
	m.addLeg(f, first, qty, campaignID)
}

func campaignIDOf(c *domain.PositionCampaign) *string {
	if c == nil {
		return nil
	}
	id := c.ID
	return &id
}

func (m *matcher) addLeg(f *domain.TradeFill, legType domain.LegType, qty float64, campaignID *string) {
	dir := domain.DirectionForSide(f.Side)
	var endedAt *time.Time
	switch legType {
	case domain.LegTypeClose, domain.LegTypeFlipClose, domain.LegTypeReduce:
		dir = invert(dir)
		t := f.ExecutedAt
		endedAt = &t
	}

	leg := &domain.CampaignLeg{
		ID:         uuid.NewString(),
		AccountID:  m.in.AccountID,
		CampaignID: campaignID,
		Symbol:     m.in.Symbol,
		Direction:  dir,
		Side:       f.Side,
		LegType:    legType,
		Quantity:   qty,
		AvgPrice:   f.Price,
		StartedAt:  f.ExecutedAt,
		EndedAt:    endedAt,
		FillCount:  1,
	}
	m.res.NewLegs = append(m.res.NewLegs, leg)
	m.res.Allocations = append(m.res.Allocations, domain.LegFillAllocation{
		LegID:        leg.ID,
		FillID:       f.ID,
		AllocatedQty: qty,
	})
	m.res.Stats.LegsCreated++
}
