package engine

import (
	"time"

	"tradejournal/internal/domain"
)

// FinalizeCampaign stamps a campaign closed, computing its summary metrics
// from the lots it opened and the closures that drained them. Metrics are
// recomputed from scratch so repeated finalization is harmless.
func FinalizeCampaign(c *domain.PositionCampaign, lots []domain.PositionLot, closures []domain.LotClosure) {
	var (
		qtyOpened     float64
		qtyClosed     float64
		openNotional  float64
		closeNotional float64
		pnl           float64
		closedAt      time.Time
		lotIDs        []string
		closureIDs    []string
	)

	for _, l := range lots {
		qtyOpened += l.OpenQty
		openNotional += l.OpenQty * l.AvgOpenPrice
		lotIDs = append(lotIDs, l.ID)
	}
	for _, cl := range closures {
		qtyClosed += cl.MatchedQty
		closeNotional += cl.MatchedQty * cl.ClosePrice
		pnl += cl.RealizedPnL
		if cl.ClosedAt.After(closedAt) {
			closedAt = cl.ClosedAt
		}
		closureIDs = append(closureIDs, cl.ID)
	}

	c.Status = domain.CampaignStatusClosed
	c.QtyOpened = qtyOpened
	c.QtyClosed = qtyClosed
	c.RealizedPnL = pnl
	if qtyOpened > 0 {
		c.AvgOpenPrice = openNotional / qtyOpened
	}
	if qtyClosed > 0 {
		c.AvgClosePrice = closeNotional / qtyClosed
	}
	if !closedAt.IsZero() {
		t := closedAt
		c.ClosedAt = &t
		c.HoldingPeriodSec = int64(closedAt.Sub(c.OpenedAt).Seconds())
	}

	// Return is measured against capital deployed at open; zero deployed
	// capital yields zero return rather than a division error.
	denom := qtyOpened * c.AvgOpenPrice
	if denom != 0 {
		c.ReturnPct = pnl / denom * 100
	} else {
		c.ReturnPct = 0
	}

	c.DerivedFrom = domain.DerivedFrom{LotIDs: lotIDs, ClosureIDs: closureIDs}
}

// FinalizeCampaignFromLegs recomputes a regrouped campaign's metrics from
// its legs alone, used when the lot-level rows stayed attached to the
// original campaigns. Opening legs contribute to the open side, closing
// legs to the close side; P&L is the quantity-weighted price spread.
func FinalizeCampaignFromLegs(c *domain.PositionCampaign, legs []domain.CampaignLeg) {
	var (
		qtyOpened     float64
		qtyClosed     float64
		openNotional  float64
		closeNotional float64
		maxQty        float64
		running       float64
		closedAt      time.Time
	)

	c.NumFills = 0
	for _, leg := range legs {
		switch leg.LegType {
		case domain.LegTypeOpen, domain.LegTypeAdd, domain.LegTypeFlipOpen:
			qtyOpened += leg.Quantity
			openNotional += leg.Quantity * leg.AvgPrice
			running += leg.Quantity
		case domain.LegTypeReduce, domain.LegTypeClose, domain.LegTypeFlipClose:
			qtyClosed += leg.Quantity
			closeNotional += leg.Quantity * leg.AvgPrice
			running -= leg.Quantity
			if leg.EndedAt != nil && leg.EndedAt.After(closedAt) {
				closedAt = *leg.EndedAt
			} else if leg.StartedAt.After(closedAt) {
				closedAt = leg.StartedAt
			}
		}
		if running > maxQty {
			maxQty = running
		}
		c.NumFills += leg.FillCount
	}

	c.QtyOpened = qtyOpened
	c.QtyClosed = qtyClosed
	c.MaxQty = maxQty
	if qtyOpened > 0 {
		c.AvgOpenPrice = openNotional / qtyOpened
	}
	if qtyClosed > 0 {
		c.AvgClosePrice = closeNotional / qtyClosed
	}

	if qtyClosed > 0 {
		spread := c.AvgClosePrice - c.AvgOpenPrice
		if c.Direction == domain.DirectionShort {
			spread = -spread
		}
		c.RealizedPnL = spread * qtyClosed
	}

	if running <= flatEpsilon && qtyClosed > 0 {
		c.Status = domain.CampaignStatusClosed
		if !closedAt.IsZero() {
			t := closedAt
			c.ClosedAt = &t
			c.HoldingPeriodSec = int64(closedAt.Sub(c.OpenedAt).Seconds())
		}
	} else {
		c.Status = domain.CampaignStatusOpen
	}

	denom := qtyOpened * c.AvgOpenPrice
	if denom != 0 {
		c.ReturnPct = c.RealizedPnL / denom * 100
	} else {
		c.ReturnPct = 0
	}
}
