package engine

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"tradejournal/internal/domain"
)

// flatEpsilon is the threshold below which a signed position counts as flat.
const flatEpsilon = 1e-9

// MatchInput carries everything one matcher pass needs for a single
// (account, symbol) partition. The FIFO queues are rebuilt from OpenLots on
// every invocation; the matcher keeps no state between calls.
type MatchInput struct {
	AccountID string
	Symbol    string

	// Fills is the full fill history for the partition, ascending by
	// execution time.
	Fills []domain.TradeFill

	// OpenLots are the currently open lots, ascending by opened_at.
	OpenLots []domain.PositionLot

	// OpenCampaign is the open campaign the open lots belong to, if any.
	// When duplicate open campaigns exist the caller passes the earliest;
	// the consolidator repairs the rest.
	OpenCampaign *domain.PositionCampaign

	// PriorLots and PriorClosures are the already-persisted rows belonging
	// to OpenCampaign, needed to finalize it with complete aggregates.
	PriorLots     []domain.PositionLot
	PriorClosures []domain.LotClosure

	// Processed holds fill IDs already recorded as a lot's opening fill or
	// a closure's closing fill. Such fills advance the position tracker but
	// produce no new rows.
	Processed map[string]bool
}

// LotUpdate is a mutation to an already-persisted lot.
type LotUpdate struct {
	LotID        string
	RemainingQty float64
	Status       domain.LotStatus
}

// MatchStats counts the records produced by one pass.
type MatchStats struct {
	FillsProcessed   int `json:"fills_processed"`
	LotsCreated      int `json:"lots_created"`
	ClosuresCreated  int `json:"closures_created"`
	CampaignsCreated int `json:"campaigns_created"`
	LegsCreated      int `json:"legs_created"`
}

// Add accumulates counts from another pass.
func (s *MatchStats) Add(o MatchStats) {
	s.FillsProcessed += o.FillsProcessed
	s.LotsCreated += o.LotsCreated
	s.ClosuresCreated += o.ClosuresCreated
	s.CampaignsCreated += o.CampaignsCreated
	s.LegsCreated += o.LegsCreated
}

// MatchResult is everything one pass produced. The caller persists the whole
// result in a single transaction or not at all.
type MatchResult struct {
	NewLots     []*domain.PositionLot
	LotUpdates  []LotUpdate
	NewClosures []domain.LotClosure
	// Campaigns holds every campaign the pass created or mutated,
	// including the seeded open campaign; callers upsert all of them.
	Campaigns   []*domain.PositionCampaign
	NewLegs     []*domain.CampaignLeg
	Allocations []domain.LegFillAllocation
	Stats       MatchStats
}

type lotRef struct {
	lot    *domain.PositionLot
	seeded bool
	dirty  bool
}

type matcher struct {
	in  MatchInput
	res *MatchResult

	longs  []*lotRef
	shorts []*lotRef
	seeded []*lotRef

	// position is the signed net quantity tracked across the whole fill
	// history, including already-processed fills.
	position float64

	campaign     *domain.PositionCampaign
	campLots     []domain.PositionLot
	campClosures []domain.LotClosure
	campFillIDs  map[string]bool
}

// Match runs one FIFO matching pass over the partition's fill history and
// returns the lots, closures, campaigns, and legs required to bring the
// ledger up to date without duplicating already-recorded work.
func Match(in MatchInput) (*MatchResult, error) {
	if in.Processed == nil {
		in.Processed = map[string]bool{}
	}
	m := &matcher{
		in:          in,
		res:         &MatchResult{},
		campFillIDs: map[string]bool{},
	}
	m.seed()

	for i := range in.Fills {
		if err := m.apply(&in.Fills[i]); err != nil {
			return nil, fmt.Errorf("match %s/%s: %w", in.AccountID, in.Symbol, err)
		}
	}

	for _, ref := range m.seeded {
		if ref.dirty {
			m.res.LotUpdates = append(m.res.LotUpdates, LotUpdate{
				LotID:        ref.lot.ID,
				RemainingQty: ref.lot.RemainingQty,
				Status:       ref.lot.Status,
			})
		}
	}
	return m.res, nil
}

func (m *matcher) seed() {
	for i := range m.in.OpenLots {
		lot := m.in.OpenLots[i]
		ref := &lotRef{lot: &lot, seeded: true}
		if lot.Direction == domain.DirectionLong {
			m.longs = append(m.longs, ref)
		} else {
			m.shorts = append(m.shorts, ref)
		}
		m.seeded = append(m.seeded, ref)
	}

	if m.in.OpenCampaign != nil {
		c := *m.in.OpenCampaign
		m.campaign = &c
		m.res.Campaigns = append(m.res.Campaigns, &c)
		m.campLots = append(m.campLots, m.in.PriorLots...)
		m.campClosures = append(m.campClosures, m.in.PriorClosures...)
		for _, l := range m.in.PriorLots {
			m.campFillIDs[l.OpenFillID] = true
		}
		for _, cl := range m.in.PriorClosures {
			m.campFillIDs[cl.CloseFillID] = true
		}
	}
}

func (m *matcher) queuesEmpty() bool {
	return len(m.longs) == 0 && len(m.shorts) == 0
}

func (m *matcher) apply(f *domain.TradeFill) error {
	prev := m.position
	if f.Side == domain.SideBuy {
		m.position += f.Quantity
	} else {
		m.position -= f.Quantity
	}
	next := m.position

	if m.in.Processed[f.ID] {
		// Already recorded; its inventory effect is reflected in the
		// seeded lots. Only the position tracker advances.
		return nil
	}

	m.res.Stats.FillsProcessed++

	closeQueue := &m.longs
	if f.Side == domain.SideBuy {
		closeQueue = &m.shorts
	}
	matched, err := m.closeFIFO(closeQueue, f)
	if err != nil {
		return err
	}
	remainder := f.Quantity - matched
	if remainder <= flatEpsilon {
		remainder = 0
	}

	// A fill that drains both queues ends the active campaign. On a flip
	// the remainder below opens the opposite-direction campaign within the
	// same pass.
	var closed *domain.PositionCampaign
	if matched > 0 && m.queuesEmpty() {
		closed = m.finalizeActive(f)
	}

	if remainder > 0 {
		if m.campaign == nil {
			m.openCampaign(f)
		}
		m.openLot(f, remainder)
	}

	if m.campaign != nil {
		if abs := math.Abs(next); abs > m.campaign.MaxQty {
			m.campaign.MaxQty = abs
		}
		m.campaign.NumFills = len(m.campFillIDs)
	}

	m.emitLegs(f, prev, next, matched, remainder, closed)
	return nil
}

// closeFIFO consumes the oldest open lots first, creating one closure per
// matched lot, until the fill's quantity is exhausted or the queue drains.
func (m *matcher) closeFIFO(queue *[]*lotRef, f *domain.TradeFill) (float64, error) {
	var matched float64
	need := f.Quantity

	for need > flatEpsilon && len(*queue) > 0 {
		ref := (*queue)[0]
		lot := ref.lot
		if lot.RemainingQty <= 0 {
			return 0, fmt.Errorf("lot %s has non-positive remaining qty %v", lot.ID, lot.RemainingQty)
		}

		take := need
		if lot.RemainingQty < take {
			take = lot.RemainingQty
		}

		var pnl float64
		if lot.Direction == domain.DirectionLong {
			pnl = (f.Price - lot.AvgOpenPrice) * take
		} else {
			pnl = (lot.AvgOpenPrice - f.Price) * take
		}

		closure := domain.LotClosure{
			ID:            uuid.NewString(),
			LotID:         lot.ID,
			OpenFillID:    lot.OpenFillID,
			CloseFillID:   f.ID,
			MatchedQty:    take,
			OpenPrice:     lot.AvgOpenPrice,
			ClosePrice:    f.Price,
			RealizedPnL:   pnl,
			FeesAllocated: f.Fee * (take / f.Quantity),
			MatchMethod:   domain.MatchMethodFIFO,
			ClosedAt:      f.ExecutedAt,
		}
		m.res.NewClosures = append(m.res.NewClosures, closure)
		m.campClosures = append(m.campClosures, closure)
		m.res.Stats.ClosuresCreated++
		m.campFillIDs[f.ID] = true

		lot.RemainingQty -= take
		ref.dirty = true
		need -= take
		matched += take

		if lot.RemainingQty <= flatEpsilon {
			lot.RemainingQty = 0
			lot.Status = domain.LotStatusClosed
			*queue = (*queue)[1:]
		}
	}
	return matched, nil
}

func (m *matcher) openCampaign(f *domain.TradeFill) {
	source := f.Source
	if source == "" {
		source = domain.SourceBrokerSynced
	}
	c := &domain.PositionCampaign{
		ID:        uuid.NewString(),
		AccountID: m.in.AccountID,
		Symbol:    m.in.Symbol,
		Direction: domain.DirectionForSide(f.Side),
		Status:    domain.CampaignStatusOpen,
		OpenedAt:  f.ExecutedAt,
		Source:    source,
	}
	m.campaign = c
	m.campLots = nil
	m.campClosures = nil
	m.campFillIDs = map[string]bool{}
	m.res.Campaigns = append(m.res.Campaigns, c)
	m.res.Stats.CampaignsCreated++
}

func (m *matcher) openLot(f *domain.TradeFill, qty float64) {
	dir := domain.DirectionForSide(f.Side)
	campaignID := m.campaign.ID
	lot := &domain.PositionLot{
		ID:           uuid.NewString(),
		AccountID:    m.in.AccountID,
		Symbol:       m.in.Symbol,
		Direction:    dir,
		CampaignID:   &campaignID,
		OpenFillID:   f.ID,
		OpenQty:      qty,
		RemainingQty: qty,
		AvgOpenPrice: f.Price,
		Status:       domain.LotStatusOpen,
		OpenedAt:     f.ExecutedAt,
	}
	ref := &lotRef{lot: lot}
	if dir == domain.DirectionLong {
		m.longs = append(m.longs, ref)
	} else {
		m.shorts = append(m.shorts, ref)
	}
	m.res.NewLots = append(m.res.NewLots, lot)
	m.res.Stats.LotsCreated++

	m.campaign.QtyOpened += qty
	m.campLots = append(m.campLots, *lot)
	m.campFillIDs[f.ID] = true
}

// finalizeActive closes the active campaign and resets matcher state to
// flat. Returns the campaign that was closed.
func (m *matcher) finalizeActive(f *domain.TradeFill) *domain.PositionCampaign {
	c := m.campaign
	if c == nil {
		return nil
	}
	FinalizeCampaign(c, m.campLots, m.campClosures)
	c.NumFills = len(m.campFillIDs)

	m.campaign = nil
	m.campLots = nil
	m.campClosures = nil
	m.campFillIDs = map[string]bool{}
	return c
}
