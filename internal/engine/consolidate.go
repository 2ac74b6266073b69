package engine

import (
	"sort"

	"tradejournal/internal/domain"
)

// ConsolidationGroup is one set of duplicate open campaigns for a
// (symbol, direction): the earliest-opened campaign absorbs the rest.
type ConsolidationGroup struct {
	Symbol    string
	Direction domain.Direction
	KeeperID  string
	MergeIDs  []string
}

// PlanConsolidation groups open campaigns by (symbol, direction) and, for
// every group with more than one member, picks the earliest-opened campaign
// as keeper and marks the rest for merging. The store reassigns lots, legs,
// decision contexts, and evaluations to the keeper and deletes the emptied
// duplicates in one transaction.
func PlanConsolidation(open []domain.PositionCampaign) []ConsolidationGroup {
	type key struct {
		symbol    string
		direction domain.Direction
	}
	byKey := map[key][]domain.PositionCampaign{}
	for _, c := range open {
		if c.Status != domain.CampaignStatusOpen {
			continue
		}
		k := key{c.Symbol, c.Direction}
		byKey[k] = append(byKey[k], c)
	}

	var groups []ConsolidationGroup
	for k, members := range byKey {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].OpenedAt.Equal(members[j].OpenedAt) {
				return members[i].ID < members[j].ID
			}
			return members[i].OpenedAt.Before(members[j].OpenedAt)
		})
		g := ConsolidationGroup{
			Symbol:    k.symbol,
			Direction: k.direction,
			KeeperID:  members[0].ID,
		}
		for _, m := range members[1:] {
			g.MergeIDs = append(g.MergeIDs, m.ID)
		}
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Symbol == groups[j].Symbol {
			return groups[i].Direction < groups[j].Direction
		}
		return groups[i].Symbol < groups[j].Symbol
	})
	return groups
}
