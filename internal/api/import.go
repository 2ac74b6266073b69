package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"tradejournal/internal/engine"
	"tradejournal/internal/ingest"
)

// ImportRequest is the request body for POST /api/v1/import.
type ImportRequest struct {
	Fills []ingest.FillEvent `json:"fills"`
}

// ImportResult holds the result of a single fill import.
type ImportResult struct {
	ExternalTradeID string `json:"external_trade_id"`
	Status          string `json:"status"` // "inserted", "duplicate", "error"
	Error           string `json:"error,omitempty"`
}

// ImportResponse is the response body for POST /api/v1/import.
type ImportResponse struct {
	Total      int               `json:"total"`
	Inserted   int               `json:"inserted"`
	Duplicates int               `json:"duplicates"`
	Errors     int               `json:"errors"`
	Results    []ImportResult    `json:"results"`
	Stats      engine.MatchStats `json:"stats"`
}

// sortFillsByExecution orders fills ascending by execution time for correct
// lot matching. Comparing the raw strings would misorder fills with
// differing UTC offsets, so compare the parsed instants; Validate already
// checked them.
func sortFillsByExecution(fills []ingest.FillEvent) {
	sort.SliceStable(fills, func(i, j int) bool {
		ti, _ := time.Parse(time.RFC3339, fills[i].ExecutedAt)
		tj, _ := time.Parse(time.RFC3339, fills[j].ExecutedAt)
		return ti.Before(tj)
	})
}

func (s *Server) handleImportFills(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if len(req.Fills) == 0 {
		writeError(w, http.StatusBadRequest, "fills array is empty")
		return
	}

	if len(req.Fills) > 1000 {
		writeError(w, http.StatusBadRequest, "too many fills: max 1000 per request")
		return
	}

	// Validate all fills up front before inserting any
	for i, event := range req.Fills {
		if err := event.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("fill[%d] (%s): %v", i, event.ExternalTradeID, err))
			return
		}
	}

	sortFillsByExecution(req.Fills)

	ctx := r.Context()
	resp := ImportResponse{
		Total:   len(req.Fills),
		Results: make([]ImportResult, 0, len(req.Fills)),
	}

	// Collect partitions that need a matching pass
	type partition struct{ account, symbol string }
	affected := make(map[partition]bool)

	for _, event := range req.Fills {
		result := ImportResult{ExternalTradeID: event.ExternalTradeID}

		fill, err := event.ToDomain()
		if err != nil {
			result.Status = "error"
			result.Error = err.Error()
			resp.Errors++
			resp.Results = append(resp.Results, result)
			continue
		}

		if _, err := s.repo.GetOrCreateAccount(ctx, fill.AccountID); err != nil {
			result.Status = "error"
			result.Error = fmt.Sprintf("account setup failed: %v", err)
			resp.Errors++
			resp.Results = append(resp.Results, result)
			continue
		}

		inserted, err := s.repo.IngestFill(ctx, fill, event.StrategyID)
		if err != nil {
			result.Status = "error"
			result.Error = err.Error()
			resp.Errors++
			resp.Results = append(resp.Results, result)
			continue
		}

		if inserted {
			result.Status = "inserted"
			resp.Inserted++
			s.metrics.FillsIngested.Inc()
			affected[partition{fill.AccountID, fill.Symbol}] = true
		} else {
			result.Status = "duplicate"
			resp.Duplicates++
		}
		resp.Results = append(resp.Results, result)
	}

	// Rebuild the touched partitions. A partition failure is reported but
	// does not undo the inserts or the other partitions.
	start := time.Now()
	for p := range affected {
		stats, err := s.repo.RebuildSymbol(ctx, p.account, p.symbol)
		if err != nil {
			log.Error().Err(err).
				Str("account_id", p.account).
				Str("symbol", p.symbol).
				Msg("post-import rebuild failed")
			continue
		}
		resp.Stats.Add(stats)
	}
	if len(affected) > 0 {
		s.metrics.RecordMatch(resp.Stats)
		s.metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	}

	status := http.StatusOK
	if resp.Errors > 0 && resp.Inserted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}
