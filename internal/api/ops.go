package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tradejournal/internal/engine"
)

// RebuildResponse is the response body for POST /accounts/{id}/rebuild.
type RebuildResponse struct {
	Stats         engine.MatchStats `json:"stats"`
	FailedSymbols []string          `json:"failed_symbols,omitempty"`
}

// handleRebuild runs a matching pass for the account. With ?symbol= it
// rebuilds one partition; with ?reset=true it wipes the derived rows first
// and replays the whole history.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	q := r.URL.Query()

	start := time.Now()
	var resp RebuildResponse
	var err error

	switch {
	case q.Get("symbol") != "":
		resp.Stats, err = s.repo.RebuildSymbol(r.Context(), accountID, q.Get("symbol"))
	case q.Get("reset") == "true":
		resp.Stats, resp.FailedSymbols, err = s.repo.ResetAndRebuild(r.Context(), accountID)
	default:
		resp.Stats, resp.FailedSymbols, err = s.repo.RebuildAccount(r.Context(), accountID)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.metrics.RecordMatch(resp.Stats)
	s.metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	result, err := s.repo.Consolidate(r.Context(), accountID, r.URL.Query().Get("symbol"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.metrics.CampaignsConsolidated.Add(float64(result.CampaignsRemoved))
	writeJSON(w, http.StatusOK, result)
}

// UnwindRequest is the request body for POST /accounts/{id}/unwind.
type UnwindRequest struct {
	Symbol     string `json:"symbol"`
	StrategyID string `json:"strategy_id"`
	Cutoff     string `json:"cutoff"`
}

func (s *Server) handleUnwind(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	var req UnwindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Symbol == "" || req.StrategyID == "" {
		writeError(w, http.StatusBadRequest, "symbol and strategy_id are required")
		return
	}
	cutoff, err := time.Parse(time.RFC3339, req.Cutoff)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cutoff: must be RFC3339")
		return
	}

	result, err := s.repo.Unwind(r.Context(), accountID, req.Symbol, req.StrategyID, cutoff)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RegroupRequest is the request body for POST /accounts/{id}/regroup.
type RegroupRequest struct {
	Symbol     string `json:"symbol"`
	StrategyID string `json:"strategy_id"`
}

func (s *Server) handleRegroup(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	var req RegroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Symbol == "" || req.StrategyID == "" {
		writeError(w, http.StatusBadRequest, "symbol and strategy_id are required")
		return
	}

	result, err := s.repo.Regroup(r.Context(), accountID, req.Symbol, req.StrategyID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.metrics.LegsRegrouped.Add(float64(result.LegsGrouped))
	writeJSON(w, http.StatusOK, result)
}
