package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tradejournal/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	q := r.URL.Query()

	filter := store.CampaignFilter{
		Symbol: q.Get("symbol"),
		Status: q.Get("status"),
		Cursor: q.Get("cursor"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if filter.Status != "" && filter.Status != "open" && filter.Status != "closed" {
		writeError(w, http.StatusBadRequest, "invalid status: must be open or closed")
		return
	}

	result, err := s.repo.ListCampaigns(r.Context(), accountID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	campaignID := chi.URLParam(r, "campaignId")

	detail, err := s.repo.GetCampaign(r.Context(), accountID, campaignID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	campaignID := chi.URLParam(r, "campaignId")

	if err := s.repo.DeleteCampaign(r.Context(), accountID, campaignID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "campaign_id": campaignID})
}

func (s *Server) handleListFills(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	q := r.URL.Query()

	filter := store.FillFilter{
		Symbol: q.Get("symbol"),
		Side:   q.Get("side"),
		Cursor: q.Get("cursor"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: must be RFC3339")
			return
		}
		filter.Start = &ts
	}
	if v := q.Get("end"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end: must be RFC3339")
			return
		}
		filter.End = &ts
	}

	result, err := s.repo.ListFills(r.Context(), accountID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
