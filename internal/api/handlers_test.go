package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"tradejournal/internal/ingest"
	"tradejournal/internal/observability"
)

func testServer() *Server {
	return &Server{
		repo:    nil,
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
}

func TestRouterHasCorrectGETRoutes(t *testing.T) {
	router := testServer().Router()

	paths := []string{
		"/health",
		"/metrics",
		"/api/v1/accounts/test/campaigns",
		"/api/v1/accounts/test/campaigns/abc",
		"/api/v1/accounts/test/fills",
	}

	for _, path := range paths {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code == http.StatusNotFound {
			t.Errorf("GET %s: got 404, route not registered", path)
		}
		if w.Code == http.StatusMethodNotAllowed {
			t.Errorf("GET %s: got 405, GET should be allowed", path)
		}
	}
}

func TestOperationRoutesRequirePOST(t *testing.T) {
	router := testServer().Router()

	paths := []string{
		"/api/v1/import",
		"/api/v1/accounts/test/rebuild",
		"/api/v1/accounts/test/consolidate",
		"/api/v1/accounts/test/unwind",
		"/api/v1/accounts/test/regroup",
	}

	for _, path := range paths {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: expected 405, got %d", path, w.Code)
		}
	}
}

func TestImportRejectsEmptyBody(t *testing.T) {
	router := testServer().Router()

	body := `{"fills": []}`
	req := httptest.NewRequest("POST", "/api/v1/import", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestImportRejectsInvalidFillBeforeInserting(t *testing.T) {
	router := testServer().Router()

	// Second fill has a non-positive quantity; the whole batch must be
	// rejected up front (nil repo would panic if any insert were tried).
	body := `{"fills": [
		{"external_trade_id": "t1", "account_id": "a", "symbol": "AAPL", "side": "buy",
		 "quantity": 10, "price": 100, "executed_at": "2024-05-01T09:30:00Z"},
		{"external_trade_id": "t2", "account_id": "a", "symbol": "AAPL", "side": "sell",
		 "quantity": 0, "price": 110, "executed_at": "2024-05-01T10:30:00Z"}
	]}`
	req := httptest.NewRequest("POST", "/api/v1/import", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["error"] == "" {
		t.Error("expected error message naming the bad fill")
	}
}

func TestImportRejectsMalformedJSON(t *testing.T) {
	router := testServer().Router()

	req := httptest.NewRequest("POST", "/api/v1/import", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSortFillsComparesInstantsNotStrings(t *testing.T) {
	// "10:30+02:00" is 08:30 UTC and must sort before "09:00Z", even though
	// the raw strings order the other way.
	fills := []ingest.FillEvent{
		{ExternalTradeID: "later", ExecutedAt: "2024-05-01T09:00:00Z"},
		{ExternalTradeID: "earlier", ExecutedAt: "2024-05-01T10:30:00+02:00"},
	}

	sortFillsByExecution(fills)

	if fills[0].ExternalTradeID != "earlier" || fills[1].ExternalTradeID != "later" {
		t.Errorf("order = [%s, %s], want [earlier, later]",
			fills[0].ExternalTradeID, fills[1].ExternalTradeID)
	}
}

func TestUnwindValidatesRequest(t *testing.T) {
	router := testServer().Router()

	tests := []struct {
		name string
		body string
	}{
		{"missing strategy", `{"symbol": "AAPL", "cutoff": "2024-05-01T00:00:00Z"}`},
		{"missing symbol", `{"strategy_id": "s1", "cutoff": "2024-05-01T00:00:00Z"}`},
		{"bad cutoff", `{"symbol": "AAPL", "strategy_id": "s1", "cutoff": "yesterday"}`},
		{"malformed", `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/accounts/test/unwind", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestRegroupValidatesRequest(t *testing.T) {
	router := testServer().Router()

	req := httptest.NewRequest("POST", "/api/v1/accounts/test/regroup", bytes.NewBufferString(`{"symbol": "AAPL"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
