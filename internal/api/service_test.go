package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/api"
	"github.com/tokensim/ledger-engine/internal/ledger"
	"github.com/tokensim/ledger-engine/internal/model"
	"github.com/tokensim/ledger-engine/internal/rebuild"
	"github.com/tokensim/ledger-engine/internal/store"
)

const (
	user = "user1"
	mint = "So11111111111111111111111111111111111111112"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates the HTTP service over an in-memory store.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := api.NewService(ledger.New(ms), rebuild.New(ms))

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r)
	})
	return ms, r
}

func doTrade(t *testing.T, router chi.Router, req api.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/trades", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func buy(qty, price float64, at time.Time) api.TradeRequest {
	return api.TradeRequest{
		UserID:     user,
		Mint:       mint,
		Side:       model.SideBuy,
		Quantity:   d(qty),
		UnitPrice:  d(price),
		OccurredAt: at,
	}
}

func sell(qty, price float64, at time.Time) api.TradeRequest {
	r := buy(qty, price, at)
	r.Side = model.SideSell
	return r
}

// --- Trade application ---

func TestApplyTrade_Buy(t *testing.T) {
	_, router := newTestEnv(t)

	w := doTrade(t, router, buy(10, 2, base))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ledger.ApplyResult
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Position.Qty.Equal(d(10)) {
		t.Errorf("expected position qty 10, got %s", resp.Position.Qty)
	}
	if !resp.Position.CostBasis.Equal(d(20)) {
		t.Errorf("expected cost basis 20, got %s", resp.Position.CostBasis)
	}
}

func TestApplyTrade_SellReturnsRealized(t *testing.T) {
	_, router := newTestEnv(t)

	doTrade(t, router, buy(10, 1, base))
	w := doTrade(t, router, sell(4, 3, base.Add(time.Minute)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ledger.ApplyResult
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Realized == nil {
		t.Fatal("expected realized entry in sell response")
	}
	if !resp.Realized.RealizedPnL.Equal(d(8)) {
		t.Errorf("expected realized pnl 8, got %s", resp.Realized.RealizedPnL)
	}
}

func TestApplyTrade_InsufficientInventoryConflict(t *testing.T) {
	_, router := newTestEnv(t)

	w := doTrade(t, router, sell(5, 1, base))
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for oversell, got %d: %s", w.Code, w.Body.String())
	}
}

func TestApplyTrade_Validation(t *testing.T) {
	_, router := newTestEnv(t)

	missing := buy(1, 1, base)
	missing.UserID = ""
	if w := doTrade(t, router, missing); w.Code != http.StatusBadRequest {
		t.Errorf("missing user_id: expected 400, got %d", w.Code)
	}

	badMint := buy(1, 1, base)
	badMint.Mint = "not-a-mint"
	if w := doTrade(t, router, badMint); w.Code != http.StatusBadRequest {
		t.Errorf("bad mint: expected 400, got %d", w.Code)
	}

	badSide := buy(1, 1, base)
	badSide.Side = "HOLD"
	if w := doTrade(t, router, badSide); w.Code != http.StatusBadRequest {
		t.Errorf("bad side: expected 400, got %d", w.Code)
	}

	zeroQty := buy(0, 1, base)
	if w := doTrade(t, router, zeroQty); w.Code != http.StatusBadRequest {
		t.Errorf("zero quantity: expected 400, got %d", w.Code)
	}

	negativePrice := buy(10, -5, base)
	if w := doTrade(t, router, negativePrice); w.Code != http.StatusBadRequest {
		t.Errorf("negative price: expected 400, got %d", w.Code)
	}
}

// --- Queries ---

func TestGetPosition_NotFound(t *testing.T) {
	_, router := newTestEnv(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/positions/"+user+"/"+mint, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetPosition_AfterTrade(t *testing.T) {
	_, router := newTestEnv(t)
	doTrade(t, router, buy(10, 2, base))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/positions/"+user+"/"+mint, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var p model.Position
	json.Unmarshal(w.Body.Bytes(), &p)
	if !p.Qty.Equal(d(10)) {
		t.Errorf("expected qty 10, got %s", p.Qty)
	}
}

func TestGetLots_OldestFirst(t *testing.T) {
	_, router := newTestEnv(t)
	doTrade(t, router, buy(10, 2, base.Add(time.Hour)))
	doTrade(t, router, buy(5, 1, base))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/lots/"+user+"/"+mint, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var lots []model.Lot
	json.Unmarshal(w.Body.Bytes(), &lots)
	if len(lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(lots))
	}
	if !lots[0].CreatedAt.Before(lots[1].CreatedAt) {
		t.Error("lots should be ordered oldest first")
	}
}

func TestGetRealizedPnL_Paging(t *testing.T) {
	_, router := newTestEnv(t)
	doTrade(t, router, buy(10, 1, base))
	for i := 0; i < 3; i++ {
		doTrade(t, router, sell(1, 2, base.Add(time.Duration(i+1)*time.Minute)))
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET",
		fmt.Sprintf("/api/v1/realized/%s?mint=%s&limit=2&offset=1", user, mint), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var entries []model.RealizedPnL
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Errorf("expected 2 entries with limit=2 offset=1, got %d", len(entries))
	}
}

func TestGetPortfolio(t *testing.T) {
	_, router := newTestEnv(t)
	doTrade(t, router, buy(10, 1, base))
	doTrade(t, router, sell(5, 3, base.Add(time.Minute)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/portfolio/"+user, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var p model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if !p.TotalRealized.Equal(d(10)) {
		t.Errorf("expected total realized 10, got %s", p.TotalRealized)
	}
	if !p.TotalCostBasis.Equal(d(5)) {
		t.Errorf("expected total cost basis 5, got %s", p.TotalCostBasis)
	}
}

// --- Rebuild ---

func TestRebuild_Endpoint(t *testing.T) {
	ms, router := newTestEnv(t)

	ms.InsertTrade(model.Trade{
		ID: "t1", UserID: user, Mint: mint, Side: model.SideBuy,
		Quantity: d(10), UnitPrice: d(1), OccurredAt: base,
	})
	ms.InsertTrade(model.Trade{
		ID: "t2", UserID: user, Mint: mint, Side: model.SideSell,
		Quantity: d(99), UnitPrice: d(2), OccurredAt: base.Add(time.Minute),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/rebuild/"+user, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var report rebuild.Report
	json.Unmarshal(w.Body.Bytes(), &report)
	if report.PositionsFixed != 1 {
		t.Errorf("expected 1 position fixed, got %d", report.PositionsFixed)
	}
	if len(report.AnomaliesSkipped) != 1 {
		t.Errorf("expected 1 anomaly (oversell), got %v", report.AnomaliesSkipped)
	}
}
