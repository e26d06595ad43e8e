package rebuild_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/model"
	"github.com/tokensim/ledger-engine/internal/rebuild"
	"github.com/tokensim/ledger-engine/internal/store"
)

const (
	user  = "user1"
	mintA = "So11111111111111111111111111111111111111112"
	mintB = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedTrade(ms *store.MemoryStore, id, mint, side string, qty, price float64, at time.Time) {
	ms.InsertTrade(model.Trade{
		ID:         id,
		UserID:     user,
		Mint:       mint,
		Side:       side,
		Quantity:   d(qty),
		UnitPrice:  d(price),
		OccurredAt: at,
	})
}

func TestRebuild_ReconstructsFromHistory(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedTrade(ms, "t1", mintA, model.SideBuy, 10, 1, base)
	seedTrade(ms, "t2", mintA, model.SideBuy, 10, 2, base.Add(time.Minute))
	seedTrade(ms, "t3", mintA, model.SideSell, 15, 3, base.Add(2*time.Minute))

	report, err := rebuild.New(ms).Rebuild(ctx, user, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.PositionsFixed != 1 {
		t.Errorf("expected 1 position fixed, got %d", report.PositionsFixed)
	}
	if len(report.AnomaliesSkipped) != 0 {
		t.Errorf("expected no anomalies, got %v", report.AnomaliesSkipped)
	}

	position, err := ms.GetPosition(ctx, user, mintA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !position.Qty.Equal(d(5)) {
		t.Errorf("expected qty 5, got %s", position.Qty)
	}
	if !position.CostBasis.Equal(d(10)) {
		t.Errorf("expected cost basis 10, got %s", position.CostBasis)
	}

	// The $1 lot was fully consumed and purged; only the $2 lot persists.
	lots, _ := ms.GetLots(ctx, user, mintA)
	if len(lots) != 1 {
		t.Fatalf("expected 1 surviving lot, got %d", len(lots))
	}
	if !lots[0].QtyRemaining.Equal(d(5)) || !lots[0].UnitCost.Equal(d(2)) {
		t.Errorf("unexpected surviving lot: %+v", lots[0])
	}
	if report.LotsCreated != 1 {
		t.Errorf("expected 1 lot created in report, got %d", report.LotsCreated)
	}
}

func TestRebuild_Idempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedTrade(ms, "t1", mintA, model.SideBuy, 10, 1, base)
	seedTrade(ms, "t2", mintA, model.SideSell, 3, 2, base.Add(time.Minute))
	seedTrade(ms, "t3", mintB, model.SideBuy, 7, 5, base.Add(2*time.Minute))

	eng := rebuild.New(ms)
	if _, err := eng.Rebuild(ctx, user, ""); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}

	first := snapshot(t, ms)

	if _, err := eng.Rebuild(ctx, user, ""); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}

	second := snapshot(t, ms)

	if len(first.lots) != len(second.lots) {
		t.Fatalf("lot count changed: %d vs %d", len(first.lots), len(second.lots))
	}
	for i := range first.lots {
		a, b := first.lots[i], second.lots[i]
		if a.ID != b.ID || !a.QtyRemaining.Equal(b.QtyRemaining) ||
			!a.UnitCost.Equal(b.UnitCost) || !a.CreatedAt.Equal(b.CreatedAt) {
			t.Errorf("lot %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
	for i := range first.positions {
		a, b := first.positions[i], second.positions[i]
		if a.Mint != b.Mint || !a.Qty.Equal(b.Qty) || !a.CostBasis.Equal(b.CostBasis) ||
			!a.UpdatedAt.Equal(b.UpdatedAt) {
			t.Errorf("position %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
}

func TestRebuild_SkipsOversellAnomaly(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	// Dirty history from a pre-FIFO implementation: sells more than held.
	seedTrade(ms, "t1", mintA, model.SideBuy, 5, 1, base)
	seedTrade(ms, "t2", mintA, model.SideSell, 8, 2, base.Add(time.Minute))
	seedTrade(ms, "t3", mintA, model.SideBuy, 4, 3, base.Add(2*time.Minute))

	report, err := rebuild.New(ms).Rebuild(ctx, user, "")
	if err != nil {
		t.Fatalf("rebuild should complete on dirty history, got %v", err)
	}

	if len(report.AnomaliesSkipped) != 1 {
		t.Fatalf("expected 1 anomaly, got %d: %v", len(report.AnomaliesSkipped), report.AnomaliesSkipped)
	}

	// The oversell was skipped entirely; both buys survive.
	position, err := ms.GetPosition(ctx, user, mintA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !position.Qty.Equal(d(9)) {
		t.Errorf("expected qty 9 (5 + 4, oversell skipped), got %s", position.Qty)
	}
	if !position.CostBasis.Equal(d(17)) {
		t.Errorf("expected cost basis 17, got %s", position.CostBasis)
	}
}

func TestRebuild_SkipsNegativePriceAnomaly(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedTrade(ms, "t1", mintA, model.SideBuy, 10, 1, base)
	seedTrade(ms, "t2", mintA, model.SideBuy, 5, -2, base.Add(time.Minute))
	seedTrade(ms, "t3", mintA, model.SideSell, 3, -1, base.Add(2*time.Minute))

	report, err := rebuild.New(ms).Rebuild(ctx, user, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.AnomaliesSkipped) != 2 {
		t.Fatalf("expected 2 anomalies, got %v", report.AnomaliesSkipped)
	}

	// Neither the negative-price buy nor the negative-price sell may have
	// touched lot state.
	position, err := ms.GetPosition(ctx, user, mintA)
	if err != nil {
		t.Fatalf("position missing after rebuild: %v", err)
	}
	if !position.Qty.Equal(d(10)) {
		t.Errorf("expected qty 10, got %s", position.Qty)
	}
	if !position.CostBasis.Equal(d(10)) {
		t.Errorf("expected cost basis 10, got %s", position.CostBasis)
	}
}

func TestRebuild_ScopedToMintLeavesOthersUntouched(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedTrade(ms, "t1", mintA, model.SideBuy, 10, 1, base)
	seedTrade(ms, "t2", mintB, model.SideBuy, 20, 2, base.Add(time.Minute))

	eng := rebuild.New(ms)
	if _, err := eng.Rebuild(ctx, user, ""); err != nil {
		t.Fatalf("initial rebuild: %v", err)
	}

	// Seed more history for mintB only, then rebuild just mintA.
	seedTrade(ms, "t3", mintB, model.SideSell, 5, 3, base.Add(2*time.Minute))
	report, err := eng.Rebuild(ctx, user, mintA)
	if err != nil {
		t.Fatalf("scoped rebuild: %v", err)
	}
	if report.PositionsFixed != 1 {
		t.Errorf("expected 1 position in scoped rebuild, got %d", report.PositionsFixed)
	}

	// mintB's position still reflects the first rebuild, not t3.
	positionB, err := ms.GetPosition(ctx, user, mintB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !positionB.Qty.Equal(d(20)) {
		t.Errorf("scoped rebuild touched other mint: qty %s", positionB.Qty)
	}
}

func TestRebuild_CancelledLeavesPriorStateUntouched(t *testing.T) {
	ms := store.NewMemoryStore()

	seedTrade(ms, "t1", mintA, model.SideBuy, 10, 1, base)

	eng := rebuild.New(ms)
	if _, err := eng.Rebuild(context.Background(), user, ""); err != nil {
		t.Fatalf("initial rebuild: %v", err)
	}

	// More history, then a cancelled run: the swap must not happen.
	seedTrade(ms, "t2", mintA, model.SideSell, 4, 2, base.Add(time.Minute))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.Rebuild(cancelled, user, ""); err == nil {
		t.Fatal("expected error from cancelled rebuild")
	}

	position, err := ms.GetPosition(context.Background(), user, mintA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !position.Qty.Equal(d(10)) {
		t.Errorf("cancelled rebuild mutated state: qty %s", position.Qty)
	}
}

func TestRebuild_EmptyHistory(t *testing.T) {
	ms := store.NewMemoryStore()

	report, err := rebuild.New(ms).Rebuild(context.Background(), user, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.PositionsFixed != 0 || report.LotsCreated != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}

type state struct {
	lots      []model.Lot
	positions []model.Position
}

func snapshot(t *testing.T, ms *store.MemoryStore) state {
	t.Helper()
	ctx := context.Background()

	var st state
	for _, m := range []string{mintA, mintB} {
		lots, err := ms.GetLots(ctx, user, m)
		if err != nil {
			t.Fatalf("get lots: %v", err)
		}
		st.lots = append(st.lots, lots...)
	}
	positions, err := ms.GetPositions(ctx, user)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	st.positions = positions
	return st
}
