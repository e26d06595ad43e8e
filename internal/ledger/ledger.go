// Package ledger implements the hot-path trade application: appending cost
// lots on buys, consuming them FIFO on sells, and keeping the persisted
// position in lockstep with the lot set.
//
// Trade application runs under a single-writer-per-(user, mint) invariant:
// FIFO consumption order and the insufficient-inventory check are only
// correct under serialized access. Different positions proceed in parallel.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/fifo"
	"github.com/tokensim/ledger-engine/internal/metrics"
	"github.com/tokensim/ledger-engine/internal/model"
	"github.com/tokensim/ledger-engine/internal/store"
)

var (
	// ErrLedgerCorruption is returned when a persisted position disagrees
	// with the sums over its lots. Never silently repaired on the hot path;
	// the rebuild engine is the repair tool.
	ErrLedgerCorruption = errors.New("ledger: position does not match lot sums")

	// ErrUnknownSide is returned for a trade side other than BUY or SELL.
	ErrUnknownSide = errors.New("ledger: unknown trade side")
)

// ApplyResult is returned from a successful trade application.
type ApplyResult struct {
	Position model.Position     `json:"position"`
	Realized *model.RealizedPnL `json:"realized_pnl,omitempty"`
}

// Ledger owns lot and position state. No other component mutates
// QtyRemaining, Qty, or CostBasis.
type Ledger struct {
	store store.Store
	locks *keyedLocks
}

// New creates a ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		locks: newKeyedLocks(),
	}
}

// ApplyTrade applies one committed trade to the ledger: BUY appends a lot,
// SELL consumes lots oldest-first and records realized PnL. The lot
// mutation and the recomputed position persist atomically. On any error the
// trade is not applied and the caller is responsible for not re-driving it
// blindly.
func (l *Ledger) ApplyTrade(ctx context.Context, t *model.Trade) (*ApplyResult, error) {
	if t.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fifo.ErrInvalidQuantity
	}
	if t.UnitPrice.IsNegative() {
		return nil, fifo.ErrInvalidPrice
	}

	mu := l.locks.get(t.UserID + "|" + t.Mint)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()

	lots, err := l.store.GetOpenLots(ctx, t.UserID, t.Mint)
	if err != nil {
		return nil, fmt.Errorf("load lots: %w", err)
	}

	if err := l.checkIntegrity(ctx, t.UserID, t.Mint, lots); err != nil {
		return nil, err
	}

	var result *ApplyResult
	switch t.Side {
	case model.SideBuy:
		result, err = l.applyBuy(ctx, t, lots)
	case model.SideSell:
		result, err = l.applySell(ctx, t, lots)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSide, t.Side)
	}
	if err != nil {
		if errors.Is(err, fifo.ErrInsufficientInventory) {
			metrics.InsufficientInventory.Inc()
		}
		return nil, err
	}

	metrics.TradesApplied.WithLabelValues(t.Side).Inc()
	metrics.ApplyLatency.WithLabelValues(t.Side).Observe(time.Since(start).Seconds())

	slog.Info("trade applied",
		"trade_id", t.ID,
		"user", t.UserID,
		"mint", t.Mint,
		"side", t.Side,
		"qty", t.Quantity.String(),
		"position_qty", result.Position.Qty.String(),
		"cost_basis", result.Position.CostBasis.String(),
	)
	return result, nil
}

// applyBuy appends a new lot and persists the recomputed position with it.
func (l *Ledger) applyBuy(ctx context.Context, t *model.Trade, lots []model.Lot) (*ApplyResult, error) {
	lot := model.Lot{
		ID:           uuid.New().String(),
		UserID:       t.UserID,
		Mint:         t.Mint,
		QtyRemaining: t.Quantity,
		UnitCost:     t.UnitPrice,
		CreatedAt:    t.OccurredAt,
	}
	lots = append(lots, lot)

	position := l.position(t.UserID, t.Mint, lots)
	st := &store.ApplyState{
		LotCreated: &lot,
		Position:   position,
	}
	if err := l.store.ApplyTradeState(ctx, st); err != nil {
		return nil, fmt.Errorf("persist buy: %w", err)
	}
	return &ApplyResult{Position: position}, nil
}

// applySell consumes lots FIFO, records the realized entry, and persists
// everything in one atomic unit. Insufficient inventory fails the whole
// call without touching any lot.
func (l *Ledger) applySell(ctx context.Context, t *model.Trade, lots []model.Lot) (*ApplyResult, error) {
	sell, err := fifo.Consume(lots, t.Quantity)
	if err != nil {
		return nil, err
	}

	touched := make(map[string]bool, len(sell.LotsTouched))
	for _, c := range sell.LotsTouched {
		touched[c.LotID] = true
	}
	var updated []model.Lot
	for i := range lots {
		if touched[lots[i].ID] {
			updated = append(updated, lots[i])
		}
	}

	proceeds := fifo.Cost(t.Quantity, t.UnitPrice)
	realized := &model.RealizedPnL{
		ID:           uuid.New().String(),
		UserID:       t.UserID,
		Mint:         t.Mint,
		TradeID:      t.ID,
		QtyConsumed:  t.Quantity,
		CostConsumed: sell.ConsumedCost,
		Proceeds:     proceeds,
		RealizedPnL:  proceeds.Sub(sell.ConsumedCost),
		Timestamp:    t.OccurredAt,
	}

	position := l.position(t.UserID, t.Mint, lots)
	st := &store.ApplyState{
		LotsUpdated: updated,
		Position:    position,
		Realized:    realized,
	}
	if err := l.store.ApplyTradeState(ctx, st); err != nil {
		return nil, fmt.Errorf("persist sell: %w", err)
	}
	return &ApplyResult{Position: position, Realized: realized}, nil
}

// position recomputes the aggregate from lots. Positions carry no state of
// their own; they are always re-derived from the lot set.
func (l *Ledger) position(userID, mint string, lots []model.Lot) model.Position {
	qty, costBasis := fifo.Recompute(lots)
	return model.Position{
		UserID:    userID,
		Mint:      mint,
		Qty:       qty,
		CostBasis: costBasis,
		UpdatedAt: time.Now().UTC(),
	}
}

// checkIntegrity compares the persisted position with the sums over its
// lots before mutating anything. A mismatch means an earlier write was
// corrupted and needs a rebuild, not another trade on top.
func (l *Ledger) checkIntegrity(ctx context.Context, userID, mint string, lots []model.Lot) error {
	stored, err := l.store.GetPosition(ctx, userID, mint)
	if errors.Is(err, store.ErrNotFound) {
		if len(lots) == 0 {
			return nil
		}
		return fmt.Errorf("%w: %s/%s has lots but no position row", ErrLedgerCorruption, userID, mint)
	}
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}

	qty, costBasis := fifo.Recompute(lots)
	if !stored.Qty.Equal(qty) || !stored.CostBasis.Equal(costBasis) {
		slog.Error("ledger corruption detected",
			"user", userID,
			"mint", mint,
			"position_qty", stored.Qty.String(),
			"lot_qty", qty.String(),
			"position_cost", stored.CostBasis.String(),
			"lot_cost", costBasis.String(),
		)
		return fmt.Errorf("%w: %s/%s", ErrLedgerCorruption, userID, mint)
	}
	return nil
}

// --- Queries ---

// GetPosition returns the position for (user, mint), or store.ErrNotFound.
func (l *Ledger) GetPosition(ctx context.Context, userID, mint string) (*model.Position, error) {
	return l.store.GetPosition(ctx, userID, mint)
}

// GetLots returns all lots for (user, mint), oldest first.
func (l *Ledger) GetLots(ctx context.Context, userID, mint string) ([]model.Lot, error) {
	return l.store.GetLots(ctx, userID, mint)
}

// GetRealizedPnL returns realized entries newest first with paging.
func (l *Ledger) GetRealizedPnL(ctx context.Context, userID, mint string, limit, offset int) ([]model.RealizedPnL, error) {
	return l.store.GetRealizedPnL(ctx, userID, mint, limit, offset)
}

// GetPortfolio aggregates a user's positions and cumulative realized PnL.
func (l *Ledger) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	positions, err := l.store.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	totalCost := decimal.Zero
	for _, p := range positions {
		totalCost = totalCost.Add(p.CostBasis)
	}

	totalRealized := decimal.Zero
	const page = 500
	for offset := 0; ; offset += page {
		entries, err := l.store.GetRealizedPnL(ctx, userID, "", page, offset)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			totalRealized = totalRealized.Add(e.RealizedPnL)
		}
		if len(entries) < page {
			break
		}
	}

	if positions == nil {
		positions = []model.Position{}
	}
	return &model.Portfolio{
		UserID:         userID,
		Positions:      positions,
		TotalCostBasis: totalCost,
		TotalRealized:  totalRealized,
	}, nil
}
