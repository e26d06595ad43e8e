// Package pnl computes unrealized profit-and-loss from persisted positions
// and a live price stream. It only reads positions; it owns no persisted
// state and never writes back to the ledger.
//
// All values use shopspring/decimal — never float64 for money.
package pnl

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/fifo"
	"github.com/tokensim/ledger-engine/internal/model"
)

// ErrUndefined is returned when PnL has no defined value (zero quantity).
// Callers get this explicit result instead of a numeric artifact.
var ErrUndefined = errors.New("pnl: undefined for zero quantity")

// Display clamps for the percentage figure. Presentation policy only (a
// near-zero cost basis produces nonsensical percentages in a UI); never
// applied to ledger values.
var (
	percentFloor = decimal.NewFromFloat(-99.9)
	percentCeil  = decimal.NewFromInt(99999)
)

var hundred = decimal.NewFromInt(100)

// Update is one computed PnL snapshot, the payload streamed to subscribers.
type Update struct {
	UserID               string          `json:"user_id"`
	Mint                 string          `json:"mint"`
	Qty                  decimal.Decimal `json:"qty"`
	CostBasis            decimal.Decimal `json:"cost_basis"`
	AvgCost              decimal.Decimal `json:"avg_cost"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	CurrentValue         decimal.Decimal `json:"current_value"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
	PercentDefined       bool            `json:"percent_defined"`
	Timestamp            time.Time       `json:"timestamp"`
}

// Snapshot computes unrealized PnL for a position at the given price. Pure
// and re-entrant: called once per price tick per subscribed position.
// A zero-quantity position yields ErrUndefined, not a crash.
func Snapshot(p model.Position, price decimal.Decimal, at time.Time) (Update, error) {
	if p.Qty.IsZero() {
		return Update{}, ErrUndefined
	}

	avgCost := p.CostBasis.DivRound(p.Qty, fifo.DivScale)
	currentValue := fifo.Cost(p.Qty, price)
	unrealized := currentValue.Sub(p.CostBasis)

	u := Update{
		UserID:        p.UserID,
		Mint:          p.Mint,
		Qty:           p.Qty,
		CostBasis:     p.CostBasis,
		AvgCost:       avgCost,
		CurrentPrice:  price,
		CurrentValue:  currentValue,
		UnrealizedPnL: unrealized,
		Timestamp:     at,
	}

	// Percentage is undefined for a zero cost basis (free inventory); the
	// absolute PnL above still stands.
	if p.CostBasis.IsPositive() {
		u.UnrealizedPnLPercent = clampPercent(unrealized.DivRound(p.CostBasis, fifo.DivScale).Mul(hundred))
		u.PercentDefined = true
	}
	return u, nil
}

func clampPercent(pct decimal.Decimal) decimal.Decimal {
	if pct.LessThan(percentFloor) {
		return percentFloor
	}
	if pct.GreaterThan(percentCeil) {
		return percentCeil
	}
	return pct
}
