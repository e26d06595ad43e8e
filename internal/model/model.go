// Package model defines the core domain types shared across the ledger engine.
// All quantities, prices, and costs use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade is an immutable record from the append-only trade log. The ledger
// consumes trades; it never writes them. Trades are ordered by OccurredAt
// with ties broken by ID; this ordering is the FIFO contract.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Mint       string          `json:"mint" db:"mint"`
	Side       string          `json:"side" db:"side"` // "BUY" or "SELL"
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
}

// Lot is a FIFO cost lot: a batch of quantity acquired at a fixed unit cost.
// Created exactly once per BUY trade. QtyRemaining only ever decreases, and
// only inside the ledger's sell path; a fully consumed lot (QtyRemaining == 0)
// is kept for audit unless a rebuild purges it.
type Lot struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Mint         string          `json:"mint" db:"mint"`
	QtyRemaining decimal.Decimal `json:"qty_remaining" db:"qty_remaining"`
	UnitCost     decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is the aggregate holding for one (user, mint). Qty and CostBasis
// are derived values: they must always equal the sums over the user's lots.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Mint      string          `json:"mint" db:"mint"`
	Qty       decimal.Decimal `json:"qty" db:"qty"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// RealizedPnL is the immutable record written once per SELL trade. A sell may
// consume several lots; the entry aggregates them into one record.
type RealizedPnL struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Mint         string          `json:"mint" db:"mint"`
	TradeID      string          `json:"trade_id" db:"trade_id"`
	QtyConsumed  decimal.Decimal `json:"qty_consumed" db:"qty_consumed"`
	CostConsumed decimal.Decimal `json:"cost_consumed" db:"cost_consumed"`
	Proceeds     decimal.Decimal `json:"proceeds" db:"proceeds"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// PriceTick is one market-data update for a mint, produced by the external
// market-data collaborator.
type PriceTick struct {
	Mint      string          `json:"mint"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Portfolio aggregates a user's positions with total cost basis and
// cumulative realized PnL.
type Portfolio struct {
	UserID         string          `json:"user_id"`
	Positions      []Position      `json:"positions"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	TotalRealized  decimal.Decimal `json:"total_realized"`
}
