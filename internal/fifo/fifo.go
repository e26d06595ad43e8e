// Package fifo implements first-in-first-out cost-lot arithmetic: consuming
// lot inventory on sells and recomputing aggregate position values from a
// lot set.
//
// This package is the single place that orders lots for consumption and the
// only code allowed to decrement QtyRemaining. It is stateless: lots are
// passed in and mutated in place, nothing is persisted here.
//
// All values use shopspring/decimal — never float64 for money. Products are
// rounded half-up at CostScale; divisions elsewhere in the engine use
// DivScale significant digits. Rounding is always explicit at the call site;
// there is no global decimal configuration.
package fifo

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned for a non-positive buy or sell quantity.
	// Rejected before any state is touched.
	ErrInvalidQuantity = errors.New("fifo: quantity must be positive")

	// ErrInvalidPrice is returned for a negative unit price. A zero price
	// (free transfer) is legal; a negative one would drive UnitCost and
	// CostBasis below zero in records that must stay non-negative.
	ErrInvalidPrice = errors.New("fifo: unit price must not be negative")

	// ErrInsufficientInventory is returned when a sell requests more than the
	// total remaining lot quantity. Nothing is consumed in that case;
	// partial consumption would silently manufacture negative holdings.
	ErrInsufficientInventory = errors.New("fifo: insufficient lot inventory for sell")
)

// CostScale is the number of fractional digits kept when multiplying a
// quantity by a unit cost. Half-up rounding (all ledger values are
// non-negative, so round-half-away-from-zero is half-up here).
const CostScale int32 = 18

// DivScale is the number of digits carried by divisions (average cost,
// percentage PnL).
const DivScale int32 = 28

// Consumption records how much one sell took from one lot.
type Consumption struct {
	LotID string          `json:"lot_id"`
	Qty   decimal.Decimal `json:"qty"`
	Cost  decimal.Decimal `json:"cost"`
}

// SellResult is the outcome of consuming lots for a sell.
type SellResult struct {
	ConsumedCost decimal.Decimal `json:"consumed_cost"`
	LotsTouched  []Consumption   `json:"lots_touched"`
}

// Cost returns qty * unitCost rounded half-up at CostScale.
func Cost(qty, unitCost decimal.Decimal) decimal.Decimal {
	return qty.Mul(unitCost).Round(CostScale)
}

// Sort orders lots for FIFO consumption: ascending CreatedAt, ties broken by
// ascending lot ID. This is the one tie-breaking rule in the engine.
func Sort(lots []model.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if lots[i].CreatedAt.Equal(lots[j].CreatedAt) {
			return lots[i].ID < lots[j].ID
		}
		return lots[i].CreatedAt.Before(lots[j].CreatedAt)
	})
}

// Available returns the total remaining quantity across lots.
func Available(lots []model.Lot) decimal.Decimal {
	total := decimal.Zero
	for i := range lots {
		total = total.Add(lots[i].QtyRemaining)
	}
	return total
}

// Consume walks lots oldest-first and decrements QtyRemaining until qty is
// satisfied, mutating the slice in place. If total inventory is short the
// lots are left untouched and ErrInsufficientInventory is returned. The
// caller decides whether that aborts a hot-path apply or is skipped during a
// rebuild.
func Consume(lots []model.Lot, qty decimal.Decimal) (SellResult, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return SellResult{}, ErrInvalidQuantity
	}
	if Available(lots).LessThan(qty) {
		return SellResult{}, ErrInsufficientInventory
	}

	Sort(lots)

	result := SellResult{ConsumedCost: decimal.Zero}
	remaining := qty

	for i := range lots {
		if remaining.IsZero() {
			break
		}
		if lots[i].QtyRemaining.IsZero() {
			continue
		}

		take := decimal.Min(lots[i].QtyRemaining, remaining)
		cost := Cost(take, lots[i].UnitCost)

		lots[i].QtyRemaining = lots[i].QtyRemaining.Sub(take)
		remaining = remaining.Sub(take)

		result.ConsumedCost = result.ConsumedCost.Add(cost)
		result.LotsTouched = append(result.LotsTouched, Consumption{
			LotID: lots[i].ID,
			Qty:   take,
			Cost:  cost,
		})
	}

	return result, nil
}

// Recompute derives the aggregate quantity and cost basis from a lot set.
// Positions must always be re-derivable this way; any divergence between a
// persisted position and this function over its lots is corruption.
func Recompute(lots []model.Lot) (qty, costBasis decimal.Decimal) {
	qty = decimal.Zero
	costBasis = decimal.Zero
	for i := range lots {
		qty = qty.Add(lots[i].QtyRemaining)
		costBasis = costBasis.Add(Cost(lots[i].QtyRemaining, lots[i].UnitCost))
	}
	return qty, costBasis
}
