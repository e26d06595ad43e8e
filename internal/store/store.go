// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// position cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/tokensim/ledger-engine/internal/model"
)

// ErrNotFound is returned when a requested position does not exist.
var ErrNotFound = errors.New("store: not found")

// ApplyState is the atomic unit written by one hot-path trade application:
// the lot mutation, the recomputed position, and (for sells) the realized
// PnL entry all land together or not at all.
type ApplyState struct {
	LotCreated  *model.Lot         // set on buys
	LotsUpdated []model.Lot        // decremented lots, set on sells
	Position    model.Position     // recomputed aggregate
	Realized    *model.RealizedPnL // set on sells
}

// Store is the persistence interface. The ledger exclusively owns lots,
// positions, and realized-pnl rows. The trade log is read-only here: it is
// written by the order-execution collaborator and only replayed by the
// rebuild engine.
type Store interface {
	// --- Trade log (read-only) ---

	// GetTrades returns a user's trades ordered by occurred_at, ties broken
	// by id. Empty mint means all mints.
	GetTrades(ctx context.Context, userID, mint string) ([]model.Trade, error)

	// --- Hot-path write ---

	// ApplyTradeState persists one trade application atomically.
	ApplyTradeState(ctx context.Context, st *ApplyState) error

	// --- Rebuild swap ---

	// ReplaceState atomically swaps all lots and positions in scope
	// (one mint, or every mint for the user when mint is empty) for the
	// given rebuilt state. A crash mid-rebuild must never leave mixed
	// old/new rows.
	ReplaceState(ctx context.Context, userID, mint string, lots []model.Lot, positions []model.Position) error

	// --- Queries ---

	// GetPosition returns the position for (user, mint), or ErrNotFound.
	GetPosition(ctx context.Context, userID, mint string) (*model.Position, error)

	// GetPositions returns all of a user's positions.
	GetPositions(ctx context.Context, userID string) ([]model.Position, error)

	// GetLots returns all lots for (user, mint) oldest first, including
	// fully consumed ones.
	GetLots(ctx context.Context, userID, mint string) ([]model.Lot, error)

	// GetOpenLots returns only lots with qty_remaining > 0, oldest first.
	GetOpenLots(ctx context.Context, userID, mint string) ([]model.Lot, error)

	// GetRealizedPnL returns realized entries newest first, optionally
	// scoped to one mint, with limit/offset paging.
	GetRealizedPnL(ctx context.Context, userID, mint string, limit, offset int) ([]model.RealizedPnL, error)
}
