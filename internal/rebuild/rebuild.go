// Package rebuild deterministically reconstructs lot and position state from
// the full historical trade log. It is the recovery and migration tool, the
// cold path, so it prefers best-effort completion with a report over
// aborting on dirty historical data.
package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/fifo"
	"github.com/tokensim/ledger-engine/internal/metrics"
	"github.com/tokensim/ledger-engine/internal/model"
	"github.com/tokensim/ledger-engine/internal/store"
)

// Report summarizes one rebuild run.
type Report struct {
	UserID           string    `json:"user_id"`
	Mint             string    `json:"mint,omitempty"` // empty = all mints
	PositionsFixed   int       `json:"positions_fixed"`
	LotsCreated      int       `json:"lots_created"`
	AnomaliesSkipped []string  `json:"anomalies_skipped"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Engine replays trade history into fresh ledger state.
type Engine struct {
	store store.Store
}

// New creates a rebuild engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Rebuild reconstructs lots and positions for a user, optionally scoped to
// one mint. The replay happens entirely in memory and the result replaces
// the old state in a single atomic swap, so cancellation or a crash leaves
// the user's prior state untouched.
//
// Rebuilt lots take their IDs from the BUY trades that created them (one lot
// per buy), so running the rebuild twice over the same history produces
// identical state.
func (e *Engine) Rebuild(ctx context.Context, userID, mint string) (*Report, error) {
	report := &Report{
		UserID:           userID,
		Mint:             mint,
		AnomaliesSkipped: []string{},
		StartedAt:        time.Now().UTC(),
	}

	trades, err := e.store.GetTrades(ctx, userID, mint)
	if err != nil {
		return nil, fmt.Errorf("load trade history: %w", err)
	}

	// Group by mint, preserving chronological order within each group.
	byMint := make(map[string][]model.Trade)
	var mintOrder []string
	for _, t := range trades {
		if _, seen := byMint[t.Mint]; !seen {
			mintOrder = append(mintOrder, t.Mint)
		}
		byMint[t.Mint] = append(byMint[t.Mint], t)
	}

	var allLots []model.Lot
	var allPositions []model.Position

	for _, m := range mintOrder {
		// Cancellation point between per-mint batches.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lots := e.replayMint(byMint[m], report)

		qty, costBasis := fifo.Recompute(lots)
		if costBasis.IsNegative() {
			// FIFO math cannot produce this from clean data; clamp and warn.
			slog.Warn("negative cost basis clamped to zero during rebuild",
				"user", userID, "mint", m, "cost_basis", costBasis.String())
			costBasis = decimal.Zero
		}
		if qty.IsNegative() {
			return nil, fmt.Errorf("rebuild %s/%s: negative quantity %s after replay", userID, m, qty)
		}

		// Fully consumed lots are dropped from persistence to cap storage
		// growth for closed positions; they remain implied by the trade log.
		open := lots[:0]
		for _, l := range lots {
			if l.QtyRemaining.IsPositive() {
				open = append(open, l)
			}
		}

		last := byMint[m][len(byMint[m])-1]
		allLots = append(allLots, open...)
		allPositions = append(allPositions, model.Position{
			UserID:    userID,
			Mint:      m,
			Qty:       qty,
			CostBasis: costBasis,
			UpdatedAt: last.OccurredAt,
		})
		report.PositionsFixed++
		report.LotsCreated += len(open)
	}

	if err := e.store.ReplaceState(ctx, userID, mint, allLots, allPositions); err != nil {
		return nil, fmt.Errorf("swap rebuilt state: %w", err)
	}

	metrics.RebuildsCompleted.Inc()
	report.FinishedAt = time.Now().UTC()

	slog.Info("rebuild completed",
		"user", userID,
		"mint", mint,
		"positions", report.PositionsFixed,
		"lots", report.LotsCreated,
		"anomalies", len(report.AnomaliesSkipped),
	)
	return report, nil
}

// replayMint applies one mint's trades in order. Trades that cannot apply
// (oversells from pre-FIFO history, non-positive quantities) are recorded as
// anomalies and skipped so the rebuild stays total.
func (e *Engine) replayMint(trades []model.Trade, report *Report) []model.Lot {
	var lots []model.Lot

	for _, t := range trades {
		if t.UnitPrice.IsNegative() {
			e.anomaly(report, t, fifo.ErrInvalidPrice)
			continue
		}

		switch t.Side {
		case model.SideBuy:
			if t.Quantity.LessThanOrEqual(decimal.Zero) {
				e.anomaly(report, t, fifo.ErrInvalidQuantity)
				continue
			}
			lots = append(lots, model.Lot{
				ID:           t.ID,
				UserID:       t.UserID,
				Mint:         t.Mint,
				QtyRemaining: t.Quantity,
				UnitCost:     t.UnitPrice,
				CreatedAt:    t.OccurredAt,
			})

		case model.SideSell:
			if _, err := fifo.Consume(lots, t.Quantity); err != nil {
				e.anomaly(report, t, err)
			}

		default:
			e.anomaly(report, t, fmt.Errorf("unknown side %q", t.Side))
		}
	}
	return lots
}

func (e *Engine) anomaly(report *Report, t model.Trade, err error) {
	desc := fmt.Sprintf("trade %s (%s %s %s at %s): %v",
		t.ID, t.Side, t.Quantity, t.Mint, t.OccurredAt.Format(time.RFC3339), err)
	report.AnomaliesSkipped = append(report.AnomaliesSkipped, desc)
	metrics.RebuildAnomalies.Inc()

	slog.Warn("rebuild anomaly skipped",
		"trade_id", t.ID,
		"user", t.UserID,
		"mint", t.Mint,
		"err", err,
	)
}
