package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All quantities and costs are stored as NUMERIC for exact decimal precision,
// written as text and scanned back as ::TEXT into decimals.
//
// Expected tables:
//
//	trades(id, user_id, mint, side, quantity NUMERIC, unit_price NUMERIC, occurred_at)
//	lots(id, user_id, mint, qty_remaining NUMERIC, unit_cost NUMERIC, created_at)
//	positions(user_id, mint, qty NUMERIC, cost_basis NUMERIC, updated_at, PRIMARY KEY (user_id, mint))
//	realized_pnl(id, user_id, mint, trade_id, qty_consumed NUMERIC, cost_consumed NUMERIC,
//	             proceeds NUMERIC, realized_pnl NUMERIC, timestamp)
//
// The trades table is written by the order-execution collaborator; this
// store only reads it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetTrades(ctx context.Context, userID, mint string) ([]model.Trade, error) {
	query := `SELECT id, user_id, mint, side, quantity::TEXT, unit_price::TEXT, occurred_at
	          FROM trades WHERE user_id = $1`
	args := []any{userID}
	if mint != "" {
		query += ` AND mint = $2`
		args = append(args, mint)
	}
	query += ` ORDER BY occurred_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qtyS, priceS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Mint, &t.Side, &qtyS, &priceS, &t.OccurredAt); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.UnitPrice, _ = decimal.NewFromString(priceS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ApplyTradeState writes one trade application in a single transaction:
// lot insert or decrements, position upsert, and the realized entry.
func (s *PostgresStore) ApplyTradeState(ctx context.Context, st *ApplyState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("apply trade state: %w", err)
	}
	defer tx.Rollback(ctx)

	if st.LotCreated != nil {
		l := st.LotCreated
		_, err = tx.Exec(ctx,
			`INSERT INTO lots (id, user_id, mint, qty_remaining, unit_cost, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
			l.ID, l.UserID, l.Mint, l.QtyRemaining.String(), l.UnitCost.String(), l.CreatedAt)
		if err != nil {
			return err
		}
	}

	for _, l := range st.LotsUpdated {
		_, err = tx.Exec(ctx,
			`UPDATE lots SET qty_remaining = $2::NUMERIC WHERE id = $1`,
			l.ID, l.QtyRemaining.String())
		if err != nil {
			return err
		}
	}

	p := st.Position
	_, err = tx.Exec(ctx,
		`INSERT INTO positions (user_id, mint, qty, cost_basis, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, mint)
		 DO UPDATE SET qty = EXCLUDED.qty, cost_basis = EXCLUDED.cost_basis,
		               updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Mint, p.Qty.String(), p.CostBasis.String(), p.UpdatedAt)
	if err != nil {
		return err
	}

	if st.Realized != nil {
		e := st.Realized
		_, err = tx.Exec(ctx,
			`INSERT INTO realized_pnl (id, user_id, mint, trade_id, qty_consumed,
			                           cost_consumed, proceeds, realized_pnl, timestamp)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
			e.ID, e.UserID, e.Mint, e.TradeID, e.QtyConsumed.String(),
			e.CostConsumed.String(), e.Proceeds.String(), e.RealizedPnL.String(), e.Timestamp)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ReplaceState swaps the scoped lots and positions in one transaction, so a
// crash mid-rebuild leaves either the old state or the new one, never a mix.
func (s *PostgresStore) ReplaceState(ctx context.Context, userID, mint string, lots []model.Lot, positions []model.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	defer tx.Rollback(ctx)

	if mint != "" {
		if _, err = tx.Exec(ctx, `DELETE FROM lots WHERE user_id = $1 AND mint = $2`, userID, mint); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1 AND mint = $2`, userID, mint); err != nil {
			return err
		}
	} else {
		if _, err = tx.Exec(ctx, `DELETE FROM lots WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1`, userID); err != nil {
			return err
		}
	}

	for _, l := range lots {
		_, err = tx.Exec(ctx,
			`INSERT INTO lots (id, user_id, mint, qty_remaining, unit_cost, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
			l.ID, l.UserID, l.Mint, l.QtyRemaining.String(), l.UnitCost.String(), l.CreatedAt)
		if err != nil {
			return err
		}
	}

	for _, p := range positions {
		_, err = tx.Exec(ctx,
			`INSERT INTO positions (user_id, mint, qty, cost_basis, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)`,
			p.UserID, p.Mint, p.Qty.String(), p.CostBasis.String(), p.UpdatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, mint string) (*model.Position, error) {
	var p model.Position
	var qtyS, costS string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, mint, qty::TEXT, cost_basis::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND mint = $2`, userID, mint).
		Scan(&p.UserID, &p.Mint, &qtyS, &costS, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, mint, err)
	}

	p.Qty, _ = decimal.NewFromString(qtyS)
	p.CostBasis, _ = decimal.NewFromString(costS)
	return &p, nil
}

func (s *PostgresStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, mint, qty::TEXT, cost_basis::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY mint`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qtyS, costS string
		if err := rows.Scan(&p.UserID, &p.Mint, &qtyS, &costS, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Qty, _ = decimal.NewFromString(qtyS)
		p.CostBasis, _ = decimal.NewFromString(costS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetLots(ctx context.Context, userID, mint string) ([]model.Lot, error) {
	return s.queryLots(ctx,
		`SELECT id, user_id, mint, qty_remaining::TEXT, unit_cost::TEXT, created_at
		 FROM lots WHERE user_id = $1 AND mint = $2 ORDER BY created_at, id`, userID, mint)
}

func (s *PostgresStore) GetOpenLots(ctx context.Context, userID, mint string) ([]model.Lot, error) {
	return s.queryLots(ctx,
		`SELECT id, user_id, mint, qty_remaining::TEXT, unit_cost::TEXT, created_at
		 FROM lots WHERE user_id = $1 AND mint = $2 AND qty_remaining > 0
		 ORDER BY created_at, id`, userID, mint)
}

func (s *PostgresStore) queryLots(ctx context.Context, query string, args ...any) ([]model.Lot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		var qtyS, costS string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Mint, &qtyS, &costS, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.QtyRemaining, _ = decimal.NewFromString(qtyS)
		l.UnitCost, _ = decimal.NewFromString(costS)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (s *PostgresStore) GetRealizedPnL(ctx context.Context, userID, mint string, limit, offset int) ([]model.RealizedPnL, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, user_id, mint, trade_id, qty_consumed::TEXT, cost_consumed::TEXT,
	                 proceeds::TEXT, realized_pnl::TEXT, timestamp
	          FROM realized_pnl WHERE user_id = $1`
	args := []any{userID}
	if mint != "" {
		query += ` AND mint = $2`
		args = append(args, mint)
	}
	query += fmt.Sprintf(` ORDER BY timestamp DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.RealizedPnL
	for rows.Next() {
		var e model.RealizedPnL
		var qtyS, costS, proceedsS, pnlS string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Mint, &e.TradeID,
			&qtyS, &costS, &proceedsS, &pnlS, &e.Timestamp); err != nil {
			return nil, err
		}
		e.QtyConsumed, _ = decimal.NewFromString(qtyS)
		e.CostConsumed, _ = decimal.NewFromString(costS)
		e.Proceeds, _ = decimal.NewFromString(proceedsS)
		e.RealizedPnL, _ = decimal.NewFromString(pnlS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
