package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tokensim/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices and maps. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	trades    []model.Trade
	lots      []model.Lot
	positions map[string]model.Position // key: userID|mint
	realized  []model.RealizedPnL
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]model.Position),
	}
}

func posKey(userID, mint string) string { return userID + "|" + mint }

// InsertTrade appends to the in-memory trade log. Not part of the Store
// interface: in production the order-execution collaborator writes the
// log; this exists so tests and dev mode can seed history for replay.
func (s *MemoryStore) InsertTrade(t model.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
}

func (s *MemoryStore) GetTrades(_ context.Context, userID, mint string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID != userID {
			continue
		}
		if mint != "" && t.Mint != mint {
			continue
		}
		result = append(result, t)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

func (s *MemoryStore) ApplyTradeState(_ context.Context, st *ApplyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.LotCreated != nil {
		s.lots = append(s.lots, *st.LotCreated)
	}
	for _, upd := range st.LotsUpdated {
		for i := range s.lots {
			if s.lots[i].ID == upd.ID {
				s.lots[i].QtyRemaining = upd.QtyRemaining
				break
			}
		}
	}
	if st.Realized != nil {
		s.realized = append(s.realized, *st.Realized)
	}
	s.positions[posKey(st.Position.UserID, st.Position.Mint)] = st.Position
	return nil
}

func (s *MemoryStore) ReplaceState(_ context.Context, userID, mint string, lots []model.Lot, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inScope := func(u, m string) bool {
		return u == userID && (mint == "" || m == mint)
	}

	kept := s.lots[:0]
	for _, l := range s.lots {
		if !inScope(l.UserID, l.Mint) {
			kept = append(kept, l)
		}
	}
	s.lots = append(kept, lots...)

	for key, p := range s.positions {
		if inScope(p.UserID, p.Mint) {
			delete(s.positions, key)
		}
	}
	for _, p := range positions {
		s.positions[posKey(p.UserID, p.Mint)] = p
	}
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, mint string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(userID, mint)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *MemoryStore) GetPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Mint < result[j].Mint })
	return result, nil
}

func (s *MemoryStore) GetLots(ctx context.Context, userID, mint string) ([]model.Lot, error) {
	return s.getLots(userID, mint, false)
}

func (s *MemoryStore) GetOpenLots(ctx context.Context, userID, mint string) ([]model.Lot, error) {
	return s.getLots(userID, mint, true)
}

func (s *MemoryStore) getLots(userID, mint string, openOnly bool) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Lot
	for _, l := range s.lots {
		if l.UserID != userID || l.Mint != mint {
			continue
		}
		if openOnly && l.QtyRemaining.IsZero() {
			continue
		}
		result = append(result, l)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) GetRealizedPnL(_ context.Context, userID, mint string, limit, offset int) ([]model.RealizedPnL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RealizedPnL
	for _, e := range s.realized {
		if e.UserID != userID {
			continue
		}
		if mint != "" && e.Mint != mint {
			continue
		}
		result = append(result, e)
	}
	// Newest first.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}
