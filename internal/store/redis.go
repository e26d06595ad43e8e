package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokensim/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for position lookups, the read path the live PnL streamer hits on
// every price tick. Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write paths (write to primary, invalidate cache) ---

func (s *CachedStore) ApplyTradeState(ctx context.Context, st *ApplyState) error {
	if err := s.primary.ApplyTradeState(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(st.Position.UserID, st.Position.Mint), userKey(st.Position.UserID))
	return nil
}

func (s *CachedStore) ReplaceState(ctx context.Context, userID, mint string, lots []model.Lot, positions []model.Position) error {
	// Capture the prior position set before the swap: a full-scope rebuild
	// can delete a position row outright, and its cache key must be
	// invalidated too, not just the keys of the rebuilt set.
	var prior []model.Position
	if mint == "" {
		var err error
		if prior, err = s.primary.GetPositions(ctx, userID); err != nil {
			slog.Warn("prior position read for cache invalidation failed",
				"user", userID, "err", err)
		}
	}

	if err := s.primary.ReplaceState(ctx, userID, mint, lots, positions); err != nil {
		return err
	}
	s.rdb.Del(ctx, replacedKeys(userID, mint, prior, positions)...)
	return nil
}

// replacedKeys lists every cache key a state swap can touch: the user's
// position-list key plus the per-mint keys of both the prior and the
// replacement position sets.
func replacedKeys(userID, mint string, prior, next []model.Position) []string {
	keys := []string{userKey(userID)}
	if mint != "" {
		return append(keys, positionKey(userID, mint))
	}

	seen := make(map[string]struct{}, len(prior)+len(next))
	add := func(positions []model.Position) {
		for _, p := range positions {
			if _, ok := seen[p.Mint]; ok {
				continue
			}
			seen[p.Mint] = struct{}{}
			keys = append(keys, positionKey(userID, p.Mint))
		}
	}
	add(prior)
	add(next)
	return keys
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, userID, mint string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(userID, mint)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPosition(ctx, userID, mint)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(userID, mint), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, userKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, userKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetTrades(ctx context.Context, userID, mint string) ([]model.Trade, error) {
	return s.primary.GetTrades(ctx, userID, mint)
}

func (s *CachedStore) GetLots(ctx context.Context, userID, mint string) ([]model.Lot, error) {
	return s.primary.GetLots(ctx, userID, mint)
}

func (s *CachedStore) GetOpenLots(ctx context.Context, userID, mint string) ([]model.Lot, error) {
	return s.primary.GetOpenLots(ctx, userID, mint)
}

func (s *CachedStore) GetRealizedPnL(ctx context.Context, userID, mint string, limit, offset int) ([]model.RealizedPnL, error) {
	return s.primary.GetRealizedPnL(ctx, userID, mint, limit, offset)
}

// --- Cache keys ---

func positionKey(userID, mint string) string { return fmt.Sprintf("position:%s:%s", userID, mint) }
func userKey(userID string) string           { return fmt.Sprintf("positions:%s", userID) }
