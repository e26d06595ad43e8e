package pnl

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/metrics"
	"github.com/tokensim/ledger-engine/internal/model"
	"github.com/tokensim/ledger-engine/internal/store"
)

// Streamer fans price ticks out to per-(user, mint) PnL subscriptions.
//
// Each subscription has a capacity-1 channel with latest-value-wins
// delivery: if a subscriber cannot keep up with tick cadence, intermediate
// updates are replaced rather than queued. PnL is a current-state signal,
// not an event log. The streamer shares only read access to positions with
// the ledger and never blocks on ledger writes.
type Streamer struct {
	store store.Store

	mu        sync.RWMutex
	subs      map[string]map[*Subscription]struct{} // mint → subscriptions
	lastPrice map[string]model.PriceTick            // mint → last observed tick
}

// Subscription is one live PnL stream for a (user, mint) pair.
type Subscription struct {
	UserID string
	Mint   string

	ch       chan Update
	streamer *Streamer
	once     sync.Once
}

// NewStreamer creates a streamer reading positions from st.
func NewStreamer(st store.Store) *Streamer {
	return &Streamer{
		store:     st,
		subs:      make(map[string]map[*Subscription]struct{}),
		lastPrice: make(map[string]model.PriceTick),
	}
}

// Subscribe registers a live PnL stream for (user, mint). If a price for
// the mint has already been observed, an initial snapshot is delivered
// immediately from the last known price; otherwise the stream stays silent
// until the first tick arrives.
func (s *Streamer) Subscribe(ctx context.Context, userID, mint string) *Subscription {
	sub := &Subscription{
		UserID:   userID,
		Mint:     mint,
		ch:       make(chan Update, 1),
		streamer: s,
	}

	s.mu.Lock()
	if s.subs[mint] == nil {
		s.subs[mint] = make(map[*Subscription]struct{})
	}
	s.subs[mint][sub] = struct{}{}
	last, hasPrice := s.lastPrice[mint]
	s.mu.Unlock()

	metrics.PnLSubscribers.Inc()

	if hasPrice {
		s.push(ctx, sub, last.Price, last.Timestamp)
	}
	return sub
}

// Updates returns the subscription's receive channel. It is closed by
// Unsubscribe.
func (sub *Subscription) Updates() <-chan Update {
	return sub.ch
}

// Unsubscribe releases the subscription. Idempotent: a second call is a
// no-op.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		s := sub.streamer
		s.mu.Lock()
		if set, ok := s.subs[sub.Mint]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(s.subs, sub.Mint)
			}
		}
		s.mu.Unlock()

		close(sub.ch)
		metrics.PnLSubscribers.Dec()
	})
}

// Run consumes price ticks until ctx is cancelled or the feed channel
// closes. Each tick updates the last-known price for its mint and fans a
// fresh snapshot out to that mint's subscribers.
func (s *Streamer) Run(ctx context.Context, ticks <-chan model.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			s.handleTick(ctx, tick)
		}
	}
}

func (s *Streamer) handleTick(ctx context.Context, tick model.PriceTick) {
	s.mu.Lock()
	s.lastPrice[tick.Mint] = tick
	subs := make([]*Subscription, 0, len(s.subs[tick.Mint]))
	for sub := range s.subs[tick.Mint] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.push(ctx, sub, tick.Price, tick.Timestamp)
	}
}

// push computes a snapshot for one subscription and delivers it with
// latest-value-wins semantics.
func (s *Streamer) push(ctx context.Context, sub *Subscription, price decimal.Decimal, at time.Time) {
	position, err := s.store.GetPosition(ctx, sub.UserID, sub.Mint)
	if err != nil {
		// No position yet: nothing to stream. Other errors are logged and
		// the tick skipped; the next tick retries.
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("pnl position read failed", "user", sub.UserID, "mint", sub.Mint, "err", err)
		}
		return
	}

	update, err := Snapshot(*position, price, at)
	if err != nil {
		// Zero quantity: undefined PnL, stream stays quiet.
		return
	}

	// Deliver under the read lock: Unsubscribe closes the channel only
	// after removing the subscription under the write lock, so a send can
	// never race the close.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, active := s.subs[sub.Mint][sub]; !active {
		return
	}

	select {
	case sub.ch <- update:
	default:
		// Subscriber is behind: replace the stale pending update.
		select {
		case <-sub.ch:
			metrics.TicksDropped.Inc()
		default:
		}
		select {
		case sub.ch <- update:
		default:
		}
	}
}

// LastPrice returns the last observed price for a mint, if any. Stale but
// present beats absent.
func (s *Streamer) LastPrice(mint string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick, ok := s.lastPrice[mint]
	return tick.Price, ok
}
