package pnl

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tokensim/ledger-engine/internal/model"
)

// RedisFeed consumes price ticks published by the market-data collaborator
// on a Redis pub/sub channel. Messages are JSON-encoded model.PriceTick.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
}

// NewRedisFeed creates a feed reading from the given pub/sub channel.
func NewRedisFeed(rdb *redis.Client, channel string) *RedisFeed {
	return &RedisFeed{rdb: rdb, channel: channel}
}

// Run subscribes and forwards decoded ticks until ctx is cancelled. The
// returned channel is closed when the feed stops. Malformed messages are
// logged and dropped; one bad publisher must not stall the stream.
func (f *RedisFeed) Run(ctx context.Context) <-chan model.PriceTick {
	out := make(chan model.PriceTick, 64)

	sub := f.rdb.Subscribe(ctx, f.channel)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var tick model.PriceTick
				if err := json.Unmarshal([]byte(msg.Payload), &tick); err != nil {
					slog.Warn("malformed price tick dropped", "channel", f.channel, "err", err)
					continue
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
