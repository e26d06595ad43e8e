package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokensim/ledger-engine/internal/pnl"
	"github.com/tokensim/ledger-engine/internal/token"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// PnLHub serves live PnL streams over WebSocket. Each connection carries
// exactly one (user, mint) subscription; backpressure is handled upstream
// by the streamer's latest-value-wins channels, so a slow client only ever
// sees the newest update.
type PnLHub struct {
	streamer *pnl.Streamer
}

// NewPnLHub creates a hub over the given streamer.
func NewPnLHub(s *pnl.Streamer) *PnLHub {
	return &PnLHub{streamer: s}
}

// HandleWS handles GET /api/v1/ws/pnl?user_id=<id>&mint=<mint>.
func (h *PnLHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	mint := r.URL.Query().Get("mint")
	if userID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := token.ValidateMint(mint); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	sub := h.streamer.Subscribe(r.Context(), userID, mint)
	slog.Info("pnl subscriber connected", "user", userID, "mint", mint)

	// Read pump: detect disconnects and release the subscription.
	go func() {
		defer sub.Unsubscribe()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Write pump: forward updates, ping through proxies.
	go func() {
		defer conn.Close()
		defer sub.Unsubscribe()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case update, ok := <-sub.Updates():
				if !ok {
					return
				}
				if err := conn.WriteJSON(update); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}
