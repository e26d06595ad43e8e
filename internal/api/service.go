// Package api provides the HTTP handlers exposing the ledger engine:
// applying trades, querying positions/lots/realized PnL, triggering
// rebuilds, and streaming live PnL over WebSocket.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokensim/ledger-engine/internal/fifo"
	"github.com/tokensim/ledger-engine/internal/ledger"
	"github.com/tokensim/ledger-engine/internal/model"
	"github.com/tokensim/ledger-engine/internal/rebuild"
	"github.com/tokensim/ledger-engine/internal/store"
	"github.com/tokensim/ledger-engine/internal/token"
)

// Service handles ledger HTTP operations.
type Service struct {
	ledger    *ledger.Ledger
	rebuilder *rebuild.Engine
}

// NewService creates the HTTP service over a ledger and a rebuild engine.
func NewService(l *ledger.Ledger, r *rebuild.Engine) *Service {
	return &Service{ledger: l, rebuilder: r}
}

// Routes mounts the service's endpoints on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/trades", s.ApplyTrade)
	r.Get("/positions/{userID}", s.GetPositions)
	r.Get("/positions/{userID}/{mint}", s.GetPosition)
	r.Get("/lots/{userID}/{mint}", s.GetLots)
	r.Get("/realized/{userID}", s.GetRealizedPnL)
	r.Get("/portfolio/{userID}", s.GetPortfolio)
	r.Post("/rebuild/{userID}", s.Rebuild)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trades: a trade already committed
// to the trade log by the order-execution collaborator.
type TradeRequest struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Mint       string          `json:"mint"`
	Side       string          `json:"side"` // "BUY" or "SELL"
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// --- Handlers ---

// ApplyTrade handles POST /api/v1/trades, the hot-path entry point.
func (s *Service) ApplyTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := token.ValidateMint(req.Mint); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = time.Now().UTC()
	}

	trade := &model.Trade{
		ID:         req.ID,
		UserID:     req.UserID,
		Mint:       req.Mint,
		Side:       req.Side,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		OccurredAt: req.OccurredAt,
	}

	result, err := s.ledger.ApplyTrade(r.Context(), trade)
	if err != nil {
		switch {
		case errors.Is(err, fifo.ErrInvalidQuantity), errors.Is(err, fifo.ErrInvalidPrice):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, fifo.ErrInsufficientInventory):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, ledger.ErrLedgerCorruption):
			writeError(w, err.Error(), http.StatusInternalServerError)
		default:
			writeError(w, "failed to apply trade", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetPositions handles GET /api/v1/positions/{userID}
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	portfolio, err := s.ledger.GetPortfolio(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, portfolio.Positions)
}

// GetPosition handles GET /api/v1/positions/{userID}/{mint}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	mint := chi.URLParam(r, "mint")

	position, err := s.ledger.GetPosition(r.Context(), userID, mint)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// GetLots handles GET /api/v1/lots/{userID}/{mint}
// Returns lots oldest first, consumed lots included.
func (s *Service) GetLots(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	mint := chi.URLParam(r, "mint")

	lots, err := s.ledger.GetLots(r.Context(), userID, mint)
	if err != nil {
		writeError(w, "failed to load lots", http.StatusInternalServerError)
		return
	}
	if lots == nil {
		lots = []model.Lot{}
	}
	writeJSON(w, http.StatusOK, lots)
}

// GetRealizedPnL handles GET /api/v1/realized/{userID}?mint=&limit=&offset=
func (s *Service) GetRealizedPnL(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	mint := r.URL.Query().Get("mint")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.ledger.GetRealizedPnL(r.Context(), userID, mint, limit, offset)
	if err != nil {
		writeError(w, "failed to load realized pnl", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.RealizedPnL{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	portfolio, err := s.ledger.GetPortfolio(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// Rebuild handles POST /api/v1/rebuild/{userID}?mint=
// Long-running; cancelled if the client disconnects.
func (s *Service) Rebuild(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	mint := r.URL.Query().Get("mint")
	if mint != "" {
		if err := token.ValidateMint(mint); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	report, err := s.rebuilder.Rebuild(r.Context(), userID, mint)
	if err != nil {
		writeError(w, "rebuild failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
