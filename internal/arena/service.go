// Package arena provides the HTTP handlers for the trading arena engine:
// order submission, position close, cancellation, entry snapshots, candles,
// and leaderboards.
//
// Prices cross this boundary as shopspring/decimal — never float64.
package arena

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/engine"
	"github.com/fxarena/arena-engine/internal/feed"
	"github.com/fxarena/arena-engine/internal/ledger"
	"github.com/fxarena/arena-engine/internal/model"
	"github.com/fxarena/arena-engine/internal/store"
)

// Service handles arena HTTP requests.
type Service struct {
	engine *engine.Engine
	feed   *feed.Feed
	store  store.Store
}

// NewService creates the HTTP service over the engine, feed and store.
func NewService(eng *engine.Engine, f *feed.Feed, st store.Store) *Service {
	return &Service{engine: eng, feed: f, store: st}
}

// Routes mounts all arena routes on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/market/candles", s.GetCandles)
	r.Get("/market/quote/{instrument}", s.GetQuote)

	r.Post("/entries", s.OpenEntry)
	r.Post("/competitions/{competitionID}/end", s.EndCompetition)

	r.Post("/arena/{entryID}/orders", s.SubmitOrder)
	r.Post("/arena/{entryID}/orders/{orderID}/cancel", s.CancelOrder)
	r.Post("/arena/{entryID}/positions/{positionID}/close", s.ClosePosition)
	r.Get("/arena/{entryID}", s.GetArena)

	r.Get("/leaderboard/{competitionID}", s.GetLeaderboard)
}

// --- Request/Response types ---

// OpenEntryRequest is the setup hook consumed from the competition/PvP
// layer: it creates and funds one entry.
type OpenEntryRequest struct {
	CompetitionID        string   `json:"competition_id"`
	UserID               string   `json:"user_id"`
	StartingBalanceCents int64    `json:"starting_balance_cents"`
	AllowedInstruments   []string `json:"allowed_instruments"`
}

// OrderRequest is the JSON body for POST /arena/{entryID}/orders. Type is a
// closed tagged variant over {market, limit, stop}; required fields are
// enforced here at the boundary.
type OrderRequest struct {
	Instrument      string          `json:"instrument"`
	Side            model.Side      `json:"side"`
	Type            model.OrderType `json:"type"`
	QuantityUnits   int64           `json:"quantity_units"`
	TriggerPrice    decimal.Decimal `json:"trigger_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	// ClientOrderID is the idempotency nonce: resubmitting with the same
	// value returns the original result without double execution.
	ClientOrderID string `json:"client_order_id"`
}

// CandlesResponse is the JSON body for GET /market/candles.
type CandlesResponse struct {
	Instrument string         `json:"instrument"`
	Timeframe  string         `json:"timeframe"`
	Synthetic  bool           `json:"synthetic"`
	Candles    []model.Candle `json:"candles"`
}

// ArenaResponse is the entry snapshot plus its fill history.
type ArenaResponse struct {
	engine.Snapshot
	Fills []model.Fill `json:"fills"`
}

// --- Handlers ---

// OpenEntry handles POST /api/v1/entries.
func (s *Service) OpenEntry(w http.ResponseWriter, r *http.Request) {
	var req OpenEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.engine.OpenEntry(r.Context(), req.CompetitionID, req.UserID,
		req.StartingBalanceCents, req.AllowedInstruments)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// EndCompetition handles POST /api/v1/competitions/{competitionID}/end.
func (s *Service) EndCompetition(w http.ResponseWriter, r *http.Request) {
	competitionID := chi.URLParam(r, "competitionID")
	if err := s.engine.EndCompetition(r.Context(), competitionID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// SubmitOrder handles POST /api/v1/arena/{entryID}/orders.
// Returns the fill for market orders, or the resting order descriptor.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.engine.SubmitOrder(r.Context(), engine.SubmitRequest{
		EntryID:         entryID,
		Instrument:      req.Instrument,
		Side:            req.Side,
		Type:            req.Type,
		QuantityUnits:   req.QuantityUnits,
		TriggerPrice:    req.TriggerPrice,
		StopLossPrice:   req.StopLossPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		IdempotencyKey:  req.ClientOrderID,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if res.Order != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// CancelOrder handles POST /api/v1/arena/{entryID}/orders/{orderID}/cancel.
// A cancel racing a concurrent fill loses with 409 so the client refreshes.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	orderID := chi.URLParam(r, "orderID")

	if err := s.engine.CancelOrder(r.Context(), entryID, orderID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ClosePosition handles POST /api/v1/arena/{entryID}/positions/{positionID}/close.
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	positionID := chi.URLParam(r, "positionID")

	fill, err := s.engine.ClosePosition(r.Context(), entryID, positionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

// GetArena handles GET /api/v1/arena/{entryID}: the authoritative snapshot
// of cash, equity, open positions, resting orders, and fill history.
func (s *Service) GetArena(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	snap, err := s.engine.Snapshot(r.Context(), entryID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	fills, err := s.store.ListFillsByEntry(r.Context(), entryID)
	if err != nil {
		slog.Error("fill history read failed", "entry_id", entryID, "err", err)
		fills = nil
	}
	if fills == nil {
		fills = []model.Fill{}
	}

	writeJSON(w, http.StatusOK, ArenaResponse{Snapshot: snap, Fills: fills})
}

// GetCandles handles GET /api/v1/market/candles?instrument=&timeframe=&limit=.
func (s *Service) GetCandles(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	tf := model.Timeframe(r.URL.Query().Get("timeframe"))
	if tf == "" {
		tf = model.TF1m
	}
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	candles, synthetic, err := s.feed.Candles(instrument, tf, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if candles == nil {
		candles = []model.Candle{}
	}

	writeJSON(w, http.StatusOK, CandlesResponse{
		Instrument: instrument,
		Timeframe:  string(tf),
		Synthetic:  synthetic,
		Candles:    candles,
	})
}

// GetQuote handles GET /api/v1/market/quote/{instrument}.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	instrument := chi.URLParam(r, "instrument")

	quote, err := s.feed.Latest(instrument)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetLeaderboard handles GET /api/v1/leaderboard/{competitionID}.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	competitionID := chi.URLParam(r, "competitionID")

	rows, err := s.engine.Leaderboard(r.Context(), competitionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if rows == nil {
		rows = []model.LeaderboardRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, ve.Reason, http.StatusBadRequest)
	case errors.Is(err, engine.ErrEntryNotFound),
		errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, engine.ErrPositionNotFound),
		errors.Is(err, engine.ErrCompetitionNotFound),
		errors.Is(err, engine.ErrInstrumentNotFound),
		errors.Is(err, feed.ErrUnknownInstrument),
		errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, feed.ErrUnknownTimeframe):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, feed.ErrNoQuote):
		writeError(w, "quote not available yet, retry shortly", http.StatusServiceUnavailable)
	case errors.Is(err, engine.ErrAlreadyFilled),
		errors.Is(err, engine.ErrAlreadyCancelled):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrFrozen):
		writeError(w, "trading temporarily suspended for this entry", http.StatusServiceUnavailable)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
