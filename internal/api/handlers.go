package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tradeassist/options-engine/internal/catalog"
	"github.com/tradeassist/options-engine/internal/engine"
	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	engine  *engine.Engine
	trades  store.TradeStore
	catalog *catalog.Catalog
	logger  *logrus.Logger
}

// NewHandler creates a new Handler
func NewHandler(eng *engine.Engine, trades store.TradeStore, cat *catalog.Catalog, logger *logrus.Logger) *Handler {
	return &Handler{
		engine:  eng,
		trades:  trades,
		catalog: cat,
		logger:  logger,
	}
}

// CreateTrade handles POST /trades
func (h *Handler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	t, err := h.engine.CreateTrade(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// ListTrades handles GET /trades?user_id=
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	trades, err := h.trades.ListActiveByUser(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

// CloseTrade handles DELETE /trades/{id}?user_id=
func (h *Handler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	t, err := h.engine.CloseTrade(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// PromoteTrade handles POST /trades/{id}/promote?user_id=
func (h *Handler) PromoteTrade(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	t, err := h.engine.PromoteToLive(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// UpdateTrade handles PATCH /trades/{id}?user_id=
func (h *Handler) UpdateTrade(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	var req engine.UpdateProtectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	t, err := h.engine.UpdateProtection(r.Context(), userID, mux.Vars(r)["id"], req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// TradeHistory handles GET /trades/history?user_id=&limit=
func (h *Handler) TradeHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	trades, err := h.trades.History(r.Context(), userID, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

// DayPnL handles GET /pnl/day?user_id=
func (h *Handler) DayPnL(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	pnl, err := h.engine.DayPnL(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"pnl": pnl.StringFixed(2)})
}

// Indices handles GET /indices
func (h *Handler) Indices(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Indices()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// SearchSymbols handles GET /symbols/search?q=
func (h *Handler) SearchSymbols(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, h.catalog.Search(catalog.Resolve(q), 20))
}

// SymbolDetails handles GET /symbols/{name}
func (h *Handler) SymbolDetails(w http.ResponseWriter, r *http.Request) {
	name := catalog.Resolve(mux.Vars(r)["name"])
	details, err := h.catalog.Details(r.Context(), name, r.URL.Query().Get("exchange"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

// OptionChain handles GET /symbols/{name}/chain?expiry=&type=
func (h *Handler) OptionChain(w http.ResponseWriter, r *http.Request) {
	name := catalog.Resolve(mux.Vars(r)["name"])
	expiry := r.URL.Query().Get("expiry")
	optionType := r.URL.Query().Get("type")
	if optionType != models.InstrumentCall && optionType != models.InstrumentPut {
		http.Error(w, "type must be CE or PE", http.StatusBadRequest)
		return
	}

	details, err := h.catalog.Details(r.Context(), name, r.URL.Query().Get("exchange"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.catalog.Chain(name, expiry, optionType, details.LTP))
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrDuplicateKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.WithError(err).Error("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
