package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Trade routes
	api.HandleFunc("/trades", handler.CreateTrade).Methods("POST")
	api.HandleFunc("/trades", handler.ListTrades).Methods("GET")
	api.HandleFunc("/trades/history", handler.TradeHistory).Methods("GET")
	api.HandleFunc("/trades/{id}", handler.CloseTrade).Methods("DELETE")
	api.HandleFunc("/trades/{id}", handler.UpdateTrade).Methods("PATCH")
	api.HandleFunc("/trades/{id}/promote", handler.PromoteTrade).Methods("POST")

	// Market data routes
	api.HandleFunc("/indices", handler.Indices).Methods("GET")
	api.HandleFunc("/pnl/day", handler.DayPnL).Methods("GET")
	api.HandleFunc("/symbols/search", handler.SearchSymbols).Methods("GET")
	api.HandleFunc("/symbols/{name}", handler.SymbolDetails).Methods("GET")
	api.HandleFunc("/symbols/{name}/chain", handler.OptionChain).Methods("GET")

	return r
}
