package main

import (
	"log/slog"
	"net/http"

	"github.com/vividforge/backend/internal/handlers"
	"github.com/vividforge/backend/internal/jobs"
	"github.com/vividforge/backend/internal/ledger"
	"github.com/vividforge/backend/internal/middleware"
	"github.com/vividforge/backend/internal/quota"
	"github.com/vividforge/backend/internal/repository"
)

// RegisterV1Routes adds the /v1/ generation and wallet endpoints to the mux.
// Middleware chain: APIKeyAuth -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	jobsSvc *jobs.Service,
	ledgerSvc *ledger.Service,
	quotaTracker *quota.Tracker,
	apiKeyRepo *repository.APIKeyRepo,
	callbackToken string,
	logger *slog.Logger,
) {
	gh := &handlers.GenerationHandler{Jobs: jobsSvc, Logger: logger}
	wh := &handlers.WalletHandler{Ledger: ledgerSvc, Quota: quotaTracker, Logger: logger}

	auth := middleware.APIKeyAuth(apiKeyRepo)

	mux.Handle("POST /v1/generations", auth(http.HandlerFunc(gh.Create)))
	mux.Handle("GET /v1/generations", auth(http.HandlerFunc(gh.List)))
	mux.Handle("GET /v1/generations/{id}", auth(http.HandlerFunc(gh.Get)))

	// Provider push callback. Authenticated with the shared callback token,
	// not a user key, so it bypasses APIKeyAuth.
	mux.Handle("POST /v1/generations/{id}/result", requireToken(callbackToken, http.HandlerFunc(gh.Callback)))

	mux.Handle("POST /v1/wallet/topup", auth(http.HandlerFunc(wh.Topup)))
	mux.Handle("GET /v1/wallet", auth(http.HandlerFunc(wh.Balance)))
	mux.Handle("GET /v1/wallet/ledger", auth(http.HandlerFunc(wh.Entries)))
	mux.Handle("GET /v1/quota", auth(http.HandlerFunc(wh.QuotaStatus)))
}

func requireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
