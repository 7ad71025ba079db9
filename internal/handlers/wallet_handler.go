package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/ledger"
	"github.com/vividforge/backend/internal/middleware"
	"github.com/vividforge/backend/internal/quota"
)

// WalletHandler serves balance, top-up, ledger history, and quota endpoints.
type WalletHandler struct {
	Ledger *ledger.Service
	Quota  *quota.Tracker
	Logger *slog.Logger
}

type topupRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Ref         string `json:"ref,omitempty"`
}

// Topup credits the authenticated account. Passing the same ref twice is a
// no-op, so payment webhooks can retry safely.
func (h *WalletHandler) Topup(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req topupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.AmountCents <= 0 {
		http.Error(w, `{"error":"amount_cents must be > 0"}`, http.StatusBadRequest)
		return
	}
	ref := req.Ref
	if ref == "" {
		ref = "topup:" + uuid.NewString()
	}
	if err := h.Ledger.Topup(r.Context(), acc.ID, req.AmountCents, ref, nil); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("topup failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	h.Balance(w, r)
}

// Balance returns available and held cents for the authenticated account.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	available, held, err := h.Ledger.Balance(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("balance lookup failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{
		"available_cents": available,
		"held_cents":      held,
	})
}

// Entries returns the account's most recent ledger entries.
func (h *WalletHandler) Entries(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), acc.ID, 100)
	if err != nil {
		h.Logger.Error("ledger history failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// QuotaStatus reports remaining free-tier capacity without consuming any.
func (h *WalletHandler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	resource := r.URL.Query().Get("resource_id")
	if resource == "" {
		resource = "default"
	}
	decision, err := h.Quota.Peek(r.Context(), acc.ID, resource)
	if err != nil {
		h.Logger.Error("quota lookup failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(decision)
}
