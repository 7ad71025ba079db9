package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/middleware"
	"github.com/vividforge/backend/internal/models"
	"github.com/vividforge/backend/internal/repository"
)

// APIKeyStore persists and revokes API keys.
type APIKeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	Deactivate(ctx context.Context, id, accountID uuid.UUID) error
}

// APIKeyHandler mints and revokes the API keys that authenticate /v1/
// requests. It runs behind the JWT session middleware, not behind API keys.
type APIKeyHandler struct {
	Keys   APIKeyStore
	Logger *slog.Logger
}

type mintedKey struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
}

// Create mints a new key and returns the plaintext exactly once; only the
// hash is stored.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		h.Logger.Error("generate api key failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	plaintext := "vf_" + hex.EncodeToString(raw)

	key := &models.APIKey{
		ID:        uuid.New(),
		AccountID: acc.ID,
		KeyHash:   middleware.HashKey(plaintext),
		KeyPrefix: plaintext[:10],
		IsActive:  true,
	}
	if err := h.Keys.Create(r.Context(), key); err != nil {
		h.Logger.Error("store api key failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(mintedKey{ID: key.ID, Key: plaintext, KeyPrefix: key.KeyPrefix})
}

// Revoke deactivates one of the caller's keys.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid key id"}`, http.StatusBadRequest)
		return
	}
	if err := h.Keys.Deactivate(r.Context(), id, acc.ID); err != nil {
		if errors.Is(err, repository.ErrKeyNotFound) {
			http.Error(w, `{"error":"key not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("revoke api key failed", "key_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
