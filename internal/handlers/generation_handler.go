package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/jobs"
	"github.com/vividforge/backend/internal/ledger"
	"github.com/vividforge/backend/internal/middleware"
	"github.com/vividforge/backend/internal/models"
	"github.com/vividforge/backend/internal/provider"
)

// GenerationHandler serves the /v1/generations API.
type GenerationHandler struct {
	Jobs   *jobs.Service
	Logger *slog.Logger
}

type createGenerationRequest struct {
	ResourceID  string          `json:"resource_id"`
	Params      json.RawMessage `json:"params,omitempty"`
	PriceCents  int64           `json:"price_cents"`
	FundingMode string          `json:"funding_mode"`
}

// Create submits a generation job for the authenticated account.
func (h *GenerationHandler) Create(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.ResourceID == "" {
		http.Error(w, `{"error":"resource_id is required"}`, http.StatusBadRequest)
		return
	}
	if req.FundingMode == models.FundingPaid && req.PriceCents <= 0 {
		http.Error(w, `{"error":"price_cents must be > 0 for paid jobs"}`, http.StatusBadRequest)
		return
	}

	handle, err := h.Jobs.Submit(r.Context(), jobs.SubmitRequest{
		AccountID:   acc.ID,
		ResourceID:  req.ResourceID,
		Params:      req.Params,
		PriceCents:  req.PriceCents,
		FundingMode: req.FundingMode,
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(handle)
}

func (h *GenerationHandler) writeSubmitError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	var qerr *jobs.QuotaError
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "insufficient funds"})
	case errors.As(err, &qerr):
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "quota exceeded", "quota": qerr.Decision})
	case errors.Is(err, jobs.ErrDuplicateInFlight):
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "identical submission already in flight"})
	case errors.Is(err, jobs.ErrTooManyActive):
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many active jobs"})
	case errors.Is(err, jobs.ErrInvalidFunding):
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "funding_mode must be paid or free"})
	default:
		h.Logger.Error("submit failed", "error", err)
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "submission failed, please retry"})
	}
}

// Get returns one job owned by the authenticated account.
func (h *GenerationHandler) Get(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	job, err := h.Jobs.GetJob(r.Context(), id)
	if err != nil || job.AccountID != acc.ID {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

// List returns the account's recent jobs.
func (h *GenerationHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Jobs.ListJobs(r.Context(), acc.ID, 50)
	if err != nil {
		h.Logger.Error("list jobs", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// Callback is the provider push path: a terminal notification feeds the same
// settlement as the poll loop, and whichever arrives first wins.
func (h *GenerationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	var st provider.Status
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if !st.State.Terminal() {
		http.Error(w, `{"error":"state must be terminal"}`, http.StatusBadRequest)
		return
	}
	if err := h.Jobs.OnTerminalResult(r.Context(), id, &st); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("terminal callback failed", "job_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
