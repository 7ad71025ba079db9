package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/backoff"
	"github.com/vividforge/backend/internal/guard"
	"github.com/vividforge/backend/internal/jobs"
	"github.com/vividforge/backend/internal/ledger"
	"github.com/vividforge/backend/internal/middleware"
	"github.com/vividforge/backend/internal/models"
	"github.com/vividforge/backend/internal/provider"
	"github.com/vividforge/backend/internal/quota"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// instantProvider accepts every task and reports success on the first poll.
type instantProvider struct{}

func (instantProvider) CreateTask(context.Context, string, json.RawMessage) (string, error) {
	return "task-1", nil
}

func (instantProvider) GetStatus(context.Context, string) (*provider.Status, error) {
	return &provider.Status{State: provider.TaskSucceeded, Result: json.RawMessage(`{"url":"img.png"}`)}, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

func newTestHandler(t *testing.T, availableCents int64, limits quota.Limits) (*GenerationHandler, *models.Account) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	account := &models.Account{ID: uuid.New(), Email: "test@example.com", AvailableCents: availableCents}
	store := ledger.NewMemoryStore()
	store.PutAccount(account)

	var svc *jobs.Service
	svc = jobs.NewService(
		jobs.NewMemoryRepository(),
		ledger.NewService(store),
		quota.NewTracker(quota.NewMemoryStore(), func(string) quota.Limits { return limits }),
		guard.New(guard.NewMemoryStore()),
		instantProvider{},
		provider.NewCaller(0, backoff.NewConstant(0), logger),
		func(ctx context.Context, jobID uuid.UUID) error { return svc.Run(ctx, jobID) },
		logger,
		jobs.Config{PollInterval: time.Millisecond, MaxPollAttempts: 3, MaxPollFailures: 2},
	)
	return &GenerationHandler{Jobs: svc, Logger: logger}, account
}

func doCreate(h *GenerationHandler, acc *models.Account, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(body))
	req = req.WithContext(middleware.WithAccount(req.Context(), acc))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreate_Accepted(t *testing.T) {
	h, acc := newTestHandler(t, 1000, quota.Limits{})

	rec := doCreate(h, acc, `{"resource_id":"img-gen","price_cents":300,"funding_mode":"paid"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var handle jobs.Handle
	if err := json.Unmarshal(rec.Body.Bytes(), &handle); err != nil {
		t.Fatalf("decode handle: %v", err)
	}
	if handle.JobID == uuid.Nil {
		t.Error("expected a job id in the response")
	}
}

func TestCreate_InsufficientFunds(t *testing.T) {
	h, acc := newTestHandler(t, 100, quota.Limits{})

	rec := doCreate(h, acc, `{"resource_id":"img-gen","price_cents":300,"funding_mode":"paid"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreate_QuotaExceeded(t *testing.T) {
	h, acc := newTestHandler(t, 0, quota.Limits{Daily: 1})

	if rec := doCreate(h, acc, `{"resource_id":"a","funding_mode":"free"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("first free job: expected 202, got %d", rec.Code)
	}
	rec := doCreate(h, acc, `{"resource_id":"b","funding_mode":"free"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Quota quota.Decision `json:"quota"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Quota.Reason != quota.ReasonDailyLimit {
		t.Errorf("quota reason = %q, want %q", body.Quota.Reason, quota.ReasonDailyLimit)
	}
}

func TestCreate_DuplicateReturnsFirstHandle(t *testing.T) {
	h, acc := newTestHandler(t, 1000, quota.Limits{})

	first := doCreate(h, acc, `{"resource_id":"img-gen","price_cents":300,"funding_mode":"paid"}`)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first: expected 202, got %d", first.Code)
	}
	// Same (user, resource) inside the window: the first handle comes back.
	second := doCreate(h, acc, `{"resource_id":"img-gen","price_cents":300,"funding_mode":"paid"}`)
	if second.Code != http.StatusAccepted {
		t.Fatalf("duplicate: expected 202, got %d: %s", second.Code, second.Body.String())
	}
	var h1, h2 jobs.Handle
	_ = json.Unmarshal(first.Body.Bytes(), &h1)
	_ = json.Unmarshal(second.Body.Bytes(), &h2)
	if !h2.Duplicate || h1.JobID != h2.JobID {
		t.Fatalf("expected duplicate handle for %s, got %+v", h1.JobID, h2)
	}
}

func TestCreate_BadRequests(t *testing.T) {
	h, acc := newTestHandler(t, 1000, quota.Limits{})

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing resource", `{"price_cents":300,"funding_mode":"paid"}`},
		{"paid without price", `{"resource_id":"img-gen","funding_mode":"paid"}`},
		{"bad funding mode", `{"resource_id":"img-gen","funding_mode":"sponsored"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := doCreate(h, acc, tc.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreate_Unauthorized(t *testing.T) {
	h, _ := newTestHandler(t, 1000, quota.Limits{})

	req := httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGet_OwnershipEnforced(t *testing.T) {
	h, acc := newTestHandler(t, 1000, quota.Limits{})

	rec := doCreate(h, acc, `{"resource_id":"img-gen","price_cents":300,"funding_mode":"paid"}`)
	var handle jobs.Handle
	_ = json.Unmarshal(rec.Body.Bytes(), &handle)

	get := func(as *models.Account) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/generations/"+handle.JobID.String(), nil)
		req.SetPathValue("id", handle.JobID.String())
		req = req.WithContext(middleware.WithAccount(req.Context(), as))
		out := httptest.NewRecorder()
		h.Get(out, req)
		return out
	}

	if out := get(acc); out.Code != http.StatusOK {
		t.Fatalf("owner fetch: expected 200, got %d", out.Code)
	}
	stranger := &models.Account{ID: uuid.New(), Email: "other@example.com"}
	if out := get(stranger); out.Code != http.StatusNotFound {
		t.Fatalf("stranger fetch: expected 404, got %d", out.Code)
	}
}

func TestCallback_RejectsNonTerminalState(t *testing.T) {
	h, _ := newTestHandler(t, 0, quota.Limits{})

	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/generations/"+id.String()+"/result",
		strings.NewReader(`{"state":"running"}`))
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCallback_UnknownJob(t *testing.T) {
	h, _ := newTestHandler(t, 0, quota.Limits{})

	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/generations/"+id.String()+"/result",
		strings.NewReader(`{"state":"failed","error":"boom"}`))
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
