// Package jobs orchestrates a generation job end to end: duplicate guarding,
// fund or quota reservation, provider submission, status polling, and
// exactly-once settlement.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/guard"
	"github.com/vividforge/backend/internal/metrics"
	"github.com/vividforge/backend/internal/models"
	"github.com/vividforge/backend/internal/provider"
	"github.com/vividforge/backend/internal/quota"
)

// Ledger is the financial surface the orchestrator settles through.
type Ledger interface {
	Hold(ctx context.Context, accountID uuid.UUID, amount int64, ref string) error
	Charge(ctx context.Context, accountID uuid.UUID, amount int64, chargeRef, holdRef string) error
	Refund(ctx context.Context, accountID uuid.UUID, amount int64, refundRef, holdRef string) error
}

// Quota reserves and returns free-tier slots.
type Quota interface {
	CheckAndReserve(ctx context.Context, userID uuid.UUID, resourceID string) (quota.Decision, error)
	Release(ctx context.Context, userID uuid.UUID, resourceID, ref string) error
}

// Guard is the duplicate-submission and concurrency-cap surface.
type Guard interface {
	RegisterOrReject(ctx context.Context, userID uuid.UUID, resourceID string) (*guard.Fingerprint, error)
	BindJob(ctx context.Context, userID uuid.UUID, resourceID string, jobID uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID, resourceID string) error
	TryAcquireSlot(ctx context.Context, userID uuid.UUID) (bool, error)
	ReleaseSlot(ctx context.Context, userID uuid.UUID) error
	ReleaseSlotForJob(ctx context.Context, userID, jobID uuid.UUID) error
}

// EnqueueFunc hands a created job to the background executor. Wired to
// river.Client.Insert in main; tests run the job inline.
type EnqueueFunc func(ctx context.Context, jobID uuid.UUID) error

// Config bounds the poll loop.
type Config struct {
	PollInterval    time.Duration // between status polls
	MaxPollAttempts int           // total poll budget before failed(timeout)
	MaxPollFailures int           // consecutive failed polls before failed(provider_error)
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		MaxPollAttempts: 60,
		MaxPollFailures: 5,
	}
}

type Service struct {
	repo     Repository
	ledger   Ledger
	quota    Quota
	guard    Guard
	client   provider.Client
	caller   *provider.Caller
	enqueue  EnqueueFunc
	logger   *slog.Logger
	cfg      Config
	OnEvent  TerminalFunc
	Metrics  *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(
	repo Repository,
	ledger Ledger,
	quota Quota,
	guard Guard,
	client provider.Client,
	caller *provider.Caller,
	enqueue EnqueueFunc,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.PollInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		repo:    repo,
		ledger:  ledger,
		quota:   quota,
		guard:   guard,
		client:  client,
		caller:  caller,
		enqueue: enqueue,
		logger:  logger,
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

// SubmitRequest is the validated input from the presentation layer.
type SubmitRequest struct {
	AccountID   uuid.UUID
	ResourceID  string
	Params      json.RawMessage
	PriceCents  int64
	FundingMode string
	Progress    ProgressFunc
}

// Handle identifies an accepted (or already in-flight) job.
type Handle struct {
	JobID     uuid.UUID `json:"job_id"`
	State     string    `json:"state"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// Submit guards, reserves funding, persists the job, and enqueues execution.
// A duplicate submission inside the fingerprint window returns the first
// job's handle without touching the provider. Every rejection before the
// reservation mutates nothing; every failure after it compensates exactly once.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Handle, error) {
	fp, err := s.guard.RegisterOrReject(ctx, req.AccountID, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("register fingerprint: %w", err)
	}
	if fp != nil {
		if fp.JobID != uuid.Nil {
			if prev, gerr := s.repo.GetByID(ctx, fp.JobID); gerr == nil {
				return &Handle{JobID: prev.ID, State: prev.State, Duplicate: true}, nil
			}
		}
		return nil, ErrDuplicateInFlight
	}

	ok, err := s.guard.TryAcquireSlot(ctx, req.AccountID)
	if err != nil {
		s.clearFingerprint(ctx, req)
		return nil, fmt.Errorf("acquire slot: %w", err)
	}
	if !ok {
		s.clearFingerprint(ctx, req)
		return nil, ErrTooManyActive
	}

	jobID := uuid.New()
	job := &models.Job{
		ID:          jobID,
		AccountID:   req.AccountID,
		ResourceID:  req.ResourceID,
		Params:      req.Params,
		PriceCents:  req.PriceCents,
		FundingMode: req.FundingMode,
		State:       models.JobStateCreated,
	}

	switch req.FundingMode {
	case models.FundingPaid:
		job.HoldRef = "hold:" + jobID.String()
		if err := s.ledger.Hold(ctx, req.AccountID, req.PriceCents, job.HoldRef); err != nil {
			s.releaseGuards(ctx, req)
			return nil, err
		}
	case models.FundingFree:
		dec, err := s.quota.CheckAndReserve(ctx, req.AccountID, req.ResourceID)
		if err != nil {
			s.releaseGuards(ctx, req)
			return nil, fmt.Errorf("reserve quota: %w", err)
		}
		if !dec.Allowed {
			s.releaseGuards(ctx, req)
			return nil, &QuotaError{Decision: dec}
		}
		job.FreeUsageRef = "quota:" + jobID.String()
	default:
		s.releaseGuards(ctx, req)
		return nil, ErrInvalidFunding
	}
	s.progress(req.Progress, "reserved")

	if err := s.repo.Create(ctx, job); err != nil {
		// The reservation was taken; give it back before surfacing.
		s.compensate(ctx, job)
		s.releaseGuards(ctx, req)
		return nil, fmt.Errorf("persist job: %w", err)
	}
	if err := s.guard.BindJob(ctx, req.AccountID, req.ResourceID, jobID); err != nil {
		s.logger.Warn("bind fingerprint failed", "job_id", jobID, "error", err)
	}

	if err := s.enqueue(ctx, jobID); err != nil {
		s.failTerminal(ctx, job, models.FailReasonInternal, "enqueue failed")
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	s.progress(req.Progress, "queued")
	s.countSubmitted(req.FundingMode)

	return &Handle{JobID: jobID, State: job.State}, nil
}

// Run executes a job to its terminal state: submit to the provider (skipped
// when resuming a job that already has an external task), then poll. Safe to
// replay: a terminal job is a no-op, and every settlement ref derives from the
// job ID.
func (s *Service) Run(ctx context.Context, jobID uuid.UUID) (err error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return nil
	}
	defer s.recoverPanic(ctx, job, &err)

	if job.ExternalTaskID == nil {
		var taskID string
		callErr := s.caller.Do(ctx, func(ctx context.Context) error {
			id, cerr := s.client.CreateTask(ctx, job.ResourceID, job.Params)
			taskID = id
			return cerr
		})
		if callErr != nil {
			reason := models.FailReasonProviderError
			var perr *provider.Error
			if errors.As(callErr, &perr) && !perr.Retryable() {
				reason = models.FailReasonRejected
			}
			s.logger.Warn("create task failed", "job_id", job.ID, "error", callErr)
			s.failTerminal(ctx, job, reason, callErr.Error())
			return nil
		}
		job.ExternalTaskID = &taskID
		job.State = models.JobStateSubmitted
		if err := s.repo.Update(ctx, job); err != nil {
			return fmt.Errorf("update job submitted: %w", err)
		}
	}

	return s.poll(ctx, job)
}

// poll drives the job to a terminal state on a fixed interval with a bounded
// attempt budget. Isolated network blips do not abort the loop; fatal errors
// or too many consecutive failures escalate to failed(provider_error), and an
// exhausted budget settles failed(timeout).
func (s *Service) poll(ctx context.Context, job *models.Job) error {
	job.State = models.JobStatePolling
	if err := s.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("update job polling: %w", err)
	}

	failures := 0
	for attempt := 1; attempt <= s.cfg.MaxPollAttempts; attempt++ {
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			// Caller abandoned; the job stays in polling for the sweep to reconcile.
			s.logger.Warn("poll interrupted", "job_id", job.ID, "error", err)
			return err
		}

		var st *provider.Status
		err := s.caller.Do(ctx, func(ctx context.Context) error {
			got, gerr := s.client.GetStatus(ctx, *job.ExternalTaskID)
			st = got
			return gerr
		})
		if err != nil {
			var perr *provider.Error
			if errors.As(err, &perr) && !perr.Retryable() {
				s.observeAttempts(attempt)
				s.failTerminal(ctx, job, models.FailReasonProviderError, err.Error())
				return nil
			}
			failures++
			if failures >= s.cfg.MaxPollFailures {
				s.logger.Warn("poll failures exhausted", "job_id", job.ID, "failures", failures)
				s.observeAttempts(attempt)
				s.failTerminal(ctx, job, models.FailReasonProviderError, err.Error())
				return nil
			}
			continue
		}
		failures = 0

		switch st.State {
		case provider.TaskSucceeded:
			s.observeAttempts(attempt)
			s.succeedTerminal(ctx, job, st.Result)
			return nil
		case provider.TaskFailed:
			s.observeAttempts(attempt)
			s.failTerminal(ctx, job, models.FailReasonProviderError, st.Message)
			return nil
		}
		// queued or running: keep polling
	}

	s.observeAttempts(s.cfg.MaxPollAttempts)
	s.failTerminal(ctx, job, models.FailReasonTimeout, "poll budget exhausted")
	return nil
}

// OnTerminalResult is the push-path entry point: a provider notification and
// the active poll loop both land here, and whichever arrives first wins. A
// result for an already-settled job is a no-op.
func (s *Service) OnTerminalResult(ctx context.Context, jobID uuid.UUID, st *provider.Status) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return nil
	}
	switch st.State {
	case provider.TaskSucceeded:
		s.succeedTerminal(ctx, job, st.Result)
	case provider.TaskFailed:
		s.failTerminal(ctx, job, models.FailReasonProviderError, st.Message)
	}
	return nil
}

// RecoverStale reconciles jobs stuck in a non-terminal state past the
// staleness threshold: jobs that reached the provider resume polling, jobs
// that never got an external task are failed and refunded.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) error {
	stale, err := s.repo.ListStale(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}
	for _, job := range stale {
		if job.ExternalTaskID == nil {
			s.logger.Warn("recovering job that never reached the provider", "job_id", job.ID)
			s.failTerminal(ctx, job, models.FailReasonInternal, "lost before provider submission")
			continue
		}
		s.logger.Info("resuming stale job", "job_id", job.ID, "state", job.State)
		if err := s.enqueue(ctx, job.ID); err != nil {
			s.logger.Error("re-enqueue stale job failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// GetJob returns a job by ID.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// ListJobs returns the account's most recent jobs.
func (s *Service) ListJobs(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error) {
	return s.repo.ListByAccount(ctx, accountID, limit)
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

// succeedTerminal settles the success side: charge the hold (paid) or keep
// the quota slot consumed (free), then persist the result and release the
// user's slot.
func (s *Service) succeedTerminal(ctx context.Context, job *models.Job, result json.RawMessage) {
	s.finalize(ctx, job, models.JobOutcomeSuccess, "", result)
}

// failTerminal settles the failure side: release the hold back to available
// (paid) or return the quota slot (free), so a failure never costs the user
// money or a free attempt.
func (s *Service) failTerminal(ctx context.Context, job *models.Job, reason, detail string) {
	if detail != "" {
		s.logger.Info("job failed", "job_id", job.ID, "reason", reason, "detail", detail)
	}
	s.finalize(ctx, job, models.JobOutcomeFailed, reason, nil)
}

// finalize is the single terminal path. It re-checks terminal state so late
// deliveries are no-ops, settles exactly once (refs derive from the job ID,
// so replays after a crash cannot double-charge or double-refund), releases
// the slot, and emits the terminal event. Slot release and the event run
// regardless of which step failed.
func (s *Service) finalize(ctx context.Context, job *models.Job, outcome, reason string, result json.RawMessage) {
	cur, err := s.repo.GetByID(ctx, job.ID)
	if err == nil {
		if cur.Terminal() {
			return
		}
		job = cur
	}

	job.State = models.JobStateSettled
	job.Outcome = outcome
	job.FailureReason = reason
	job.Result = result

	if serr := s.settle(ctx, job, outcome); serr != nil {
		// Settlement must not silently fail: surface as an invariant violation.
		s.logger.Error("settlement failed", "job_id", job.ID, "outcome", outcome, "error", serr)
		job.State = models.JobStateError
		job.FailureReason = models.FailReasonInternal
	}
	if uerr := s.repo.Update(ctx, job); uerr != nil {
		s.logger.Error("persist terminal job failed", "job_id", job.ID, "error", uerr)
	}
	if rerr := s.guard.ReleaseSlotForJob(ctx, job.AccountID, job.ID); rerr != nil {
		s.logger.Error("release slot failed", "job_id", job.ID, "error", rerr)
	}
	s.countSettled(job.Outcome)
	if s.OnEvent != nil {
		s.OnEvent(TerminalEvent{
			JobID:   job.ID,
			State:   job.State,
			Outcome: job.Outcome,
			Reason:  job.FailureReason,
			Result:  job.Result,
		})
	}
}

// settle applies exactly one of {charge, refund/release} for the job's
// reservation. Idempotent: the ledger calls no-op on a replayed ref, and the
// quota release is consumed-once on the job's usage ref.
func (s *Service) settle(ctx context.Context, job *models.Job, outcome string) error {
	switch job.FundingMode {
	case models.FundingPaid:
		if outcome == models.JobOutcomeSuccess {
			return s.ledger.Charge(ctx, job.AccountID, job.PriceCents, "charge:"+job.ID.String(), job.HoldRef)
		}
		return s.ledger.Refund(ctx, job.AccountID, job.PriceCents, "refund:"+job.ID.String(), job.HoldRef)
	case models.FundingFree:
		if outcome == models.JobOutcomeSuccess {
			return nil // the slot stays consumed
		}
		return s.quota.Release(ctx, job.AccountID, job.ResourceID, job.FreeUsageRef)
	}
	return ErrInvalidFunding
}

// compensate reverses a reservation for a job that never got persisted or
// enqueued.
func (s *Service) compensate(ctx context.Context, job *models.Job) {
	if err := s.settle(ctx, job, models.JobOutcomeFailed); err != nil {
		s.logger.Error("compensation failed", "job_id", job.ID, "error", err)
	}
}

// recoverPanic converts an unclassified failure into the error state with the
// same compensating settlement as a normal failure.
func (s *Service) recoverPanic(ctx context.Context, job *models.Job, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Error("job execution panicked", "job_id", job.ID, "panic", r)
	s.failTerminal(ctx, job, models.FailReasonInternal, fmt.Sprint(r))
	*errp = nil
}

func (s *Service) releaseGuards(ctx context.Context, req SubmitRequest) {
	if err := s.guard.ReleaseSlot(ctx, req.AccountID); err != nil {
		s.logger.Warn("release slot failed", "account_id", req.AccountID, "error", err)
	}
	s.clearFingerprint(ctx, req)
}

func (s *Service) clearFingerprint(ctx context.Context, req SubmitRequest) {
	if err := s.guard.Clear(ctx, req.AccountID, req.ResourceID); err != nil {
		s.logger.Warn("clear fingerprint failed", "account_id", req.AccountID, "error", err)
	}
}

func (s *Service) progress(fn ProgressFunc, stage string) {
	if fn != nil {
		fn(stage)
	}
}

func (s *Service) countSubmitted(funding string) {
	if s.Metrics != nil {
		s.Metrics.JobsSubmitted.WithLabelValues(funding).Inc()
	}
}

func (s *Service) countSettled(outcome string) {
	if s.Metrics != nil {
		s.Metrics.JobsSettled.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) observeAttempts(n int) {
	if s.Metrics != nil {
		s.Metrics.PollAttempts.Observe(float64(n))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
