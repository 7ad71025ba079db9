package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job lifecycle: created -> submitted -> polling -> settled, with error
// reachable from any step. Outcome is set once the job reaches a terminal
// state; settlement (charge or refund/quota release) happens exactly once.
const (
	JobStateCreated   = "created"
	JobStateSubmitted = "submitted"
	JobStatePolling   = "polling"
	JobStateSettled   = "settled"
	JobStateError     = "error"

	JobOutcomeSuccess = "success"
	JobOutcomeFailed  = "failed"
)

// Funding modes: paid draws on the account balance via a ledger hold, free
// consumes a quota slot.
const (
	FundingPaid = "paid"
	FundingFree = "free"
)

// Failure reasons surfaced to the caller on terminal failure.
const (
	FailReasonProviderError = "provider_error"
	FailReasonRejected      = "provider_rejected"
	FailReasonTimeout       = "timeout"
	FailReasonInternal      = "internal_error"
)

type Job struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      uuid.UUID       `json:"account_id"`
	ResourceID     string          `json:"resource_id"`
	Params         json.RawMessage `json:"params,omitempty"`
	PriceCents     int64           `json:"price_cents"`
	FundingMode    string          `json:"funding_mode"`
	HoldRef        string          `json:"hold_ref,omitempty"`
	FreeUsageRef   string          `json:"free_usage_ref,omitempty"`
	State          string          `json:"state"`
	Outcome        string          `json:"outcome,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	ExternalTaskID *string         `json:"external_task_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Terminal reports whether the job has been settled (or force-errored) and
// must never be settled again.
func (j *Job) Terminal() bool {
	return j.State == JobStateSettled || j.State == JobStateError
}
