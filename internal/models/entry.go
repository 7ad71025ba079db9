package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry kinds. A hold moves available -> held; it is later resolved by
// exactly one charge (held is consumed) or one release (held returns to
// available). Refund is a direct credit used to compensate a prior charge.
const (
	EntryTopup   = "topup"
	EntryHold    = "hold"
	EntryRelease = "release"
	EntryCharge  = "charge"
	EntryRefund  = "refund"
)

// LedgerEntry is an immutable, append-only record of a balance mutation.
// Ref is the idempotency key: the same Ref is never applied twice.
type LedgerEntry struct {
	ID          uuid.UUID         `json:"id"`
	AccountID   uuid.UUID         `json:"account_id"`
	Kind        string            `json:"kind"`
	AmountCents int64             `json:"amount_cents"`
	Ref         string            `json:"ref"`
	HoldRef     string            `json:"hold_ref,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
