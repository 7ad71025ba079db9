// Package guard rejects near-duplicate submissions and caps how many jobs a
// user may have in flight. Both checks run before any funds are touched, so a
// rejection never needs financial compensation.
package guard

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fingerprint marks a recent submission for a (user, resource) pair. JobID is
// bound once the job row exists so a duplicate caller can be handed the first
// job instead of a bare rejection.
type Fingerprint struct {
	UserID     uuid.UUID
	ResourceID string
	JobID      uuid.UUID
	CreatedAt  time.Time
}

// Store is the get/set/expire backend for fingerprints and slots. The
// in-process MemoryStore is the single-instance backend; a shared store (e.g.
// Redis, or a table) can replace it when multiple instances run, since
// process-local state is not authoritative then.
type Store interface {
	// PutIfAbsent registers fp unless a live fingerprint already exists for
	// key, in which case the existing one is returned.
	PutIfAbsent(ctx context.Context, key string, fp *Fingerprint, ttl time.Duration) (*Fingerprint, error)
	GetFingerprint(ctx context.Context, key string) (*Fingerprint, error)
	SetFingerprint(ctx context.Context, key string, fp *Fingerprint, ttl time.Duration) error
	DeleteFingerprint(ctx context.Context, key string) error

	// AcquireSlot increments the user's active-job count unless it is already
	// at max. Slots expire after ttl to self-heal from crashed holders.
	AcquireSlot(ctx context.Context, userID uuid.UUID, max int, ttl time.Duration) (bool, error)
	ReleaseSlot(ctx context.Context, userID uuid.UUID) error
	// ReleaseSlotOnce releases one slot the first time ref is seen; a replayed
	// ref is a no-op, so it cannot free a slot held by another job.
	ReleaseSlotOnce(ctx context.Context, userID uuid.UUID, ref string, ttl time.Duration) error
}

const (
	DefaultWindow    = 10 * time.Second
	DefaultSlotTTL   = 30 * time.Minute
	DefaultMaxActive = 1
)

type Guard struct {
	store     Store
	Window    time.Duration
	SlotTTL   time.Duration
	MaxActive int
}

func New(store Store) *Guard {
	return &Guard{
		store:     store,
		Window:    DefaultWindow,
		SlotTTL:   DefaultSlotTTL,
		MaxActive: DefaultMaxActive,
	}
}

// RegisterOrReject returns the live fingerprint if one was registered inside
// the window (the caller must treat the submission as already in flight), or
// registers a fresh one and returns nil.
func (g *Guard) RegisterOrReject(ctx context.Context, userID uuid.UUID, resourceID string) (*Fingerprint, error) {
	fp := &Fingerprint{UserID: userID, ResourceID: resourceID, CreatedAt: time.Now().UTC()}
	return g.store.PutIfAbsent(ctx, fingerprintKey(userID, resourceID), fp, g.Window)
}

// BindJob attaches the created job to the live fingerprint. A missing
// fingerprint (already expired) is not an error.
func (g *Guard) BindJob(ctx context.Context, userID uuid.UUID, resourceID string, jobID uuid.UUID) error {
	key := fingerprintKey(userID, resourceID)
	fp, err := g.store.GetFingerprint(ctx, key)
	if err != nil || fp == nil {
		return err
	}
	fp.JobID = jobID
	remaining := g.Window - time.Since(fp.CreatedAt)
	if remaining <= 0 {
		return nil
	}
	return g.store.SetFingerprint(ctx, key, fp, remaining)
}

// Clear drops the fingerprint, used when a submission is rejected before a
// job was created so an immediate retry is not locked out for the full window.
func (g *Guard) Clear(ctx context.Context, userID uuid.UUID, resourceID string) error {
	return g.store.DeleteFingerprint(ctx, fingerprintKey(userID, resourceID))
}

// TryAcquireSlot reserves one of the user's concurrent-job slots.
func (g *Guard) TryAcquireSlot(ctx context.Context, userID uuid.UUID) (bool, error) {
	return g.store.AcquireSlot(ctx, userID, g.MaxActive, g.SlotTTL)
}

// ReleaseSlot returns a slot taken by TryAcquireSlot.
func (g *Guard) ReleaseSlot(ctx context.Context, userID uuid.UUID) error {
	return g.store.ReleaseSlot(ctx, userID)
}

// ReleaseSlotForJob returns the slot held for jobID. Safe to replay: the
// release is keyed on the job, so a retried settlement cannot free a second
// slot.
func (g *Guard) ReleaseSlotForJob(ctx context.Context, userID, jobID uuid.UUID) error {
	return g.store.ReleaseSlotOnce(ctx, userID, "slot:"+jobID.String(), g.SlotTTL)
}

func fingerprintKey(userID uuid.UUID, resourceID string) string {
	return userID.String() + ":" + resourceID
}
