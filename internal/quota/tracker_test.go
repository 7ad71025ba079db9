package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func fixedLimits(daily, hourly int) LimitsFunc {
	return func(string) Limits { return Limits{Daily: daily, Hourly: hourly} }
}

func newTestTracker(daily, hourly int) (*Tracker, *time.Time) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	tr := NewTracker(NewMemoryStore(), fixedLimits(daily, hourly))
	tr.now = func() time.Time { return now }
	return tr, &now
}

// ---------------------------------------------------------------------------
// CheckAndReserve
// ---------------------------------------------------------------------------

func TestCheckAndReserve_DailyLimit(t *testing.T) {
	tr, _ := newTestTracker(3, 0)
	user := uuid.New()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		dec, err := tr.CheckAndReserve(ctx, user, "img-gen")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !dec.Allowed || dec.DailyUsed != i {
			t.Fatalf("reserve %d: got %+v", i, dec)
		}
	}

	dec, err := tr.CheckAndReserve(ctx, user, "img-gen")
	if err != nil {
		t.Fatalf("reserve over limit: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonDailyLimit {
		t.Fatalf("expected daily rejection, got %+v", dec)
	}
}

func TestCheckAndReserve_HourlyRejectRollsBackDaily(t *testing.T) {
	tr, _ := newTestTracker(10, 1)
	user := uuid.New()
	ctx := context.Background()

	if dec, err := tr.CheckAndReserve(ctx, user, "img-gen"); err != nil || !dec.Allowed {
		t.Fatalf("first reserve: %+v, %v", dec, err)
	}

	dec, err := tr.CheckAndReserve(ctx, user, "img-gen")
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonHourlyLimit {
		t.Fatalf("expected hourly rejection, got %+v", dec)
	}

	// The rejected attempt must not have consumed daily quota.
	peek, err := tr.Peek(ctx, user, "img-gen")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if peek.DailyUsed != 1 {
		t.Fatalf("daily usage = %d after rollback, want 1", peek.DailyUsed)
	}
}

func TestCheckAndReserve_ConcurrentNeverOversells(t *testing.T) {
	tr, _ := newTestTracker(5, 0)
	user := uuid.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Decision, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dec, err := tr.CheckAndReserve(ctx, user, "img-gen")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			results[i] = dec
		}(i)
	}
	wg.Wait()

	var admitted int
	for _, dec := range results {
		if dec.Allowed {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("admitted %d of 20, want exactly 5", admitted)
	}
}

func TestCheckAndReserve_DisabledWindowIsUnlimited(t *testing.T) {
	tr, _ := newTestTracker(0, 0)
	user := uuid.New()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		dec, err := tr.CheckAndReserve(ctx, user, "img-gen")
		if err != nil || !dec.Allowed {
			t.Fatalf("reserve %d: %+v, %v", i, dec, err)
		}
	}
}

func TestUsersAndResourcesAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(1, 0)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	if dec, _ := tr.CheckAndReserve(ctx, alice, "img-gen"); !dec.Allowed {
		t.Fatal("alice first reserve rejected")
	}
	if dec, _ := tr.CheckAndReserve(ctx, alice, "img-gen"); dec.Allowed {
		t.Fatal("alice second reserve should be rejected")
	}
	if dec, _ := tr.CheckAndReserve(ctx, bob, "img-gen"); !dec.Allowed {
		t.Fatal("bob should have his own bucket")
	}
	if dec, _ := tr.CheckAndReserve(ctx, alice, "video-gen"); !dec.Allowed {
		t.Fatal("a different resource should have its own bucket")
	}
}

// ---------------------------------------------------------------------------
// Rollover / Release
// ---------------------------------------------------------------------------

func TestWindowRollover_ResetsCounter(t *testing.T) {
	tr, now := newTestTracker(0, 2)
	user := uuid.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); !dec.Allowed {
			t.Fatalf("reserve %d rejected", i)
		}
	}
	if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); dec.Allowed {
		t.Fatal("third reserve in same hour should be rejected")
	}

	*now = now.Add(time.Hour)

	dec, err := tr.CheckAndReserve(ctx, user, "img-gen")
	if err != nil || !dec.Allowed {
		t.Fatalf("reserve after rollover: %+v, %v", dec, err)
	}
	if dec.HourlyUsed != 1 {
		t.Fatalf("hourly usage after rollover = %d, want 1", dec.HourlyUsed)
	}
}

func TestRelease_ReturnsSlot(t *testing.T) {
	tr, _ := newTestTracker(1, 0)
	user := uuid.New()
	ctx := context.Background()

	if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); !dec.Allowed {
		t.Fatal("first reserve rejected")
	}
	if err := tr.Release(ctx, user, "img-gen", ""); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); !dec.Allowed {
		t.Fatal("reserve after release should succeed")
	}
}

func TestRelease_RefIsConsumedOnce(t *testing.T) {
	tr, _ := newTestTracker(2, 0)
	user := uuid.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); !dec.Allowed {
			t.Fatalf("reserve %d rejected", i)
		}
	}

	// Replaying the same release ref must return exactly one slot.
	for i := 0; i < 3; i++ {
		if err := tr.Release(ctx, user, "img-gen", "quota:job-a"); err != nil {
			t.Fatalf("Release replay %d: %v", i, err)
		}
	}

	if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); !dec.Allowed {
		t.Fatal("the released slot should be reusable")
	}
	if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); dec.Allowed {
		t.Fatal("replayed releases must not open extra slots")
	}
}

func TestRelease_AfterRolloverIsNoOp(t *testing.T) {
	tr, now := newTestTracker(0, 2)
	user := uuid.New()
	ctx := context.Background()

	if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); !dec.Allowed {
		t.Fatal("reserve rejected")
	}

	*now = now.Add(time.Hour)

	// The reservation belongs to the closed window; releasing it now must not
	// push the fresh window's counter negative.
	if err := tr.Release(ctx, user, "img-gen", ""); err != nil {
		t.Fatalf("Release: %v", err)
	}
	for i := 0; i < 2; i++ {
		if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); !dec.Allowed {
			t.Fatalf("reserve %d in new window rejected", i)
		}
	}
	if dec, _ := tr.CheckAndReserve(ctx, user, "img-gen"); dec.Allowed {
		t.Fatal("limit should still be 2 in the new window")
	}
}
