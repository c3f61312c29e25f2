package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// ─── MemoryKV ────────────────────────────────────────────────

func TestMemoryKV_SetGetDelete(t *testing.T) {
	kv := store.NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}

	kv.Delete(ctx, "k")
	if _, err := kv.Get(ctx, "k"); !store.IsNotFound(err) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryKV_Expiry(t *testing.T) {
	kv := store.NewMemoryKV()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return now })
	ctx := context.Background()

	kv.Set(ctx, "short", []byte("1"), time.Minute)
	kv.Set(ctx, "long", []byte("2"), time.Hour)

	now = now.Add(2 * time.Minute)
	if _, err := kv.Get(ctx, "short"); !store.IsNotFound(err) {
		t.Errorf("expired key should be not found, got %v", err)
	}
	if _, err := kv.Get(ctx, "long"); err != nil {
		t.Errorf("live key error = %v", err)
	}
	if n := kv.PurgeExpired(); n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}
	if ttl, ok := kv.TTL("long"); !ok || ttl != 58*time.Minute {
		t.Errorf("TTL() = %v, %v; want 58m, true", ttl, ok)
	}
}

func TestMemoryKV_ValueIsCopied(t *testing.T) {
	kv := store.NewMemoryKV()
	ctx := context.Background()

	buf := []byte("abc")
	kv.Set(ctx, "k", buf, 0)
	buf[0] = 'x'
	got, _ := kv.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value mutated through caller slice: %q", got)
	}
}

// ─── Approvals ───────────────────────────────────────────────

func TestCreateApprovalIfAbsent_Concurrent(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	created := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.CreateApprovalIfAbsent(ctx, &models.ApprovalRecord{
				ID:             "id",
				Action:         "bookAccommodation",
				IdempotencyKey: "key-1",
				Status:         models.ApprovalPending,
			})
			if err != nil {
				t.Errorf("CreateApprovalIfAbsent() error = %v", err)
			}
			created <- ok
		}()
	}
	wg.Wait()
	close(created)

	n := 0
	for ok := range created {
		if ok {
			n++
		}
	}
	if n != 1 {
		t.Errorf("records created = %d, want 1", n)
	}

	all, _ := s.ListApprovals(ctx, "", 0)
	if len(all) != 1 {
		t.Errorf("ListApprovals() returned %d, want 1", len(all))
	}
}

func TestUpdateApproval(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	rec := &models.ApprovalRecord{Action: "deleteTravelPlan", IdempotencyKey: "p1", Status: models.ApprovalPending}
	if err := s.UpdateApproval(ctx, rec, models.ApprovalPending); !store.IsNotFound(err) {
		t.Fatalf("UpdateApproval() on missing record error = %v, want ErrNotFound", err)
	}

	s.CreateApprovalIfAbsent(ctx, rec)
	rec.Status = models.ApprovalGranted
	if err := s.UpdateApproval(ctx, rec, models.ApprovalPending); err != nil {
		t.Fatalf("UpdateApproval() error = %v", err)
	}

	// A terminal status is never overwritten.
	denied := *rec
	denied.Status = models.ApprovalDenied
	if err := s.UpdateApproval(ctx, &denied, models.ApprovalPending); !store.IsConflict(err) {
		t.Fatalf("UpdateApproval() on resolved record error = %v, want ErrConflict", err)
	}
	got, err := s.GetApproval(ctx, "deleteTravelPlan:p1")
	if err != nil {
		t.Fatalf("GetApproval() error = %v", err)
	}
	if got.Status != models.ApprovalGranted {
		t.Errorf("Status = %q, want %q", got.Status, models.ApprovalGranted)
	}

	pending, _ := s.ListApprovals(ctx, models.ApprovalPending, 10)
	if len(pending) != 0 {
		t.Errorf("pending approvals = %d, want 0", len(pending))
	}
}

// ─── Bookings & Memories ─────────────────────────────────────

func TestInsertBooking_Idempotent(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	s.InsertBooking(ctx, &models.Booking{ID: "b1", UserID: "u1", IdempotencyKey: "k", ConfirmationCode: "FIRST"})
	stored, err := s.InsertBooking(ctx, &models.Booking{ID: "b2", UserID: "u1", IdempotencyKey: "k", ConfirmationCode: "SECOND"})
	if err != nil {
		t.Fatalf("InsertBooking() error = %v", err)
	}
	if stored.ID != "b1" {
		t.Errorf("InsertBooking() returned %q, want the existing booking b1", stored.ID)
	}

	got, err := s.GetBookingByIdempotencyKey(ctx, "k")
	if err != nil {
		t.Fatalf("GetBookingByIdempotencyKey() error = %v", err)
	}
	if got.ConfirmationCode != "FIRST" {
		t.Errorf("ConfirmationCode = %q, want %q", got.ConfirmationCode, "FIRST")
	}
	list, _ := s.ListBookings(ctx, "u1")
	if len(list) != 1 {
		t.Errorf("ListBookings() = %d, want 1", len(list))
	}
}

func TestListMemories_NewestFirst(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three"} {
		s.InsertMemory(ctx, &models.MemoryRecord{UserID: "u1", Content: c})
	}
	got, _ := s.ListMemories(ctx, "u1", 2)
	if len(got) != 2 || got[0].Content != "three" || got[1].Content != "two" {
		t.Errorf("ListMemories() = %+v, want [three two]", got)
	}
}
