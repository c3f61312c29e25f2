package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/pkg/models"
)

func TestAddAndSearch(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}

	for _, c := range []string{
		"Prefers aisle seats on long flights",
		"Vegetarian, avoids seafood",
		"Loved the ryokan stay in Kyoto",
		"Prefers boutique hotels over chains",
	} {
		if _, err := svc.Add(ctx, "u1", "s1", CategoryPreference, c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := svc.Search(ctx, "u1", "hotels she prefers", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got[0].Content != "Prefers boutique hotels over chains" {
		t.Errorf("best hit = %q", got[0].Content)
	}

	recent, _ := svc.Search(ctx, "u1", "", 2)
	if len(recent) != 2 || recent[0].Content != "Prefers boutique hotels over chains" {
		t.Errorf("empty query should return newest first, got %+v", recent)
	}

	other, _ := svc.Search(ctx, "u2", "hotels", 5)
	if len(other) != 0 {
		t.Errorf("memories leaked across users: %+v", other)
	}
}

func TestAddValidation(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Add(ctx, "", "", "", "x"); cerr.CodeOf(err) != cerr.AgentUserRequired {
		t.Errorf("missing user: got %v", err)
	}
	if _, err := svc.Add(ctx, "u1", "", "", "   "); cerr.CodeOf(err) != cerr.ToolInvalidInput {
		t.Errorf("empty content: got %v", err)
	}
	rec, err := svc.Add(ctx, "u1", "", "", "fact")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Category != CategoryFact || rec.ID == "" {
		t.Errorf("unexpected record %+v", rec)
	}
}

type failingStore struct{}

func (failingStore) InsertMemory(context.Context, *models.MemoryRecord) error {
	return errors.New("db down")
}

func (failingStore) ListMemories(context.Context, string, int) ([]models.MemoryRecord, error) {
	return nil, errors.New("db down")
}

func TestRecordTurnSwallowsErrors(t *testing.T) {
	svc := NewService(failingStore{})
	// Must not panic or propagate.
	svc.RecordTurn(context.Background(), "u1", "s1", "hello")

	if _, err := svc.Add(context.Background(), "u1", "s1", "", "hello"); cerr.CodeOf(err) != cerr.MemoryStoreFailed {
		t.Errorf("expected memory_store_failed, got %v", err)
	}
}
