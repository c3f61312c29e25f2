package plans

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/pkg/models"
)

func tokyo() CreateInput {
	return CreateInput{
		UserID:       "u1",
		Title:        "Tokyo",
		Destinations: []string{"Tokyo"},
		StartDate:    "2025-03-01",
		EndDate:      "2025-03-05",
		Travelers:    2,
	}
}

func TestPlanLifecycle(t *testing.T) {
	kv := store.NewMemoryKV()
	svc := NewService(kv)
	ctx := context.Background()

	p, err := svc.Create(ctx, tokyo())
	require.NoError(t, err)
	assert.NotEmpty(t, p.PlanID)
	assert.Equal(t, models.PlanStatusDraft, p.Status)

	ttl, ok := kv.TTL(Key(p.PlanID))
	require.True(t, ok)
	assert.InDelta(t, DraftTTL.Seconds(), ttl.Seconds(), 5)

	saved, summary, err := svc.Save(ctx, "u1", p.PlanID, true)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusFinalized, saved.Status)
	assert.NotNil(t, saved.FinalizedAt)
	assert.Contains(t, summary, "Tokyo")

	ttl, _ = kv.TTL(Key(p.PlanID))
	assert.InDelta(t, FinalizedTTL.Seconds(), ttl.Seconds(), 5)

	_, err = svc.Update(ctx, "u1", p.PlanID, UpdateInput{Notes: []string{"late"}})
	assert.Equal(t, cerr.PlanInvalid, cerr.CodeOf(err))
}

func TestUpdateAppendsComponents(t *testing.T) {
	svc := NewService(store.NewMemoryKV())
	ctx := context.Background()
	p, err := svc.Create(ctx, tokyo())
	require.NoError(t, err)

	title := "Tokyo & Kyoto"
	updated, err := svc.Update(ctx, "u1", p.PlanID, UpdateInput{
		Title:        &title,
		Destinations: []string{"Tokyo", "Kyoto"},
		Activities:   []map[string]interface{}{{"name": "Fushimi Inari"}},
		Notes:        []string{"JR pass"},
	})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Len(t, updated.Components.Activities, 1)

	_, summary, err := svc.Save(ctx, "u1", p.PlanID, false)
	require.NoError(t, err)
	assert.Contains(t, summary, "Fushimi Inari")
	assert.Contains(t, summary, "JR pass")
	assert.True(t, strings.HasPrefix(summary, "# Tokyo & Kyoto"))
}

func TestOwnership(t *testing.T) {
	svc := NewService(store.NewMemoryKV())
	ctx := context.Background()
	p, err := svc.Create(ctx, tokyo())
	require.NoError(t, err)

	_, err = svc.Get(ctx, "intruder", p.PlanID)
	assert.Equal(t, cerr.PlanUnauthorized, cerr.CodeOf(err))

	err = svc.Delete(ctx, "intruder", p.PlanID)
	assert.Equal(t, cerr.PlanUnauthorized, cerr.CodeOf(err))

	require.NoError(t, svc.Delete(ctx, "u1", p.PlanID))
	_, err = svc.Get(ctx, "u1", p.PlanID)
	assert.Equal(t, cerr.PlanNotFound, cerr.CodeOf(err))
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(store.NewMemoryKV())
	ctx := context.Background()

	cases := map[string]func(*CreateInput){
		"no title":        func(in *CreateInput) { in.Title = " " },
		"no destinations": func(in *CreateInput) { in.Destinations = nil },
		"bad date":        func(in *CreateInput) { in.StartDate = "03/01/2025" },
		"reversed dates":  func(in *CreateInput) { in.EndDate = "2025-02-01" },
		"negative budget": func(in *CreateInput) { b := -1.0; in.Budget = &b },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := tokyo()
			mutate(&in)
			_, err := svc.Create(ctx, in)
			assert.Equal(t, cerr.PlanInvalid, cerr.CodeOf(err))
		})
	}

	in := tokyo()
	in.UserID = ""
	_, err := svc.Create(ctx, in)
	assert.Equal(t, cerr.PlanUnauthorized, cerr.CodeOf(err))
}

func TestDraftExpires(t *testing.T) {
	kv := store.NewMemoryKV()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return now })
	svc := NewService(kv)
	svc.SetClock(func() time.Time { return now })

	p, err := svc.Create(context.Background(), tokyo())
	require.NoError(t, err)

	now = now.Add(DraftTTL + time.Second)
	_, err = svc.Get(context.Background(), "u1", p.PlanID)
	assert.Equal(t, cerr.PlanNotFound, cerr.CodeOf(err))
}
