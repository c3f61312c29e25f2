package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripsage/tripsage-core/internal/approvals"
	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/config"
	"github.com/tripsage/tripsage-core/internal/guardrails"
	"github.com/tripsage/tripsage-core/internal/memory"
	"github.com/tripsage/tripsage-core/internal/plans"
	"github.com/tripsage/tripsage-core/internal/providers"
	"github.com/tripsage/tripsage-core/internal/ratelimit"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/internal/tools"
)

type fixture struct {
	reg       *tools.Registry
	records   *store.MemoryStore
	approvals *approvals.Gate
	searches  *int32
	bookings  *int32
}

func newFixture(t *testing.T, overrides map[string]config.ToolOverride) *fixture {
	t.Helper()
	var searches, bookings int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			atomic.AddInt32(&searches, 1)
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["query"] == "explode" {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"query":   body["query"],
				"results": []map[string]any{{"title": "t", "url": "https://x.test", "content": "c"}},
			})
		case "/bookings":
			atomic.AddInt32(&bookings, 1)
			time.Sleep(10 * time.Millisecond)
			json.NewEncoder(w).Encode(providers.BookingConfirmation{
				BookingID: "prov-1", ConfirmationCode: "CONF42", Status: "confirmed",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	hc := providers.NewHTTPClient(providers.WithRetries(0))
	records := store.NewMemoryStore()
	kv := store.NewMemoryKV()
	gate := approvals.NewGate(records)

	reg, err := Build(Deps{
		Guard:          guardrails.New(kv, ratelimit.NewSlidingWindow()),
		Approvals:      gate,
		Plans:          plans.NewService(kv),
		Memory:         memory.NewService(records),
		Bookings:       records,
		WebSearch:      providers.NewWebSearch(hc, srv.URL, "key"),
		Accommodations: providers.NewAccommodations(hc, srv.URL, "key"),
		Overrides:      overrides,
	})
	require.NoError(t, err)
	return &fixture{reg: reg, records: records, approvals: gate, searches: &searches, bookings: &bookings}
}

func (f *fixture) call(t *testing.T, name string, args any) (any, error) {
	t.Helper()
	tool, ok := f.reg.Get(name)
	require.True(t, ok, "tool %s", name)
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	if err := tool.ValidateInput(raw); err != nil {
		return nil, err
	}
	return tool.Execute(context.Background(), raw, tools.CallOptions{})
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestRegistryHasAllTools(t *testing.T) {
	f := newFixture(t, nil)
	for _, name := range []string{
		WebSearch, WebSearchBatch, CrawlURL, SearchFlights, SearchAccommodations,
		GetAccommodationDetails, CheckAvailability, BookAccommodation, GetCurrentWeather,
		Geocode, LookupPoiContext, GetTravelAdvisory, CreateTravelPlan, UpdateTravelPlan,
		SaveTravelPlan, DeleteTravelPlan, AddConversationMemory, SearchUserMemories,
	} {
		_, ok := f.reg.Get(name)
		assert.True(t, ok, name)
	}
}

func TestWebSearchCachesAndHonoursFresh(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.call(t, WebSearch, map[string]any{"query": "lisbon", "maxResults": 3})
	require.NoError(t, err)
	assert.Equal(t, false, asMap(t, first)["fromCache"])

	second, err := f.call(t, WebSearch, map[string]any{"maxResults": 3, "query": "lisbon"})
	require.NoError(t, err)
	assert.Equal(t, true, asMap(t, second)["fromCache"])
	assert.Equal(t, int32(1), atomic.LoadInt32(f.searches))

	_, err = f.call(t, WebSearch, map[string]any{"query": "lisbon", "maxResults": 3, "fresh": true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(f.searches))
}

func TestWebSearchBatchReportsPerQueryErrors(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.call(t, WebSearchBatch, map[string]any{"queries": []string{"a", "explode", "c"}})
	require.NoError(t, err)

	items := asMap(t, res)["results"].([]any)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].(map[string]any)["query"])
	assert.Equal(t, true, items[0].(map[string]any)["ok"])
	bad := items[1].(map[string]any)
	assert.Equal(t, false, bad["ok"])
	assert.Equal(t, string(cerr.WebSearchFailed), bad["error"].(map[string]any)["code"])
	assert.Equal(t, "c", items[2].(map[string]any)["query"])
}

func TestBookAccommodationRequiresApproval(t *testing.T) {
	f := newFixture(t, nil)
	args := map[string]any{
		"listingId":      "l1",
		"checkIn":        "2025-06-01",
		"checkOut":       "2025-06-04",
		"guests":         2,
		"guestName":      "Ada",
		"guestEmail":     "ada@example.com",
		"totalAmount":    420.0,
		"idempotencyKey": "idem-1",
		"userId":         "u1",
		"sessionId":      "s1",
	}

	_, err := f.call(t, BookAccommodation, args)
	assert.Equal(t, cerr.ApprovalRequired, cerr.CodeOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(f.bookings))

	_, err = f.approvals.Grant(context.Background(), BookAccommodation, "idem-1", "ops")
	require.NoError(t, err)

	res, err := f.call(t, BookAccommodation, args)
	require.NoError(t, err)
	assert.Equal(t, "CONF42", asMap(t, res)["confirmationCode"])

	// Retrying with the same key never books twice.
	again, err := f.call(t, BookAccommodation, args)
	require.NoError(t, err)
	assert.Equal(t, "CONF42", asMap(t, again)["confirmationCode"])
	assert.Equal(t, int32(1), atomic.LoadInt32(f.bookings))

	stored, err := f.records.ListBookings(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestBookAccommodationConcurrentRetriesBookOnce(t *testing.T) {
	f := newFixture(t, nil)
	args := map[string]any{
		"listingId":      "l1",
		"checkIn":        "2025-06-01",
		"checkOut":       "2025-06-04",
		"guestName":      "Ada",
		"guestEmail":     "ada@example.com",
		"idempotencyKey": "idem-1",
		"userId":         "u1",
		"sessionId":      "s1",
	}
	_, err := f.call(t, BookAccommodation, args)
	require.Equal(t, cerr.ApprovalRequired, cerr.CodeOf(err))
	_, err = f.approvals.Grant(context.Background(), BookAccommodation, "idem-1", "ops")
	require.NoError(t, err)

	tool, ok := f.reg.Get(BookAccommodation)
	require.True(t, ok)
	raw, err := json.Marshal(args)
	require.NoError(t, err)

	const callers = 4
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := tool.Execute(context.Background(), raw, tools.CallOptions{})
			errs[i] = err
			if m, ok := res.(map[string]any); ok {
				ids[i], _ = m["bookingId"].(string)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.NotEmpty(t, ids[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(f.bookings))
	stored, err := f.records.ListBookings(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, ids[0], stored[0].ID)
}

func TestBookAccommodationWithoutUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.call(t, BookAccommodation, map[string]any{
		"listingId": "l1", "checkIn": "2025-06-01", "checkOut": "2025-06-04",
		"guestName": "Ada", "guestEmail": "ada@example.com",
	})
	assert.Equal(t, cerr.AgentUserRequired, cerr.CodeOf(err))
}

func TestPlanTools(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.call(t, CreateTravelPlan, map[string]any{
		"title":        "Tokyo",
		"destinations": []string{"Tokyo"},
		"startDate":    "2025-03-01",
		"endDate":      "2025-03-05",
		"travelers":    2,
		"userId":       "u1",
	})
	require.NoError(t, err)
	m := asMap(t, res)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "draft", m["plan"].(map[string]any)["status"])
	planID := m["planId"].(string)

	saved, err := f.call(t, SaveTravelPlan, map[string]any{"planId": planID, "finalize": true, "userId": "u1"})
	require.NoError(t, err)
	sm := asMap(t, saved)
	assert.Equal(t, "finalized", sm["status"])
	assert.Contains(t, sm["summary"], "Tokyo")

	_, err = f.call(t, DeleteTravelPlan, map[string]any{"planId": planID, "userId": "u1", "sessionId": "s1"})
	assert.Equal(t, cerr.ApprovalRequired, cerr.CodeOf(err))
}

func TestMemoryTools(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.call(t, AddConversationMemory, map[string]any{
		"content": "Prefers window seats", "category": "user_preference", "userId": "u1",
	})
	require.NoError(t, err)

	res, err := f.call(t, SearchUserMemories, map[string]any{"query": "window", "userId": "u1"})
	require.NoError(t, err)
	mems := asMap(t, res)["memories"].([]any)
	require.Len(t, mems, 1)
	assert.Equal(t, "Prefers window seats", mems[0].(map[string]any)["content"])
}

func TestOverridesApplied(t *testing.T) {
	f := newFixture(t, map[string]config.ToolOverride{
		WebSearch: {RateLimit: &config.RateLimitOverride{Limit: 1, Window: time.Minute}},
	})

	_, err := f.call(t, WebSearch, map[string]any{"query": "a"})
	require.NoError(t, err)
	_, err = f.call(t, WebSearch, map[string]any{"query": "b"})
	assert.Equal(t, cerr.WebSearchRateLimited, cerr.CodeOf(err))
}

func TestBadOverrideFailsBuild(t *testing.T) {
	_, err := Build(Deps{
		Guard:     guardrails.New(store.NewMemoryKV(), ratelimit.NewSlidingWindow()),
		Overrides: map[string]config.ToolOverride{WebSearch: {BypassWhen: "params.("}},
	})
	assert.Error(t, err)
}

func TestSearchTTL(t *testing.T) {
	assert.Equal(t, 10*time.Minute, searchTTL(guardrails.Params{"query": "Latest strikes in Paris"}))
	assert.Equal(t, 10*time.Minute, searchTTL(guardrails.Params{"query": "x", "topic": "news"}))
	assert.Equal(t, time.Hour, searchTTL(guardrails.Params{"query": "museums in Rome"}))
}
