package guardrails

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/config"
	"github.com/tripsage/tripsage-core/internal/ratelimit"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/internal/tools"
)

type searchResult struct {
	Query     string   `json:"query"`
	Results   []string `json:"results"`
	FromCache bool     `json:"fromCache"`
	TookMs    int64    `json:"tookMs"`
}

// searchTool counts executions and returns a typed result.
func searchTool(calls *int32) *tools.Tool {
	return &tools.Tool{
		Name: "webSearch",
		Execute: func(_ context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			atomic.AddInt32(calls, 1)
			in, err := tools.Decode[struct {
				Query string `json:"query"`
			}](input)
			if err != nil {
				return nil, err
			}
			if in.Query == "fail" {
				return nil, cerr.New(cerr.WebSearchFailed, "upstream down", nil)
			}
			return searchResult{Query: in.Query, Results: []string{"a", "b"}, TookMs: 250}, nil
		},
	}
}

func searchCache() *CacheConfig {
	return &CacheConfig{
		Namespace:    "web_search",
		Key:          func(p Params) string { return CanonicalKey(p, "fresh") },
		TTL:          TTL(time.Hour),
		ShouldBypass: func(p Params) bool { fresh, _ := p["fresh"].(bool); return fresh },
		OnHit: func(cached any, _ Params, meta HitMeta) any {
			m := cached.(map[string]any)
			m["fromCache"] = true
			m["tookMs"] = float64(0)
			return m
		},
	}
}

func newGuard() (*Guard, *store.MemoryKV) {
	kv := store.NewMemoryKV()
	return New(kv, ratelimit.NewSlidingWindow()), kv
}

func call(t *testing.T, tool *tools.Tool, ctx context.Context, input string) (any, error) {
	t.Helper()
	return tool.Execute(ctx, json.RawMessage(input), tools.CallOptions{})
}

func TestWrap_DoesNotMutateOriginal(t *testing.T) {
	var calls int32
	base := searchTool(&calls)
	g, _ := newGuard()

	wrapped := g.Wrap(base, Config{Cache: searchCache()})
	assert.NotSame(t, base, wrapped)
	assert.Equal(t, base.Name, wrapped.Name)

	// Original still executes directly, uncached.
	call(t, base, context.Background(), `{"query":"tokyo"}`)
	call(t, base, context.Background(), `{"query":"tokyo"}`)
	assert.EqualValues(t, 2, calls)
}

func TestCache_Idempotence(t *testing.T) {
	var calls int32
	g, _ := newGuard()
	tool := g.Wrap(searchTool(&calls), Config{Cache: searchCache()})
	ctx := context.Background()

	first, err := call(t, tool, ctx, `{"query":"tokyo","limit":5}`)
	require.NoError(t, err)
	live := first.(searchResult)
	assert.False(t, live.FromCache)

	// Key order does not matter.
	second, err := call(t, tool, ctx, `{"limit":5,"query":"tokyo"}`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)

	hit := second.(map[string]any)
	assert.Equal(t, true, hit["fromCache"])
	assert.Equal(t, "tokyo", hit["query"])
	assert.Equal(t, []any{"a", "b"}, hit["results"])
}

func TestCache_Bypass(t *testing.T) {
	var calls int32
	g, _ := newGuard()
	tool := g.Wrap(searchTool(&calls), Config{Cache: searchCache()})
	ctx := context.Background()

	call(t, tool, ctx, `{"query":"tokyo"}`)
	out, err := call(t, tool, ctx, `{"query":"tokyo","fresh":true}`)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls)
	assert.IsType(t, searchResult{}, out)
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	var calls int32
	g, _ := newGuard()
	tool := g.Wrap(searchTool(&calls), Config{Cache: searchCache()})

	for i := 0; i < 2; i++ {
		_, err := call(t, tool, context.Background(), `{"query":"fail"}`)
		assert.True(t, cerr.IsCode(err, cerr.WebSearchFailed), "wrapper must pass tool errors through")
	}
	assert.EqualValues(t, 2, calls)
}

func TestCache_ContentAwareTTL(t *testing.T) {
	var calls int32
	g, kv := newGuard()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return now })

	cc := searchCache()
	cc.TTL = func(p Params) time.Duration {
		if p["query"] == "weather today" {
			return time.Minute
		}
		return time.Hour
	}
	tool := g.Wrap(searchTool(&calls), Config{Cache: cc})
	ctx := context.Background()

	call(t, tool, ctx, `{"query":"weather today"}`)
	call(t, tool, ctx, `{"query":"museums"}`)
	now = now.Add(2 * time.Minute)
	call(t, tool, ctx, `{"query":"weather today"}`)
	call(t, tool, ctx, `{"query":"museums"}`)

	assert.EqualValues(t, 3, calls)
}

func TestRateLimit_Determinism(t *testing.T) {
	var calls int32
	g, _ := newGuard()
	tool := g.Wrap(searchTool(&calls), Config{
		RateLimit: &RateLimitConfig{Limit: 3, Window: time.Minute, ErrorCode: cerr.WebSearchRateLimited},
	})
	ctx := WithIdentifier(context.Background(), "user-1")

	for i := 0; i < 3; i++ {
		_, err := call(t, tool, ctx, `{"query":"tokyo"}`)
		require.NoError(t, err, "call %d", i+1)
	}
	_, err := call(t, tool, ctx, `{"query":"tokyo"}`)
	require.Error(t, err)
	assert.Equal(t, cerr.WebSearchRateLimited, cerr.CodeOf(err))
	assert.EqualValues(t, 3, calls, "rejected call must not execute")

	// Another identifier has its own bucket.
	_, err = call(t, tool, WithIdentifier(context.Background(), "user-2"), `{"query":"tokyo"}`)
	assert.NoError(t, err)
}

func TestRateLimit_CountsCacheHits(t *testing.T) {
	var calls int32
	g, _ := newGuard()
	tool := g.Wrap(searchTool(&calls), Config{
		Cache:     searchCache(),
		RateLimit: &RateLimitConfig{Limit: 2, Window: time.Minute},
	})
	ctx := context.Background()

	_, err := call(t, tool, ctx, `{"query":"tokyo"}`)
	require.NoError(t, err)
	_, err = call(t, tool, ctx, `{"query":"tokyo"}`)
	require.NoError(t, err)
	_, err = call(t, tool, ctx, `{"query":"tokyo"}`)
	assert.Equal(t, cerr.ToolRateLimited, cerr.CodeOf(err), "cache hits still consume the budget")
	assert.EqualValues(t, 1, calls)
}

func TestTelemetry_RedactsParams(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var calls int32
	g, _ := newGuard()
	tool := g.Wrap(searchTool(&calls), Config{
		Telemetry: &TelemetryConfig{
			Workflow:   "destinationResearch",
			RedactKeys: []string{"query"},
			Attributes: func(p Params) map[string]any { return map[string]any{"has_query": p["query"] != nil} },
		},
	})
	_, err := call(t, tool, context.Background(), `{"query":"my home address"}`)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.webSearch", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "destinationResearch", attrs["tool.workflow"])
	assert.Equal(t, "true", attrs["tool.has_query"])
	assert.NotContains(t, attrs["tool.params"], "home address")
	assert.Contains(t, attrs["tool.params"], "[REDACTED]")
}

func TestApplyOverride(t *testing.T) {
	var calls int32
	g, _ := newGuard()

	cfg, err := ApplyOverride(Config{Cache: searchCache()}, config.ToolOverride{
		RateLimit:  &config.RateLimitOverride{Limit: 1, Window: time.Minute},
		BypassWhen: `params.query == "live scores"`,
	})
	require.NoError(t, err)
	assert.Equal(t, "", cfg.RateLimit.Prefix, "defaults are filled by Wrap")
	tool := g.Wrap(searchTool(&calls), cfg)

	ctx1 := WithIdentifier(context.Background(), "a")
	ctx2 := WithIdentifier(context.Background(), "b")
	ctx3 := WithIdentifier(context.Background(), "c")
	call(t, tool, ctx1, `{"query":"live scores"}`)
	call(t, tool, ctx2, `{"query":"live scores"}`)
	assert.EqualValues(t, 2, calls, "expression bypass skips the cache")

	// Built-in bypass still applies.
	call(t, tool, ctx3, `{"query":"tokyo","fresh":true}`)
	assert.EqualValues(t, 3, calls)

	_, err = call(t, tool, ctx1, `{"query":"tokyo"}`)
	assert.Equal(t, cerr.ToolRateLimited, cerr.CodeOf(err))
}

func TestCompileBypass_Invalid(t *testing.T) {
	_, err := CompileBypass(`params.query +`)
	assert.Error(t, err)

	f, err := CompileBypass(`params.fresh == true`)
	require.NoError(t, err)
	assert.False(t, f(nil))
	assert.True(t, f(Params{"fresh": true}))
}

func TestCanonicalKey(t *testing.T) {
	a := CanonicalKey(Params{"a": 1, "b": map[string]any{"y": 1, "x": 2}})
	b := CanonicalKey(Params{"b": map[string]any{"x": 2, "y": 1}, "a": 1})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, CanonicalKey(Params{"a": 2}))
	assert.Equal(t, CanonicalKey(Params{"q": "x"}), CanonicalKey(Params{"q": "x", "fresh": true}, "fresh"))
}

func TestCoalescer_SharedCallOutlivesCanceledCaller(t *testing.T) {
	var c Coalescer
	var calls int32
	started, release := make(chan struct{}), make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "done", ctx.Err()
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Do(first, "k", fn)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   any
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := c.Do(context.Background(), "k", fn)
		second <- result{v, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "done", got.v)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCoalescer_PanicBecomesError(t *testing.T) {
	var c Coalescer
	_, err := c.Do(context.Background(), "k", func(context.Context) (any, error) {
		panic("boom")
	})
	assert.ErrorContains(t, err, "boom")
}
