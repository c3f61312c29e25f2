// Package guardrails decorates tools with rate limiting, caching and
// telemetry.
//
// The decorated tool keeps the external contract of the original: same
// input, same result, same errors, plus a rate-limit error. The layers run
// in a fixed order:
//
//	span start → rate-limit check → cache lookup → (miss) execute →
//	cache store → telemetry record
//
// The rate limit runs before the cache so cache hits still count against
// the caller's budget.
package guardrails

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/ratelimit"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/internal/telemetry"
	"github.com/tripsage/tripsage-core/internal/tools"
)

// ── Configuration ───────────────────────────────────────────

// Params is the decoded tool input handed to configuration strategies.
type Params = map[string]any

// HitMeta describes a cache hit to CacheConfig.OnHit.
type HitMeta struct {
	Key       string
	Namespace string
	// StartedAt is when this invocation began, for recomputing elapsed time.
	StartedAt time.Time
}

// CacheConfig enables result caching. Key and TTL are required.
type CacheConfig struct {
	Namespace string
	// Key must be deterministic over canonicalized params. Defaults to
	// CanonicalKey(params).
	Key func(p Params) string
	// TTL may depend on the params, e.g. shorter for time-sensitive queries.
	TTL func(p Params) time.Duration
	// ShouldBypass skips the cache entirely (read and write).
	ShouldBypass func(p Params) bool
	Serialize    func(result any) ([]byte, error)
	Deserialize  func(data []byte) (any, error)
	// OnHit recomputes freshness-sensitive fields of a cached value.
	OnHit func(cached any, p Params, meta HitMeta) any
}

// RateLimitConfig enables a sliding-window limit keyed by prefix:identifier.
type RateLimitConfig struct {
	// Identifier defaults to the request identifier carried in the context,
	// then to an anonymous bucket.
	Identifier func(ctx context.Context, p Params) string
	Limit      int
	Window     time.Duration
	Prefix     string
	// ErrorCode is returned when the limit is exceeded; defaults to tool_rate_limited.
	ErrorCode cerr.Code
}

// TelemetryConfig names the workflow and the attributes of the tool span.
type TelemetryConfig struct {
	Workflow   string
	Attributes func(p Params) map[string]any
	// RedactKeys are replaced before params reach spans or logs.
	RedactKeys []string
}

// Config is the guardrail configuration attached to one tool. Nil blocks
// disable the corresponding layer.
type Config struct {
	Cache     *CacheConfig
	RateLimit *RateLimitConfig
	Telemetry *TelemetryConfig
}

// TTL returns a constant TTL strategy.
func TTL(d time.Duration) func(Params) time.Duration {
	return func(Params) time.Duration { return d }
}

// ── Request identifier ──────────────────────────────────────

type identifierKey struct{}

// AnonymousIdentifier is the rate-limit bucket for callers without identity.
const AnonymousIdentifier = "anonymous"

// WithIdentifier stores the stable rate-limit identifier (user id or
// hashed IP) for the request.
func WithIdentifier(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identifierKey{}, id)
}

// IdentifierFromContext returns the request identifier or the anonymous bucket.
func IdentifierFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(identifierKey{}).(string); ok && id != "" {
		return id
	}
	return AnonymousIdentifier
}

// ── Guard ───────────────────────────────────────────────────

// Guard owns the shared cache and rate-limit stores all wrapped tools use.
type Guard struct {
	kv      store.KV
	limiter ratelimit.Limiter
	flight  Coalescer
	now     func() time.Time
}

// New creates a Guard. kv and limiter are the designated synchronization
// points between concurrent requests.
func New(kv store.KV, limiter ratelimit.Limiter) *Guard {
	return &Guard{kv: kv, limiter: limiter, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (g *Guard) SetClock(now func() time.Time) { g.now = now }

// Wrap returns a new tool whose Execute runs through the configured
// guardrails. t is not modified.
func (g *Guard) Wrap(t *tools.Tool, cfg Config) *tools.Tool {
	cfg = withDefaults(t.Name, cfg)
	inner := t.Execute
	name := t.Name

	wrapped := t.Clone()
	wrapped.Execute = func(ctx context.Context, input json.RawMessage, opts tools.CallOptions) (any, error) {
		started := g.now()
		params := tools.Params(input)

		var redactKeys []string
		attrs := []attribute.KeyValue{attribute.String("tool.name", name)}
		if tc := cfg.Telemetry; tc != nil {
			redactKeys = tc.RedactKeys
			attrs = append(attrs, attribute.String("tool.workflow", tc.Workflow))
			if tc.Attributes != nil {
				attrs = append(attrs, telemetry.Attributes("tool.", tc.Attributes(params))...)
			}
		}
		attrs = append(attrs, attribute.String("tool.params", telemetry.RedactedJSON(params, redactKeys)))
		if opts.ToolCallID != "" {
			attrs = append(attrs, attribute.String("tool.call_id", opts.ToolCallID))
		}

		ctx, span := telemetry.Tracer().Start(ctx, "tool."+name, trace.WithAttributes(attrs...))
		defer span.End()

		result, cacheHit, err := g.run(ctx, span, name, cfg, inner, input, params, opts, started)

		span.SetAttributes(
			attribute.Bool("tool.cache_hit", cacheHit),
			attribute.Int64("tool.took_ms", g.now().Sub(started).Milliseconds()),
		)
		if err != nil {
			telemetry.RecordError(span, err)
			log.Debug().
				Str("tool", name).
				Str("code", cerr.CodeOf(err).String()).
				Str("params", telemetry.RedactedJSON(params, redactKeys)).
				Err(err).
				Msg("Tool call failed")
			return nil, err
		}
		return result, nil
	}
	return wrapped
}

func (g *Guard) run(
	ctx context.Context,
	span trace.Span,
	name string,
	cfg Config,
	inner tools.ExecuteFunc,
	input json.RawMessage,
	params Params,
	opts tools.CallOptions,
	started time.Time,
) (any, bool, error) {
	// 1. Rate limit, before any expensive work.
	if rl := cfg.RateLimit; rl != nil && g.limiter != nil {
		id := rl.Identifier(ctx, params)
		key := rl.Prefix + ":" + id
		d, err := g.limiter.Allow(ctx, key, rl.Limit, rl.Window)
		if err != nil {
			// Limiter errors fail open.
			log.Warn().Err(err).Str("tool", name).Msg("Rate limiter unavailable, allowing call")
		} else {
			span.SetAttributes(attribute.Int("tool.rate_limit.remaining", d.Remaining))
			if !d.Allowed {
				span.SetAttributes(attribute.Bool("tool.rate_limited", true))
				return nil, false, cerr.Newf(rl.ErrorCode, "rate limit exceeded for %s", name).
					WithMeta("limit", d.Limit).
					WithMeta("reset", d.Reset)
			}
		}
	}

	cc := cfg.Cache
	if cc == nil || g.kv == nil || (cc.ShouldBypass != nil && cc.ShouldBypass(params)) {
		if cc != nil {
			span.SetAttributes(attribute.Bool("tool.cache_bypass", true))
		}
		res, err := inner(ctx, input, opts)
		return res, false, err
	}

	// 2. Cache lookup.
	key := cacheKey(cc, params)
	if data, err := g.kv.Get(ctx, key); err == nil {
		cached, derr := cc.Deserialize(data)
		if derr == nil {
			if cc.OnHit != nil {
				cached = cc.OnHit(cached, params, HitMeta{Key: key, Namespace: cc.Namespace, StartedAt: started})
			}
			return cached, true, nil
		}
		log.Warn().Err(derr).Str("tool", name).Msg("Discarding undecodable cache entry")
	} else if !store.IsNotFound(err) {
		log.Warn().Err(err).Str("tool", name).Msg("Cache read failed, executing tool")
	}

	// 3. Execute on miss; identical concurrent misses share one call.
	v, err := g.flight.Do(ctx, key, func(ctx context.Context) (any, error) {
		res, err := inner(ctx, input, opts)
		if err != nil {
			return nil, err
		}

		// 4. Store. Failures are logged, never returned.
		data, serr := cc.Serialize(res)
		if serr != nil {
			log.Warn().Err(serr).Str("tool", name).Msg("Cache serialize failed")
			return res, nil
		}
		if ttl := cc.TTL(params); ttl > 0 {
			if werr := g.kv.Set(ctx, key, data, ttl); werr != nil {
				log.Warn().Err(werr).Str("tool", name).Msg("Cache write failed")
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Coalescer runs one call per key for all concurrent callers. The shared
// call is detached from any single caller's cancellation; each caller stops
// waiting when its own context ends.
type Coalescer struct {
	group singleflight.Group
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call's result.
func (c *Coalescer) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s: %v", key, r)
			}
		}()
		return fn(shared)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func withDefaults(name string, cfg Config) Config {
	if rl := cfg.RateLimit; rl != nil {
		cp := *rl
		if cp.Identifier == nil {
			cp.Identifier = func(ctx context.Context, _ Params) string { return IdentifierFromContext(ctx) }
		}
		if cp.Prefix == "" {
			cp.Prefix = name
		}
		if cp.ErrorCode == "" {
			cp.ErrorCode = cerr.ToolRateLimited
		}
		cfg.RateLimit = &cp
	}
	if cc := cfg.Cache; cc != nil {
		cp := *cc
		if cp.Namespace == "" {
			cp.Namespace = name
		}
		if cp.Key == nil {
			cp.Key = func(p Params) string { return CanonicalKey(p) }
		}
		if cp.TTL == nil {
			cp.TTL = TTL(5 * time.Minute)
		}
		if cp.Serialize == nil {
			cp.Serialize = json.Marshal
		}
		if cp.Deserialize == nil {
			cp.Deserialize = func(data []byte) (any, error) {
				var v any
				err := json.Unmarshal(data, &v)
				return v, err
			}
		}
		cfg.Cache = &cp
	}
	return cfg
}

func cacheKey(cc *CacheConfig, params Params) string {
	return "cache:" + cc.Namespace + ":" + cc.Key(params)
}

// CanonicalKey hashes params with object keys sorted, ignoring the named
// keys (typically freshness flags). Equivalent calls hash identically.
func CanonicalKey(params Params, ignore ...string) string {
	p := params
	if len(ignore) > 0 && len(params) > 0 {
		p = make(Params, len(params))
		for k, v := range params {
			p[k] = v
		}
		for _, k := range ignore {
			delete(p, k)
		}
	}
	// encoding/json sorts map keys at every level.
	b, err := json.Marshal(p)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", p))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}
