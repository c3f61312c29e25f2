package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/guardrails"
	"github.com/tripsage/tripsage-core/internal/providers"
	"github.com/tripsage/tripsage-core/internal/schema"
	"github.com/tripsage/tripsage-core/internal/tools"
)

// batchWorkers caps the fan-out of webSearchBatch.
const batchWorkers = 5

const maxBatchQueries = 10

var webSearchSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1, "maxLength": 400},
		"maxResults": {"type": "integer", "minimum": 1, "maximum": 20},
		"searchDepth": {"type": "string", "enum": ["basic", "advanced"]},
		"topic": {"type": "string", "enum": ["general", "news"]},
		"includeDomains": {"type": "array", "items": {"type": "string"}},
		"fresh": {"type": "boolean"}
	},
	"required": ["query"]
}`)

var webSearchBatchSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"queries": {
			"type": "array",
			"items": {"type": "string", "minLength": 1},
			"minItems": 1,
			"maxItems": 10
		},
		"maxResults": {"type": "integer", "minimum": 1, "maximum": 20},
		"fresh": {"type": "boolean"}
	},
	"required": ["queries"]
}`)

var crawlSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"urls": {"type": "array", "items": {"type": "string"}, "minItems": 1, "maxItems": 5},
		"fresh": {"type": "boolean"}
	},
	"required": ["urls"]
}`)

type webSearchInput struct {
	Query          string   `json:"query"`
	MaxResults     int      `json:"maxResults,omitempty"`
	SearchDepth    string   `json:"searchDepth,omitempty"`
	Topic          string   `json:"topic,omitempty"`
	IncludeDomains []string `json:"includeDomains,omitempty"`
	Fresh          bool     `json:"fresh,omitempty"`
}

type batchInput struct {
	Queries    []string `json:"queries"`
	MaxResults int      `json:"maxResults"`
	Fresh      bool     `json:"fresh"`
}

type batchItem struct {
	index  int
	Query  string `json:"query"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func searchTools(d Deps, built map[string]*tools.Tool) []entry {
	search := &tools.Tool{
		Name:        WebSearch,
		Description: "Search the web for up-to-date travel information. Returns titles, URLs and snippets.",
		InputSchema: webSearchSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[webSearchInput](input)
			if err != nil {
				return nil, err
			}
			if d.WebSearch == nil {
				return nil, cerr.New(cerr.WebSearchNotConfigured, "web search is not configured", nil)
			}
			started := time.Now()
			resp, err := d.WebSearch.Search(ctx, providers.SearchRequest{
				Query:          in.Query,
				MaxResults:     in.MaxResults,
				SearchDepth:    in.SearchDepth,
				Topic:          in.Topic,
				IncludeDomains: in.IncludeDomains,
			})
			if err != nil {
				return nil, err
			}
			m, err := toMap(resp)
			if err != nil {
				return nil, cerr.New(cerr.WebSearchFailed, "encode search result", err)
			}
			return stamp(m, started), nil
		},
	}

	batch := &tools.Tool{
		Name:        WebSearchBatch,
		Description: "Run several web searches at once. Each query is searched independently; failures are reported per query.",
		InputSchema: webSearchBatchSchema,
		Execute: func(ctx context.Context, input json.RawMessage, opts tools.CallOptions) (any, error) {
			in, err := tools.Decode[batchInput](input)
			if err != nil {
				return nil, err
			}
			if len(in.Queries) > maxBatchQueries {
				in.Queries = in.Queries[:maxBatchQueries]
			}
			single := built[WebSearch]
			if single == nil {
				return nil, cerr.New(cerr.ToolNotFound, "webSearch is not available", nil)
			}
			started := time.Now()
			items := runBatch(ctx, single, in, opts)
			return map[string]any{
				"results": items,
				"tookMs":  time.Since(started).Milliseconds(),
			}, nil
		},
	}

	crawl := &tools.Tool{
		Name:        CrawlURL,
		Description: "Fetch and extract the readable content of up to five web pages.",
		InputSchema: crawlSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				URLs []string `json:"urls"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.WebSearch == nil {
				return nil, cerr.New(cerr.WebSearchNotConfigured, "web crawl is not configured", nil)
			}
			for _, u := range in.URLs {
				if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
					return nil, cerr.Newf(cerr.ToolInvalidInput, "unsupported url %q", u)
				}
			}
			started := time.Now()
			pages, err := d.WebSearch.Crawl(ctx, in.URLs)
			if err != nil {
				return nil, err
			}
			return stamp(map[string]any{"pages": pages}, started), nil
		},
	}

	ignoreFresh := func(p guardrails.Params) string { return guardrails.CanonicalKey(p, "fresh") }

	return []entry{
		{tool: search, cfg: guardrails.Config{
			RateLimit: &guardrails.RateLimitConfig{
				Limit:     20,
				Window:    time.Minute,
				ErrorCode: cerr.WebSearchRateLimited,
			},
			Cache: &guardrails.CacheConfig{
				Namespace:    "web_search",
				Key:          ignoreFresh,
				TTL:          searchTTL,
				ShouldBypass: fresh,
				OnHit:        markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{
				Workflow:   "research",
				RedactKeys: []string{"query"},
				Attributes: func(p guardrails.Params) map[string]any {
					return map[string]any{"topic": p["topic"], "max_results": p["maxResults"]}
				},
			},
		}},
		// Each query goes through the guarded webSearch, so the batch itself
		// is only telemetered.
		{tool: batch, cfg: guardrails.Config{
			Telemetry: &guardrails.TelemetryConfig{
				Workflow:   "research",
				RedactKeys: []string{"queries"},
				Attributes: func(p guardrails.Params) map[string]any {
					qs, _ := p["queries"].([]any)
					return map[string]any{"query_count": len(qs)}
				},
			},
		}},
		{tool: crawl, cfg: guardrails.Config{
			RateLimit: &guardrails.RateLimitConfig{
				Limit:     10,
				Window:    time.Minute,
				ErrorCode: cerr.WebCrawlRateLimited,
			},
			Cache: &guardrails.CacheConfig{
				Namespace:    "web_crawl",
				Key:          ignoreFresh,
				TTL:          guardrails.TTL(time.Hour),
				ShouldBypass: fresh,
				OnHit:        markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{Workflow: "research"},
		}},
	}
}

// searchTTL is shorter for time-sensitive queries.
func searchTTL(p guardrails.Params) time.Duration {
	q, _ := p["query"].(string)
	q = strings.ToLower(q)
	if topic, _ := p["topic"].(string); topic == "news" {
		return 10 * time.Minute
	}
	for _, w := range []string{"today", "now", "current", "latest", "breaking", "tonight"} {
		if strings.Contains(q, w) {
			return 10 * time.Minute
		}
	}
	return time.Hour
}

func runBatch(ctx context.Context, single *tools.Tool, in batchInput, opts tools.CallOptions) []batchItem {
	p := pool.NewWithResults[batchItem]().WithMaxGoroutines(batchWorkers)
	for i, q := range in.Queries {
		p.Go(func() batchItem {
			item := batchItem{index: i, Query: q}
			args, _ := json.Marshal(webSearchInput{Query: q, MaxResults: in.MaxResults, Fresh: in.Fresh})
			if err := single.ValidateInput(args); err != nil {
				item.setError(err)
				return item
			}
			res, err := single.Execute(ctx, args, opts)
			if err != nil {
				item.setError(err)
				return item
			}
			item.OK = true
			item.Result = res
			return item
		})
	}
	items := p.Wait()

	ordered := make([]batchItem, len(items))
	for _, it := range items {
		ordered[it.index] = it
	}
	return ordered
}

func (b *batchItem) setError(err error) {
	b.Error = &struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: cerr.CodeOf(err).String(), Message: err.Error()}
}
