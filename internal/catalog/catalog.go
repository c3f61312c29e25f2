// Package catalog builds every concrete tool the agents can call, wrapped
// in its guardrails, into one immutable registry.
//
// The registry is built once at startup and shared read-only by all
// requests. Per-request decoration (user-context injection) happens in the
// workflow builders and always produces new descriptors.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/approvals"
	"github.com/tripsage/tripsage-core/internal/config"
	"github.com/tripsage/tripsage-core/internal/guardrails"
	"github.com/tripsage/tripsage-core/internal/memory"
	"github.com/tripsage/tripsage-core/internal/plans"
	"github.com/tripsage/tripsage-core/internal/providers"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/internal/tools"
)

// Tool names. The workflow builders select subsets by these names.
const (
	WebSearch               = "webSearch"
	WebSearchBatch          = "webSearchBatch"
	CrawlURL                = "crawlUrl"
	SearchFlights           = "searchFlights"
	SearchAccommodations    = "searchAccommodations"
	GetAccommodationDetails = "getAccommodationDetails"
	CheckAvailability       = "checkAvailability"
	BookAccommodation       = "bookAccommodation"
	GetCurrentWeather       = "getCurrentWeather"
	Geocode                 = "geocode"
	LookupPoiContext        = "lookupPoiContext"
	GetTravelAdvisory       = "getTravelAdvisory"
	CreateTravelPlan        = "createTravelPlan"
	UpdateTravelPlan        = "updateTravelPlan"
	SaveTravelPlan          = "saveTravelPlan"
	DeleteTravelPlan        = "deleteTravelPlan"
	AddConversationMemory   = "addConversationMemory"
	SearchUserMemories      = "searchUserMemories"
)

// UserScoped lists the tools that act on behalf of the caller and must
// receive the caller's identity.
var UserScoped = []string{
	BookAccommodation,
	CreateTravelPlan,
	UpdateTravelPlan,
	SaveTravelPlan,
	DeleteTravelPlan,
	AddConversationMemory,
	SearchUserMemories,
}

// Deps are the collaborators the tools are built over.
type Deps struct {
	Guard     *guardrails.Guard
	Approvals *approvals.Gate
	Plans     *plans.Service
	Memory    *memory.Service
	Bookings  store.BookingStore

	WebSearch      *providers.WebSearch
	Flights        *providers.Flights
	Accommodations *providers.Accommodations
	Weather        *providers.Weather
	Maps           *providers.Maps
	Advisory       *providers.Advisory

	// Overrides come from the tools section of the configuration file.
	Overrides map[string]config.ToolOverride
}

type entry struct {
	tool *tools.Tool
	cfg  guardrails.Config
}

// Build constructs all tools and returns the registry.
func Build(d Deps) (*tools.Registry, error) {
	if d.Guard == nil {
		return nil, fmt.Errorf("catalog: guard is required")
	}

	// built is filled below; tools that compose other guardrailed tools
	// look them up at call time.
	built := make(map[string]*tools.Tool)

	var entries []entry
	entries = append(entries, searchTools(d, built)...)
	entries = append(entries, travelTools(d)...)
	entries = append(entries, planTools(d)...)
	entries = append(entries, memoryTools(d)...)

	wrapped := make([]*tools.Tool, 0, len(entries))
	for _, e := range entries {
		cfg := e.cfg
		if o, ok := d.Overrides[e.tool.Name]; ok {
			var err error
			cfg, err = guardrails.ApplyOverride(cfg, o)
			if err != nil {
				return nil, fmt.Errorf("catalog: tool %s: %w", e.tool.Name, err)
			}
			log.Info().Str("tool", e.tool.Name).Msg("Applied guardrail override")
		}
		w := d.Guard.Wrap(e.tool, cfg)
		built[w.Name] = w
		wrapped = append(wrapped, w)
	}

	for name := range d.Overrides {
		if !contains(entries, name) {
			log.Warn().Str("tool", name).Msg("Override for unknown tool ignored")
		}
	}

	return tools.NewRegistry(wrapped...)
}

func contains(entries []entry, name string) bool {
	for _, e := range entries {
		if e.tool.Name == name {
			return true
		}
	}
	return false
}

// ── helpers ─────────────────────────────────────────────────

// stamp adds the freshness fields every cached result carries.
func stamp(result map[string]any, started time.Time) map[string]any {
	result["fromCache"] = false
	result["tookMs"] = time.Since(started).Milliseconds()
	return result
}

// markHit recomputes the freshness fields of a cached result.
func markHit(cached any, _ guardrails.Params, meta guardrails.HitMeta) any {
	m, ok := cached.(map[string]any)
	if !ok {
		return cached
	}
	m["fromCache"] = true
	m["tookMs"] = time.Since(meta.StartedAt).Milliseconds()
	return m
}

// toMap converts a provider response into a generic object.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fresh(p guardrails.Params) bool {
	b, _ := p["fresh"].(bool)
	return b
}

func byUser(ctx context.Context, p guardrails.Params) string {
	if id, ok := p["userId"].(string); ok && id != "" {
		return id
	}
	return guardrails.IdentifierFromContext(ctx)
}
