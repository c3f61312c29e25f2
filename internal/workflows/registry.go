package workflows

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/agent"
	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/pkg/models"
)

var builders = map[models.WorkflowKind]BuilderFunc{
	models.WorkflowChat:          typed[ChatRequest]((*Env).Chat),
	models.WorkflowFlight:        typed[FlightRequest]((*Env).Flight),
	models.WorkflowAccommodation: typed[AccommodationRequest]((*Env).Accommodation),
	models.WorkflowBudget:        typed[BudgetRequest]((*Env).Budget),
	models.WorkflowDestination:   typed[DestinationRequest]((*Env).Destination),
	models.WorkflowItinerary:     typed[ItineraryRequest]((*Env).Itinerary),
}

var displayNames = map[models.WorkflowKind]string{
	models.WorkflowChat:          "Chat Assistant",
	models.WorkflowFlight:        "Flight Agent",
	models.WorkflowAccommodation: "Accommodation Agent",
	models.WorkflowBudget:        "Budget Agent",
	models.WorkflowDestination:   "Destination Research Agent",
	models.WorkflowItinerary:     "Itinerary Agent",
	models.WorkflowRouter:        "Router",
}

// Workflows that need deeper research get a floor under configured steps.
var minSteps = map[models.WorkflowKind]int{
	models.WorkflowDestination: 15,
}

// IsSupportedKind reports whether kind has a builder.
func IsSupportedKind(kind string) bool {
	_, ok := builders[models.WorkflowKind(kind)]
	return ok
}

// DisplayName returns the human-readable name of kind.
func DisplayName(kind models.WorkflowKind) string {
	if n, ok := displayNames[kind]; ok {
		return n
	}
	return string(kind)
}

// MinSteps returns the lowest step budget allowed for kind.
func MinSteps(kind models.WorkflowKind) int {
	if n, ok := minSteps[kind]; ok {
		return n
	}
	return 1
}

// Registry dispatches workflow kinds to builders over a shared Env.
type Registry struct {
	env *Env
}

// NewRegistry creates a registry.
func NewRegistry(env *Env) *Registry {
	return &Registry{env: env}
}

// CreateAgentForWorkflow builds the agent for kind from a JSON payload.
func (r *Registry) CreateAgentForWorkflow(ctx context.Context, kind models.WorkflowKind, deps agent.Dependencies, cfg models.AgentConfig, input json.RawMessage) (*Built, error) {
	build, ok := builders[kind]
	if !ok {
		return nil, cerr.Newf(cerr.WorkflowUnsupported, "unsupported workflow %q", kind)
	}
	built, err := build(ctx, r.env, deps, cfg, input)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("workflow", string(kind)).
		Str("model", built.ModelID).
		Int("max_steps", built.Agent.MaxSteps()).
		Int("max_tokens", built.Budget.MaxTokens).
		Msg("Agent built")
	return built, nil
}
