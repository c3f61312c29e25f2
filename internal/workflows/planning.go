package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/tripsage/tripsage-core/internal/agent"
	"github.com/tripsage/tripsage-core/internal/catalog"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// BudgetRequest is the budget planning workflow payload.
type BudgetRequest struct {
	Destination  string   `json:"destination"`
	DurationDays int      `json:"durationDays"`
	Travelers    int      `json:"travelers,omitempty"`
	Budget       *float64 `json:"budget,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Preferences  []string `json:"preferences,omitempty"`
}

func (r *BudgetRequest) validate() error {
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Destination == "" {
		return badRequest("destination is required")
	}
	if r.DurationDays < 1 {
		return badRequest("durationDays must be at least 1")
	}
	if r.Travelers == 0 {
		r.Travelers = 1
	}
	if r.Travelers < 1 {
		return badRequest("travelers must be at least 1")
	}
	if r.Budget != nil && *r.Budget < 0 {
		return badRequest("budget must not be negative")
	}
	if r.Currency == "" {
		r.Currency = "USD"
	}
	return nil
}

// Budget builds the budget planning agent: price research first, then
// concrete flight and stay quotes.
func (e *Env) Budget(_ context.Context, deps agent.Dependencies, cfg models.AgentConfig, req BudgetRequest) (*Built, error) {
	var b strings.Builder
	b.WriteString("You are a travel budget planner. Estimate a realistic trip budget split into categories.\n")
	fmt.Fprintf(&b, "Destination: %s, %d day(s), %d traveler(s), currency %s.", req.Destination, req.DurationDays, req.Travelers, req.Currency)
	if req.Budget != nil {
		fmt.Fprintf(&b, " Target total: %.2f %s.", *req.Budget, req.Currency)
	}
	if len(req.Preferences) > 0 {
		fmt.Fprintf(&b, " Preferences: %s.", strings.Join(req.Preferences, ", "))
	}
	b.WriteString("\nBase every allocation on researched prices and cite the source of each figure.")

	return e.assemble(deps, cfg, plan{
		kind:          models.WorkflowBudget,
		instructions:  b.String(),
		schemaMessage: schemaMessage("budget.v1", "allocations[] and sources[]"),
		tools: []string{
			catalog.WebSearch, catalog.WebSearchBatch, catalog.LookupPoiContext,
			catalog.SearchFlights, catalog.SearchAccommodations,
		},
		phases: []agent.PhaseSpec{
			{Until: 0.5, Tools: []string{catalog.WebSearch, catalog.WebSearchBatch, catalog.LookupPoiContext}},
			{Tools: []string{catalog.SearchFlights, catalog.SearchAccommodations, catalog.WebSearch}},
		},
	})
}

// DestinationRequest is the destination research workflow payload.
type DestinationRequest struct {
	Destination string   `json:"destination"`
	TravelDates string   `json:"travelDates,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	Questions   []string `json:"questions,omitempty"`
}

func (r *DestinationRequest) validate() error {
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Destination == "" {
		return badRequest("destination is required")
	}
	return nil
}

// Destination builds the destination research agent. It needs deep
// research, so its step floor is the highest of all workflows.
func (e *Env) Destination(_ context.Context, deps agent.Dependencies, cfg models.AgentConfig, req DestinationRequest) (*Built, error) {
	var b strings.Builder
	b.WriteString("You are a destination researcher. Build a well-sourced overview of the destination: highlights, neighborhoods, seasonality, safety and practical tips.\n")
	fmt.Fprintf(&b, "Destination: %s.", req.Destination)
	if req.TravelDates != "" {
		fmt.Fprintf(&b, " Travel dates: %s.", req.TravelDates)
	}
	if len(req.Interests) > 0 {
		fmt.Fprintf(&b, " Interests: %s.", strings.Join(req.Interests, ", "))
	}
	for _, q := range req.Questions {
		fmt.Fprintf(&b, "\nAnswer: %s", q)
	}
	b.WriteString("\nPrefer webSearchBatch for several related queries and always check the travel advisory.")

	return e.assemble(deps, cfg, plan{
		kind:          models.WorkflowDestination,
		instructions:  b.String(),
		schemaMessage: schemaMessage("dest.v1", "sections[] and sources[]"),
		tools: []string{
			catalog.WebSearch, catalog.WebSearchBatch, catalog.CrawlURL, catalog.GetCurrentWeather,
			catalog.GetTravelAdvisory, catalog.LookupPoiContext, catalog.Geocode,
		},
	})
}

// ItineraryRequest is the itinerary planning workflow payload.
type ItineraryRequest struct {
	Destination  string   `json:"destination"`
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
	DurationDays int      `json:"durationDays,omitempty"`
	Travelers    int      `json:"travelers,omitempty"`
	Interests    []string `json:"interests,omitempty"`
	Budget       *float64 `json:"budget,omitempty"`
}

func (r *ItineraryRequest) validate() error {
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Destination == "" {
		return badRequest("destination is required")
	}
	if err := dateRange("startDate", r.StartDate, "endDate", r.EndDate); err != nil {
		return err
	}
	if r.DurationDays < 0 {
		return badRequest("durationDays must not be negative")
	}
	if r.Travelers == 0 {
		r.Travelers = 1
	}
	if r.Travelers < 1 {
		return badRequest("travelers must be at least 1")
	}
	if r.Budget != nil && *r.Budget < 0 {
		return badRequest("budget must not be negative")
	}
	return nil
}

// Itinerary tool phases: research for the first 40% of steps, plan creation
// until 73%, saving for the rest.
var itineraryPhases = []agent.PhaseSpec{
	{Until: 0.4, Tools: []string{catalog.WebSearch, catalog.WebSearchBatch, catalog.LookupPoiContext}},
	{Until: 0.73, Tools: []string{catalog.CreateTravelPlan, catalog.LookupPoiContext}},
	{Tools: []string{catalog.SaveTravelPlan, catalog.CreateTravelPlan}},
}

// Itinerary builds the day-by-day itinerary agent. Plan tools receive the
// caller's identity.
func (e *Env) Itinerary(_ context.Context, deps agent.Dependencies, cfg models.AgentConfig, req ItineraryRequest) (*Built, error) {
	var b strings.Builder
	b.WriteString("You are an itinerary planner. Research the destination, draft a day-by-day plan, then create and save it as a travel plan.\n")
	fmt.Fprintf(&b, "Destination: %s, %d traveler(s).", req.Destination, req.Travelers)
	switch {
	case req.StartDate != "" && req.EndDate != "":
		fmt.Fprintf(&b, " Dates: %s to %s.", req.StartDate, req.EndDate)
	case req.DurationDays > 0:
		fmt.Fprintf(&b, " Duration: %d day(s).", req.DurationDays)
	}
	if len(req.Interests) > 0 {
		fmt.Fprintf(&b, " Interests: %s.", strings.Join(req.Interests, ", "))
	}
	if req.Budget != nil {
		fmt.Fprintf(&b, " Budget: %.2f.", *req.Budget)
	}

	return e.assemble(deps, cfg, plan{
		kind:          models.WorkflowItinerary,
		instructions:  b.String(),
		schemaMessage: schemaMessage("itin.v1", "days[] and sources[]"),
		tools: []string{
			catalog.WebSearch, catalog.WebSearchBatch, catalog.LookupPoiContext,
			catalog.CreateTravelPlan, catalog.SaveTravelPlan,
		},
		phases: itineraryPhases,
		scoped: true,
	})
}
