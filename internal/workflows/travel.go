package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/tripsage/tripsage-core/internal/agent"
	"github.com/tripsage/tripsage-core/internal/catalog"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// FlightRequest is the flight search workflow payload.
type FlightRequest struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departureDate"`
	ReturnDate    string `json:"returnDate,omitempty"`
	Passengers    int    `json:"passengers,omitempty"`
	CabinClass    string `json:"cabinClass,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

func (r *FlightRequest) validate() error {
	r.Origin = strings.TrimSpace(r.Origin)
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Origin == "" || r.Destination == "" {
		return badRequest("origin and destination are required")
	}
	if r.DepartureDate == "" {
		return badRequest("departureDate is required")
	}
	if err := dateRange("departureDate", r.DepartureDate, "returnDate", r.ReturnDate); err != nil {
		return err
	}
	if r.Passengers == 0 {
		r.Passengers = 1
	}
	if r.Passengers < 1 || r.Passengers > 9 {
		return badRequest("passengers must be between 1 and 9")
	}
	if r.CabinClass == "" {
		r.CabinClass = "economy"
	}
	if r.Currency == "" {
		r.Currency = "USD"
	}
	return nil
}

// Flight builds the flight search agent. Search tools are offered first;
// the later steps add destination context (advisory, weather).
func (e *Env) Flight(_ context.Context, deps agent.Dependencies, cfg models.AgentConfig, req FlightRequest) (*Built, error) {
	var b strings.Builder
	b.WriteString("You are a flight search specialist. Find and compare flight offers for the traveler.\n")
	fmt.Fprintf(&b, "Route: %s → %s, departing %s", req.Origin, req.Destination, req.DepartureDate)
	if req.ReturnDate != "" {
		fmt.Fprintf(&b, ", returning %s", req.ReturnDate)
	}
	fmt.Fprintf(&b, ".\nPassengers: %d, cabin: %s, currency: %s.\n", req.Passengers, req.CabinClass, req.Currency)
	b.WriteString("Use searchFlights for live offers. Quote prices exactly as returned and never invent offers.")

	return e.assemble(deps, cfg, plan{
		kind:          models.WorkflowFlight,
		instructions:  b.String(),
		schemaMessage: schemaMessage("flight.v2", "offers[] and sources[]"),
		tools: []string{
			catalog.SearchFlights, catalog.Geocode, catalog.WebSearch,
			catalog.GetTravelAdvisory, catalog.GetCurrentWeather,
		},
		phases: []agent.PhaseSpec{
			{Until: 0.6, Tools: []string{catalog.SearchFlights, catalog.Geocode, catalog.WebSearch}},
			{Tools: []string{catalog.SearchFlights, catalog.GetTravelAdvisory, catalog.GetCurrentWeather}},
		},
	})
}

// AccommodationRequest is the stay search workflow payload.
type AccommodationRequest struct {
	Destination  string   `json:"destination"`
	CheckIn      string   `json:"checkIn"`
	CheckOut     string   `json:"checkOut"`
	Guests       int      `json:"guests,omitempty"`
	PriceMax     *float64 `json:"priceMax,omitempty"`
	PropertyType string   `json:"propertyType,omitempty"`
}

func (r *AccommodationRequest) validate() error {
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Destination == "" {
		return badRequest("destination is required")
	}
	if r.CheckIn == "" || r.CheckOut == "" {
		return badRequest("checkIn and checkOut are required")
	}
	if err := dateRange("checkIn", r.CheckIn, "checkOut", r.CheckOut); err != nil {
		return err
	}
	if r.CheckIn == r.CheckOut {
		return badRequest("checkOut must be after checkIn")
	}
	if r.Guests == 0 {
		r.Guests = 1
	}
	if r.Guests < 1 {
		return badRequest("guests must be at least 1")
	}
	if r.PriceMax != nil && *r.PriceMax < 0 {
		return badRequest("priceMax must not be negative")
	}
	return nil
}

// Accommodation builds the stay search and booking agent. Booking goes
// through the approval gate and needs the caller's identity.
func (e *Env) Accommodation(_ context.Context, deps agent.Dependencies, cfg models.AgentConfig, req AccommodationRequest) (*Built, error) {
	var b strings.Builder
	b.WriteString("You are an accommodation specialist. Find stays that fit the request and help the traveler book one.\n")
	fmt.Fprintf(&b, "Destination: %s, %s to %s, %d guest(s).", req.Destination, req.CheckIn, req.CheckOut, req.Guests)
	if req.PriceMax != nil {
		fmt.Fprintf(&b, " Maximum nightly price: %.2f.", *req.PriceMax)
	}
	if req.PropertyType != "" {
		fmt.Fprintf(&b, " Property type: %s.", req.PropertyType)
	}
	b.WriteString("\nCheck availability before proposing a booking. Only call bookAccommodation after the traveler confirmed the listing, dates and price; bookings need their approval.")

	return e.assemble(deps, cfg, plan{
		kind:          models.WorkflowAccommodation,
		instructions:  b.String(),
		schemaMessage: schemaMessage("stay.v1", "listings[] and sources[]"),
		tools: []string{
			catalog.SearchAccommodations, catalog.GetAccommodationDetails, catalog.CheckAvailability,
			catalog.BookAccommodation, catalog.Geocode, catalog.LookupPoiContext,
		},
		scoped: true,
	})
}

// schemaMessage is the default user message pinning the response format.
// Downstream consumers parse the schemaVersion tag.
func schemaMessage(version, fields string) string {
	return fmt.Sprintf(
		"Respond with a single JSON object whose \"schemaVersion\" is %q and which includes %s. Do not wrap it in prose.",
		version, fields,
	)
}
