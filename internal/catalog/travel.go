package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/approvals"
	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/guardrails"
	"github.com/tripsage/tripsage-core/internal/providers"
	"github.com/tripsage/tripsage-core/internal/schema"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/internal/tools"
	"github.com/tripsage/tripsage-core/pkg/models"
)

var flightSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"origin": {"type": "string", "pattern": "^[A-Za-z]{3}$"},
		"destination": {"type": "string", "pattern": "^[A-Za-z]{3}$"},
		"departureDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"returnDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"passengers": {"type": "integer", "minimum": 1, "maximum": 9},
		"cabinClass": {"type": "string", "enum": ["economy", "premium_economy", "business", "first"]},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3},
		"fresh": {"type": "boolean"}
	},
	"required": ["origin", "destination", "departureDate"]
}`)

var accommodationSearchSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"location": {"type": "string", "minLength": 1},
		"checkIn": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"checkOut": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"guests": {"type": "integer", "minimum": 1, "maximum": 16},
		"priceMax": {"type": "number", "minimum": 0},
		"propertyType": {"type": "string"},
		"fresh": {"type": "boolean"}
	},
	"required": ["location", "checkIn", "checkOut"]
}`)

var listingSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {"listingId": {"type": "string", "minLength": 1}},
	"required": ["listingId"]
}`)

var availabilitySchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"listingId": {"type": "string", "minLength": 1},
		"checkIn": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"checkOut": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"guests": {"type": "integer", "minimum": 1}
	},
	"required": ["listingId", "checkIn", "checkOut"]
}`)

var bookingSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"listingId": {"type": "string", "minLength": 1},
		"checkIn": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"checkOut": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"guests": {"type": "integer", "minimum": 1},
		"guestName": {"type": "string", "minLength": 1},
		"guestEmail": {"type": "string", "minLength": 3},
		"totalAmount": {"type": "number", "minimum": 0},
		"currency": {"type": "string"},
		"idempotencyKey": {"type": "string"},
		"userId": {"type": "string"},
		"sessionId": {"type": "string"}
	},
	"required": ["listingId", "checkIn", "checkOut", "guestName", "guestEmail"]
}`)

var weatherSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"location": {"type": "string", "minLength": 1},
		"units": {"type": "string", "enum": ["metric", "imperial"]},
		"fresh": {"type": "boolean"}
	},
	"required": ["location"]
}`)

var geocodeSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {"address": {"type": "string", "minLength": 1}},
	"required": ["address"]
}`)

var poiSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"destination": {"type": "string", "minLength": 1},
		"query": {"type": "string"},
		"limit": {"type": "integer", "minimum": 1, "maximum": 20}
	},
	"required": ["destination"]
}`)

var advisorySchema = schema.MustCompile(`{
	"type": "object",
	"properties": {"countryCode": {"type": "string", "pattern": "^[A-Za-z]{2}$"}},
	"required": ["countryCode"]
}`)

type flightInput struct {
	providers.FlightSearchRequest
	Fresh bool `json:"fresh"`
}

type bookingInput struct {
	tools.ScopedInput
	ListingID      string  `json:"listingId"`
	CheckIn        string  `json:"checkIn"`
	CheckOut       string  `json:"checkOut"`
	Guests         int     `json:"guests"`
	GuestName      string  `json:"guestName"`
	GuestEmail     string  `json:"guestEmail"`
	TotalAmount    float64 `json:"totalAmount"`
	Currency       string  `json:"currency"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

func travelTools(d Deps) []entry {
	flights := &tools.Tool{
		Name:        SearchFlights,
		Description: "Search flight offers between two airports (IATA codes) for given dates.",
		InputSchema: flightSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[flightInput](input)
			if err != nil {
				return nil, err
			}
			if d.Flights == nil {
				return nil, cerr.New(cerr.FlightNotConfigured, "flight search is not configured", nil)
			}
			req := in.FlightSearchRequest
			req.Origin = strings.ToUpper(req.Origin)
			req.Destination = strings.ToUpper(req.Destination)
			if req.Passengers == 0 {
				req.Passengers = 1
			}
			if req.Currency == "" {
				req.Currency = "USD"
			}
			started := time.Now()
			resp, err := d.Flights.Search(ctx, req)
			if err != nil {
				return nil, err
			}
			m, err := toMap(resp)
			if err != nil {
				return nil, cerr.New(cerr.FlightSearchFailed, "encode offers", err)
			}
			return stamp(m, started), nil
		},
	}

	accomSearch := &tools.Tool{
		Name:        SearchAccommodations,
		Description: "Search accommodation listings for a location and date range.",
		InputSchema: accommodationSearchSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[providers.AccommodationSearchRequest](input)
			if err != nil {
				return nil, err
			}
			if d.Accommodations == nil {
				return nil, cerr.New(cerr.ProviderNotConfigured, "accommodation search is not configured", nil)
			}
			if in.Guests == 0 {
				in.Guests = 1
			}
			started := time.Now()
			resp, err := d.Accommodations.Search(ctx, in)
			if err != nil {
				return nil, err
			}
			m, err := toMap(resp)
			if err != nil {
				return nil, cerr.New(cerr.AccomSearchFailed, "encode listings", err)
			}
			return stamp(m, started), nil
		},
	}

	details := &tools.Tool{
		Name:        GetAccommodationDetails,
		Description: "Get the details of one accommodation listing.",
		InputSchema: listingSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				ListingID string `json:"listingId"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.Accommodations == nil {
				return nil, cerr.New(cerr.ProviderNotConfigured, "accommodation search is not configured", nil)
			}
			started := time.Now()
			listing, err := d.Accommodations.Details(ctx, in.ListingID)
			if err != nil {
				return nil, err
			}
			m, err := toMap(listing)
			if err != nil {
				return nil, cerr.New(cerr.AccomDetailsFailed, "encode listing", err)
			}
			return stamp(m, started), nil
		},
	}

	availability := &tools.Tool{
		Name:        CheckAvailability,
		Description: "Check whether a listing is available for the dates and get the total price.",
		InputSchema: availabilitySchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				ListingID string `json:"listingId"`
				CheckIn   string `json:"checkIn"`
				CheckOut  string `json:"checkOut"`
				Guests    int    `json:"guests"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.Accommodations == nil {
				return nil, cerr.New(cerr.ProviderNotConfigured, "accommodation search is not configured", nil)
			}
			if in.Guests == 0 {
				in.Guests = 1
			}
			return d.Accommodations.Availability(ctx, in.ListingID, in.CheckIn, in.CheckOut, in.Guests)
		},
	}

	var inflight guardrails.Coalescer
	book := &tools.Tool{
		Name:        BookAccommodation,
		Description: "Book an accommodation listing. Requires user approval; retry with the same idempotencyKey once approved.",
		InputSchema: bookingSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[bookingInput](input)
			if err != nil {
				return nil, err
			}
			return bookAccommodation(ctx, d, &inflight, in)
		},
	}

	weather := &tools.Tool{
		Name:        GetCurrentWeather,
		Description: "Get the current weather for a city.",
		InputSchema: weatherSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				Location string `json:"location"`
				Units    string `json:"units"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.Weather == nil {
				return nil, cerr.New(cerr.ProviderNotConfigured, "weather is not configured", nil)
			}
			started := time.Now()
			report, err := d.Weather.Current(ctx, in.Location, in.Units)
			if err != nil {
				return nil, err
			}
			m, err := toMap(report)
			if err != nil {
				return nil, cerr.New(cerr.WeatherFailed, "encode weather", err)
			}
			return stamp(m, started), nil
		},
	}

	geocode := &tools.Tool{
		Name:        Geocode,
		Description: "Resolve an address or place name to coordinates.",
		InputSchema: geocodeSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				Address string `json:"address"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.Maps == nil {
				return nil, cerr.New(cerr.ProviderNotConfigured, "maps are not configured", nil)
			}
			started := time.Now()
			places, err := d.Maps.Geocode(ctx, in.Address)
			if err != nil {
				return nil, err
			}
			return stamp(map[string]any{"places": places}, started), nil
		},
	}

	poi := &tools.Tool{
		Name:        LookupPoiContext,
		Description: "Find points of interest (sights, restaurants, neighbourhoods) at a destination.",
		InputSchema: poiSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				Destination string `json:"destination"`
				Query       string `json:"query"`
				Limit       int    `json:"limit"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.Maps == nil {
				return nil, cerr.New(cerr.ProviderNotConfigured, "maps are not configured", nil)
			}
			q := "top attractions in " + in.Destination
			if in.Query != "" {
				q = in.Query + " in " + in.Destination
			}
			started := time.Now()
			places, err := d.Maps.Places(ctx, q)
			if err != nil {
				return nil, err
			}
			if in.Limit > 0 && len(places) > in.Limit {
				places = places[:in.Limit]
			}
			return stamp(map[string]any{"destination": in.Destination, "pois": places}, started), nil
		},
	}

	advisory := &tools.Tool{
		Name:        GetTravelAdvisory,
		Description: "Get the current travel advisory level and risks for a country (ISO 3166 alpha-2 code).",
		InputSchema: advisorySchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				CountryCode string `json:"countryCode"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.Advisory == nil {
				return nil, cerr.New(cerr.ProviderNotConfigured, "travel advisories are not configured", nil)
			}
			started := time.Now()
			report, err := d.Advisory.Get(ctx, in.CountryCode)
			if err != nil {
				return nil, err
			}
			m, err := toMap(report)
			if err != nil {
				return nil, cerr.New(cerr.AdvisoryFailed, "encode advisory", err)
			}
			return stamp(m, started), nil
		},
	}

	ignoreFresh := func(p guardrails.Params) string { return guardrails.CanonicalKey(p, "fresh") }
	perMinute := func(limit int, code cerr.Code) *guardrails.RateLimitConfig {
		return &guardrails.RateLimitConfig{Limit: limit, Window: time.Minute, ErrorCode: code}
	}

	return []entry{
		{tool: flights, cfg: guardrails.Config{
			RateLimit: perMinute(8, cerr.FlightSearchRateLimited),
			Cache: &guardrails.CacheConfig{
				Namespace:    "flights",
				Key:          ignoreFresh,
				TTL:          guardrails.TTL(5 * time.Minute),
				ShouldBypass: fresh,
				OnHit:        markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{
				Workflow: string(models.WorkflowFlight),
				Attributes: func(p guardrails.Params) map[string]any {
					return map[string]any{"passengers": p["passengers"], "cabin_class": p["cabinClass"]}
				},
				RedactKeys: []string{"origin", "destination"},
			},
		}},
		{tool: accomSearch, cfg: guardrails.Config{
			RateLimit: perMinute(10, cerr.AccomSearchRateLimited),
			Cache: &guardrails.CacheConfig{
				Namespace:    "accommodations",
				Key:          ignoreFresh,
				TTL:          guardrails.TTL(5 * time.Minute),
				ShouldBypass: fresh,
				OnHit:        markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{
				Workflow:   string(models.WorkflowAccommodation),
				RedactKeys: []string{"location"},
				Attributes: func(p guardrails.Params) map[string]any {
					return map[string]any{"guests": p["guests"]}
				},
			},
		}},
		{tool: details, cfg: guardrails.Config{
			RateLimit: perMinute(30, cerr.AccomSearchRateLimited),
			Cache: &guardrails.CacheConfig{
				Namespace: "accommodation_details",
				TTL:       guardrails.TTL(time.Hour),
				OnHit:     markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{Workflow: string(models.WorkflowAccommodation)},
		}},
		{tool: availability, cfg: guardrails.Config{
			RateLimit: perMinute(20, cerr.AccomSearchRateLimited),
			Telemetry: &guardrails.TelemetryConfig{Workflow: string(models.WorkflowAccommodation)},
		}},
		{tool: book, cfg: guardrails.Config{
			RateLimit: &guardrails.RateLimitConfig{
				Identifier: byUser,
				Limit:      5,
				Window:     time.Minute,
				ErrorCode:  cerr.AccomBookingRateLimited,
			},
			Telemetry: &guardrails.TelemetryConfig{
				Workflow:   string(models.WorkflowAccommodation),
				RedactKeys: []string{"guestName", "guestEmail", "userId"},
			},
		}},
		{tool: weather, cfg: guardrails.Config{
			RateLimit: perMinute(30, cerr.WeatherRateLimited),
			Cache: &guardrails.CacheConfig{
				Namespace:    "weather",
				Key:          ignoreFresh,
				TTL:          guardrails.TTL(10 * time.Minute),
				ShouldBypass: fresh,
				OnHit:        markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{Workflow: "travel"},
		}},
		{tool: geocode, cfg: guardrails.Config{
			RateLimit: perMinute(30, cerr.MapsRateLimited),
			Cache: &guardrails.CacheConfig{
				Namespace: "geocode",
				TTL:       guardrails.TTL(24 * time.Hour),
				OnHit:     markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{Workflow: "travel", RedactKeys: []string{"address"}},
		}},
		{tool: poi, cfg: guardrails.Config{
			RateLimit: perMinute(30, cerr.MapsRateLimited),
			Cache: &guardrails.CacheConfig{
				Namespace: "poi",
				TTL:       guardrails.TTL(6 * time.Hour),
				OnHit:     markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{Workflow: string(models.WorkflowDestination)},
		}},
		{tool: advisory, cfg: guardrails.Config{
			RateLimit: perMinute(30, cerr.AdvisoryRateLimited),
			Cache: &guardrails.CacheConfig{
				Namespace: "advisory",
				Key: func(p guardrails.Params) string {
					c, _ := p["countryCode"].(string)
					return strings.ToUpper(c)
				},
				TTL:   guardrails.TTL(6 * time.Hour),
				OnHit: markHit,
			},
			Telemetry: &guardrails.TelemetryConfig{
				Workflow: string(models.WorkflowDestination),
				Attributes: func(p guardrails.Params) map[string]any {
					return map[string]any{"country": p["countryCode"]}
				},
			},
		}},
	}
}

// bookAccommodation is approval gated and idempotent. Calls sharing an
// idempotency key run one at a time through inflight, and the whole flow
// runs without the caller's cancellation so a confirmed booking is always
// recorded.
func bookAccommodation(ctx context.Context, d Deps, inflight *guardrails.Coalescer, in bookingInput) (any, error) {
	if in.UserID == "" {
		return nil, cerr.New(cerr.AgentUserRequired, "booking requires an authenticated user", nil)
	}
	if d.Accommodations == nil || d.Approvals == nil || d.Bookings == nil {
		return nil, cerr.New(cerr.ProviderNotConfigured, "booking is not configured", nil)
	}
	key := in.IdempotencyKey
	if key == "" {
		key = guardrails.CanonicalKey(guardrails.Params{
			"userId":   in.UserID,
			"listing":  in.ListingID,
			"checkIn":  in.CheckIn,
			"checkOut": in.CheckOut,
			"guests":   in.Guests,
		})
	}
	return inflight.Do(ctx, "booking:"+key, func(ctx context.Context) (any, error) {
		return confirmBooking(ctx, d, key, in)
	})
}

func confirmBooking(ctx context.Context, d Deps, key string, in bookingInput) (any, error) {
	if prior, err := d.Bookings.GetBookingByIdempotencyKey(ctx, key); err == nil {
		return bookingResult(prior, "Booking already confirmed"), nil
	} else if !store.IsNotFound(err) {
		return nil, cerr.New(cerr.AccomBookingFailed, "booking lookup failed", err)
	}

	if err := d.Approvals.Require(ctx, BookAccommodation, approvals.Options{
		IdempotencyKey: key,
		SessionID:      in.SessionID,
	}); err != nil {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}
	guests := in.Guests
	if guests == 0 {
		guests = 1
	}
	conf, err := d.Accommodations.Book(ctx, providers.BookingRequest{
		ListingID:      in.ListingID,
		CheckIn:        in.CheckIn,
		CheckOut:       in.CheckOut,
		Guests:         guests,
		GuestName:      in.GuestName,
		GuestEmail:     in.GuestEmail,
		TotalAmount:    in.TotalAmount,
		Currency:       currency,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}

	b := &models.Booking{
		ID:               uuid.New().String(),
		UserID:           in.UserID,
		SessionID:        in.SessionID,
		IdempotencyKey:   key,
		ListingID:        in.ListingID,
		ConfirmationCode: conf.ConfirmationCode,
		CheckIn:          in.CheckIn,
		CheckOut:         in.CheckOut,
		Guests:           guests,
		TotalAmount:      in.TotalAmount,
		Currency:         currency,
		Status:           conf.Status,
		CreatedAt:        time.Now().UTC(),
	}
	if b.Status == "" {
		b.Status = "confirmed"
	}
	stored, err := d.Bookings.InsertBooking(ctx, b)
	if err != nil {
		// The provider already confirmed; surface the failure with the
		// confirmation so it is not lost.
		return nil, cerr.New(cerr.AccomBookingFailed, "booking confirmed but not recorded", err).
			WithMeta("confirmationCode", conf.ConfirmationCode).
			WithMeta("idempotencyKey", key)
	}
	if stored.ID != b.ID {
		log.Warn().
			Str("booking_id", stored.ID).
			Str("idempotency_key", key).
			Msg("Booking recorded by another instance")
		return bookingResult(stored, "Booking already confirmed"), nil
	}
	log.Info().
		Str("booking_id", b.ID).
		Str("listing_id", b.ListingID).
		Str("user_id", b.UserID).
		Msg("Accommodation booked")
	return bookingResult(b, fmt.Sprintf("Booked %s from %s to %s", b.ListingID, b.CheckIn, b.CheckOut)), nil
}

func bookingResult(b *models.Booking, msg string) map[string]any {
	return map[string]any{
		"success":          true,
		"bookingId":        b.ID,
		"confirmationCode": b.ConfirmationCode,
		"status":           b.Status,
		"idempotencyKey":   b.IdempotencyKey,
		"message":          msg,
	}
}
