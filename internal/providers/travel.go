package providers

import (
	"context"
	"net/url"
	"strings"

	"github.com/tripsage/tripsage-core/internal/cerr"
)

// ── Flights ─────────────────────────────────────────────────

// Flights is a client for a Duffel-style offer search API.
type Flights struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func NewFlights(hc *HTTPClient, baseURL, apiKey string) *Flights {
	return &Flights{http: hc, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type FlightSearchRequest struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departureDate"`
	ReturnDate    string `json:"returnDate,omitempty"`
	Passengers    int    `json:"passengers"`
	CabinClass    string `json:"cabinClass,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

type FlightOffer struct {
	ID          string   `json:"id"`
	Carrier     string   `json:"carrier"`
	TotalAmount float64  `json:"totalAmount"`
	Currency    string   `json:"currency"`
	Stops       int      `json:"stops"`
	Segments    []any    `json:"segments,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type FlightSearchResponse struct {
	Offers   []FlightOffer `json:"offers"`
	Currency string        `json:"currency"`
}

func (f *Flights) Search(ctx context.Context, req FlightSearchRequest) (*FlightSearchResponse, error) {
	if f.apiKey == "" || f.baseURL == "" {
		return nil, cerr.New(cerr.FlightNotConfigured, "flight provider not configured", nil)
	}
	var resp FlightSearchResponse
	err := f.http.DoJSON(ctx, Request{
		Method:        "POST",
		URL:           f.baseURL + "/offers/search",
		Headers:       map[string]string{"Authorization": "Bearer " + f.apiKey},
		Body:          req,
		FailCode:      cerr.FlightSearchFailed,
		RateLimitCode: cerr.FlightSearchRateLimited,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ── Accommodations ──────────────────────────────────────────

// Accommodations is a client for a listings/booking API.
type Accommodations struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func NewAccommodations(hc *HTTPClient, baseURL, apiKey string) *Accommodations {
	return &Accommodations{http: hc, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type AccommodationSearchRequest struct {
	Location     string   `json:"location"`
	CheckIn      string   `json:"checkIn"`
	CheckOut     string   `json:"checkOut"`
	Guests       int      `json:"guests"`
	PriceMax     *float64 `json:"priceMax,omitempty"`
	PropertyType string   `json:"propertyType,omitempty"`
}

type Listing struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Address      string   `json:"address,omitempty"`
	NightlyPrice float64  `json:"nightlyPrice"`
	Currency     string   `json:"currency"`
	Rating       float64  `json:"rating,omitempty"`
	Amenities    []string `json:"amenities,omitempty"`
}

type AccommodationSearchResponse struct {
	Listings []Listing `json:"listings"`
}

type AvailabilityResponse struct {
	ListingID   string  `json:"listingId"`
	Available   bool    `json:"available"`
	TotalAmount float64 `json:"totalAmount"`
	Currency    string  `json:"currency"`
}

type BookingRequest struct {
	ListingID      string  `json:"listingId"`
	CheckIn        string  `json:"checkIn"`
	CheckOut       string  `json:"checkOut"`
	Guests         int     `json:"guests"`
	GuestName      string  `json:"guestName"`
	GuestEmail     string  `json:"guestEmail"`
	TotalAmount    float64 `json:"totalAmount"`
	Currency       string  `json:"currency"`
	IdempotencyKey string  `json:"-"`
}

type BookingConfirmation struct {
	BookingID        string `json:"bookingId"`
	ConfirmationCode string `json:"confirmationCode"`
	Status           string `json:"status"`
}

func (a *Accommodations) configured() error {
	if a.apiKey == "" || a.baseURL == "" {
		return cerr.New(cerr.ProviderNotConfigured, "accommodation provider not configured", nil)
	}
	return nil
}

func (a *Accommodations) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

func (a *Accommodations) Search(ctx context.Context, req AccommodationSearchRequest) (*AccommodationSearchResponse, error) {
	if err := a.configured(); err != nil {
		return nil, err
	}
	var resp AccommodationSearchResponse
	err := a.http.DoJSON(ctx, Request{
		Method:        "POST",
		URL:           a.baseURL + "/listings/search",
		Headers:       a.headers(),
		Body:          req,
		FailCode:      cerr.AccomSearchFailed,
		RateLimitCode: cerr.AccomSearchRateLimited,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *Accommodations) Details(ctx context.Context, listingID string) (*Listing, error) {
	if err := a.configured(); err != nil {
		return nil, err
	}
	var resp Listing
	err := a.http.DoJSON(ctx, Request{
		URL:      a.baseURL + "/listings/" + url.PathEscape(listingID),
		Headers:  a.headers(),
		FailCode: cerr.AccomDetailsFailed,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *Accommodations) Availability(ctx context.Context, listingID, checkIn, checkOut string, guests int) (*AvailabilityResponse, error) {
	if err := a.configured(); err != nil {
		return nil, err
	}
	var resp AvailabilityResponse
	err := a.http.DoJSON(ctx, Request{
		Method:  "POST",
		URL:     a.baseURL + "/listings/" + url.PathEscape(listingID) + "/availability",
		Headers: a.headers(),
		Body: map[string]any{
			"checkIn":  checkIn,
			"checkOut": checkOut,
			"guests":   guests,
		},
		FailCode: cerr.AccomAvailabilityFailed,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Book confirms a reservation. The idempotency key is forwarded so the
// provider never charges twice for a retried call.
func (a *Accommodations) Book(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	if err := a.configured(); err != nil {
		return nil, err
	}
	h := a.headers()
	h["Idempotency-Key"] = req.IdempotencyKey
	var resp BookingConfirmation
	err := a.http.DoJSON(ctx, Request{
		Method:        "POST",
		URL:           a.baseURL + "/bookings",
		Headers:       h,
		Body:          req,
		FailCode:      cerr.AccomBookingFailed,
		RateLimitCode: cerr.AccomBookingRateLimited,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ── Weather ─────────────────────────────────────────────────

// Weather is an OpenWeatherMap-compatible client.
type Weather struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func NewWeather(hc *HTTPClient, baseURL, apiKey string) *Weather {
	return &Weather{http: hc, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type WeatherReport struct {
	Location    string  `json:"location"`
	TempC       float64 `json:"tempC"`
	FeelsLikeC  float64 `json:"feelsLikeC"`
	Humidity    int     `json:"humidity"`
	Description string  `json:"description"`
	WindSpeed   float64 `json:"windSpeed"`
}

func (w *Weather) Current(ctx context.Context, location, units string) (*WeatherReport, error) {
	if w.apiKey == "" {
		return nil, cerr.New(cerr.ProviderNotConfigured, "weather provider not configured", nil)
	}
	if units == "" {
		units = "metric"
	}
	q := url.Values{"q": {location}, "appid": {w.apiKey}, "units": {units}}

	var raw struct {
		Name string `json:"name"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	}
	err := w.http.DoJSON(ctx, Request{
		URL:           w.baseURL + "/weather?" + q.Encode(),
		FailCode:      cerr.WeatherFailed,
		RateLimitCode: cerr.WeatherRateLimited,
	}, &raw)
	if err != nil {
		return nil, err
	}

	r := &WeatherReport{
		Location:   raw.Name,
		TempC:      raw.Main.Temp,
		FeelsLikeC: raw.Main.FeelsLike,
		Humidity:   raw.Main.Humidity,
		WindSpeed:  raw.Wind.Speed,
	}
	if r.Location == "" {
		r.Location = location
	}
	if len(raw.Weather) > 0 {
		r.Description = raw.Weather[0].Description
	}
	return r, nil
}

// ── Maps ────────────────────────────────────────────────────

// Maps is a Google Maps web-services client (geocoding, place search).
type Maps struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func NewMaps(hc *HTTPClient, baseURL, apiKey string) *Maps {
	return &Maps{http: hc, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type Place struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Rating  float64  `json:"rating,omitempty"`
	Types   []string `json:"types,omitempty"`
	PlaceID string   `json:"placeId,omitempty"`
}

type mapsResult struct {
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address"`
	PlaceID          string   `json:"place_id"`
	Rating           float64  `json:"rating"`
	Types            []string `json:"types"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

func (m *Maps) get(ctx context.Context, path string, q url.Values, failCode cerr.Code) ([]Place, error) {
	if m.apiKey == "" {
		return nil, cerr.New(cerr.ProviderNotConfigured, "maps provider not configured", nil)
	}
	q.Set("key", m.apiKey)
	var raw struct {
		Status  string       `json:"status"`
		Results []mapsResult `json:"results"`
	}
	err := m.http.DoJSON(ctx, Request{
		URL:           m.baseURL + path + "?" + q.Encode(),
		FailCode:      failCode,
		RateLimitCode: cerr.MapsRateLimited,
	}, &raw)
	if err != nil {
		return nil, err
	}
	switch raw.Status {
	case "", "OK", "ZERO_RESULTS":
	case "OVER_QUERY_LIMIT":
		return nil, cerr.New(cerr.MapsRateLimited, "maps quota exceeded", nil)
	default:
		return nil, cerr.Newf(failCode, "maps status %s", raw.Status)
	}

	places := make([]Place, 0, len(raw.Results))
	for _, r := range raw.Results {
		places = append(places, Place{
			Name:    r.Name,
			Address: r.FormattedAddress,
			Lat:     r.Geometry.Location.Lat,
			Lng:     r.Geometry.Location.Lng,
			Rating:  r.Rating,
			Types:   r.Types,
			PlaceID: r.PlaceID,
		})
	}
	return places, nil
}

// Geocode resolves an address to coordinates.
func (m *Maps) Geocode(ctx context.Context, address string) ([]Place, error) {
	return m.get(ctx, "/geocode/json", url.Values{"address": {address}}, cerr.MapsFailed)
}

// Places runs a text search for points of interest.
func (m *Maps) Places(ctx context.Context, query string) ([]Place, error) {
	return m.get(ctx, "/place/textsearch/json", url.Values{"query": {query}}, cerr.PoiLookupFailed)
}

// ── Travel advisories ───────────────────────────────────────

// Advisory is a client for a country travel-advisory API.
type Advisory struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func NewAdvisory(hc *HTTPClient, baseURL, apiKey string) *Advisory {
	return &Advisory{http: hc, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type AdvisoryReport struct {
	CountryCode string   `json:"countryCode"`
	Level       int      `json:"level"`
	Summary     string   `json:"summary"`
	Risks       []string `json:"risks,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
	Source      string   `json:"source,omitempty"`
}

func (a *Advisory) Get(ctx context.Context, countryCode string) (*AdvisoryReport, error) {
	if a.baseURL == "" {
		return nil, cerr.New(cerr.ProviderNotConfigured, "advisory provider not configured", nil)
	}
	headers := map[string]string{}
	if a.apiKey != "" {
		headers["Authorization"] = "Bearer " + a.apiKey
	}
	var resp AdvisoryReport
	err := a.http.DoJSON(ctx, Request{
		URL:           a.baseURL + "/advisories/" + url.PathEscape(strings.ToUpper(countryCode)),
		Headers:       headers,
		FailCode:      cerr.AdvisoryFailed,
		RateLimitCode: cerr.AdvisoryRateLimited,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.CountryCode == "" {
		resp.CountryCode = strings.ToUpper(countryCode)
	}
	return &resp, nil
}
