package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripsage/tripsage-core/internal/cerr"
)

func fastClient() *HTTPClient {
	return NewHTTPClient(WithRetries(2), WithInitialInterval(time.Millisecond))
}

func TestDoJSON_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	var out map[string]string
	err := fastClient().DoJSON(context.Background(), Request{URL: srv.URL, FailCode: cerr.WeatherFailed}, &out)
	require.NoError(t, err)
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoJSON_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := fastClient().DoJSON(context.Background(), Request{URL: srv.URL, FailCode: cerr.WeatherFailed}, nil)
	require.Error(t, err)
	assert.Equal(t, cerr.WeatherFailed, cerr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	e, ok := cerr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, e.Meta["status"])
}

func TestDoJSON_FinalRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := fastClient().DoJSON(context.Background(), Request{
		URL:           srv.URL,
		FailCode:      cerr.WebSearchFailed,
		RateLimitCode: cerr.WebSearchRateLimited,
	}, nil)
	assert.Equal(t, cerr.WebSearchRateLimited, cerr.CodeOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoJSON_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastClient().DoJSON(ctx, Request{URL: srv.URL, FailCode: cerr.WeatherFailed}, nil)
	assert.Equal(t, cerr.Canceled, cerr.CodeOf(err))
}

func TestWebSearch_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tvly-key", body["api_key"])
		assert.Equal(t, "lisbon food", body["query"])
		assert.Equal(t, float64(5), body["max_results"])
		assert.Equal(t, "basic", body["search_depth"])

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"title": "Eat", "url": "https://x.test", "content": "c", "score": 0.9}},
		})
	}))
	defer srv.Close()

	ws := NewWebSearch(fastClient(), srv.URL, "tvly-key")
	resp, err := ws.Search(context.Background(), SearchRequest{Query: "lisbon food"})
	require.NoError(t, err)
	assert.Equal(t, "lisbon food", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://x.test", resp.Results[0].URL)
}

func TestNotConfigured(t *testing.T) {
	hc := fastClient()
	ctx := context.Background()

	_, err := NewWebSearch(hc, "", "").Search(ctx, SearchRequest{Query: "q"})
	assert.Equal(t, cerr.WebSearchNotConfigured, cerr.CodeOf(err))

	_, err = NewFlights(hc, "https://flights.test", "").Search(ctx, FlightSearchRequest{})
	assert.Equal(t, cerr.FlightNotConfigured, cerr.CodeOf(err))

	_, err = NewAccommodations(hc, "https://stays.test", "").Details(ctx, "l1")
	assert.Equal(t, cerr.ProviderNotConfigured, cerr.CodeOf(err))

	_, err = NewWeather(hc, "https://wx.test", "").Current(ctx, "Lisbon", "")
	assert.Equal(t, cerr.ProviderNotConfigured, cerr.CodeOf(err))

	_, err = NewMaps(hc, "https://maps.test", "").Geocode(ctx, "Lisbon")
	assert.Equal(t, cerr.ProviderNotConfigured, cerr.CodeOf(err))
}

func TestAccommodations_BookForwardsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bookings", r.URL.Path)
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(BookingConfirmation{BookingID: "b1", ConfirmationCode: "ABC", Status: "confirmed"})
	}))
	defer srv.Close()

	a := NewAccommodations(fastClient(), srv.URL, "k")
	conf, err := a.Book(context.Background(), BookingRequest{ListingID: "l1", IdempotencyKey: "idem-1"})
	require.NoError(t, err)
	assert.Equal(t, "ABC", conf.ConfirmationCode)
}

func TestWeather_Current(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Lisbon", r.URL.Query().Get("q"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		w.Write([]byte(`{"name":"Lisbon","main":{"temp":21.5,"feels_like":20,"humidity":60},"weather":[{"description":"clear sky"}],"wind":{"speed":3.2}}`))
	}))
	defer srv.Close()

	r, err := NewWeather(fastClient(), srv.URL, "k").Current(context.Background(), "Lisbon", "")
	require.NoError(t, err)
	assert.Equal(t, 21.5, r.TempC)
	assert.Equal(t, "clear sky", r.Description)
}

func TestMaps_StatusMapping(t *testing.T) {
	status := "OK"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"results": []map[string]any{{
				"name":              "Belem Tower",
				"formatted_address": "Lisbon",
				"geometry":          map[string]any{"location": map[string]any{"lat": 38.69, "lng": -9.21}},
			}},
		})
	}))
	defer srv.Close()

	m := NewMaps(fastClient(), srv.URL, "k")
	places, err := m.Places(context.Background(), "towers in lisbon")
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, 38.69, places[0].Lat)

	status = "OVER_QUERY_LIMIT"
	_, err = m.Geocode(context.Background(), "Lisbon")
	assert.Equal(t, cerr.MapsRateLimited, cerr.CodeOf(err))

	status = "REQUEST_DENIED"
	_, err = m.Places(context.Background(), "x")
	assert.Equal(t, cerr.PoiLookupFailed, cerr.CodeOf(err))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://x.test/weather", redactURL("https://x.test/weather?appid=secret"))
	assert.Equal(t, "https://x.test/a", redactURL("https://x.test/a"))
}
