package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/router/classify", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(classification{Workflow: "flightSearch", Confidence: 0.9, Reasoning: "flights"})
	})
	mux.HandleFunc("POST /api/v1/approvals/{action}/{key}/grant", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(approval{
			Action:         r.PathValue("action"),
			IdempotencyKey: r.PathValue("key"),
			Status:         "granted",
			ApproverID:     body["approverId"],
		})
	})
	mux.HandleFunc("GET /api/v1/approvals/{action}/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"approval_not_found","message":"approval not found"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	color.NoColor = true
	srv := fakeService(t)
	c := newClient(srv.URL+"/", "k", "u1")
	ctx := context.Background()

	command, err := app.Parse([]string{"classify", "Flights to Lisbon next week"})
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, run(ctx, c, command, &out))
	assert.Contains(t, out.String(), "flightSearch  confidence=0.90")

	command, err = app.Parse([]string{"approvals", "grant", "bookAccommodation", "k-1", "--approver", "ops"})
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, run(ctx, c, command, &out))
	assert.Contains(t, out.String(), "granted")
	assert.Contains(t, out.String(), "bookAccommodation:k-1")
	assert.Contains(t, out.String(), "by=ops")

	command, err = app.Parse([]string{"approvals", "get", "bookAccommodation", "missing"})
	require.NoError(t, err)
	err = run(ctx, c, command, &out)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "approval_not_found", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
