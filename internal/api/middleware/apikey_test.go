package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tripsage/tripsage-core/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	auth := middleware.NewAPIKeyAuth(nil)
	if auth.Enabled() {
		t.Error("Expected auth to be disabled without keys")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/chat", nil)
	w := httptest.NewRecorder()
	auth.Middleware(okHandler()).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Disabled auth: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"test-key-1", " test-key-2 "})
	if !auth.Enabled() {
		t.Fatal("Expected auth to be enabled")
	}
	handler := auth.Middleware(okHandler())

	for name, set := range map[string]func(*http.Request){
		"bearer": func(r *http.Request) { r.Header.Set("Authorization", "Bearer test-key-1") },
		"header": func(r *http.Request) { r.Header.Set("X-API-Key", "test-key-2") },
		"query": func(r *http.Request) {
			q := r.URL.Query()
			q.Set("api_key", "test-key-1")
			r.URL.RawQuery = q.Encode()
		},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/approvals", nil)
		set(req)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", name, w.Code, http.StatusOK)
		}
	}
}

func TestAPIKeyAuth_Rejects(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"secret"})
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/approvals", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Missing key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/approvals", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Wrong key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuth_PublicPaths(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"secret"})
	handler := auth.Middleware(okHandler())

	for _, path := range []string{"/health", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Public path %s: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestAPIKeyAuth_RuntimeKeys(t *testing.T) {
	auth := middleware.NewAPIKeyAuth(nil)
	auth.AddKey("k")
	if !auth.Enabled() {
		t.Fatal("Expected auth to be enabled after AddKey")
	}
	auth.RemoveKey("k")
	if auth.Enabled() {
		t.Error("Expected auth to be disabled after removing the last key")
	}
}

func TestIdentity(t *testing.T) {
	var got middleware.Caller
	handler := middleware.Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middleware.GetCaller(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("X-Session-Id", "s1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got.UserID != "u1" || got.SessionID != "s1" || got.Identifier != "user:u1" {
		t.Errorf("Identity with user: got %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	want := "ip:" + middleware.HashIP("203.0.113.7")
	if got.UserID != "" || got.Identifier != want {
		t.Errorf("Anonymous identity = %+v, want identifier %s", got, want)
	}
}
