package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	handler := AuthMiddleware("s3cret-token", logging.Discard())(okHandler())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic s3cret-token", want: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer s3cret-token", want: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/runs", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status code = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestAuthMiddleware_EmptyTokenDisablesAuth(t *testing.T) {
	handler := AuthMiddleware("", logging.Discard())(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRouter_HealthSkipsAuth(t *testing.T) {
	cfg := testConfig(t, &fakeComposer{dir: t.TempDir()})
	cfg.AuthToken = "s3cret-token"
	router := NewRouter(cfg)

	if rr := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil)); rr.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", rr.Code)
	}
	rr := serve(router, httptest.NewRequest(http.MethodGet, "/presets", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("/presets status = %d, want 401", rr.Code)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "UNAUTHORIZED" {
		t.Fatalf("code = %v, want UNAUTHORIZED", code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 8 {
		t.Fatalf("generated request id = %q, want 8 chars", seen)
	}
	if rr.Header().Get("X-Request-ID") != seen {
		t.Fatalf("header = %q, context = %q", rr.Header().Get("X-Request-ID"), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-42")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "upstream-42" || rr.Header().Get("X-Request-ID") != "upstream-42" {
		t.Fatalf("caller request id not kept: %q", seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "INTERNAL_ERROR" {
		t.Fatalf("code = %v", code)
	}
}

func TestLoggingMiddleware_KeepsStatus(t *testing.T) {
	handler := LoggingMiddleware(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusTeapot, "short and stout", "TEAPOT")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusTeapot)
	}
}
