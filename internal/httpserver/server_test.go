package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/rtc"
)

func newTestServer(cfg config.Config) *Server {
	return New(cfg, Deps{RTC: rtc.NewHandler(rtc.Config{})})
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(config.Config{})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCall_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(config.Config{})
	r := httptest.NewRequest(http.MethodGet, "/call", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestCall_BadJSON(t *testing.T) {
	srv := newTestServer(config.Config{})
	r := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader("not-json"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCall_Unauthorized(t *testing.T) {
	srv := newTestServer(config.Config{AuthPassword: "secret"})

	r := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/call?password=wrong", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCallAuthOK(t *testing.T) {
	if !callAuthOK(nil, "") {
		t.Fatalf("empty expected password must allow")
	}
	r := httptest.NewRequest(http.MethodGet, "/?password=secret", nil)
	if !callAuthOK(r, "secret") {
		t.Fatalf("query password rejected")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Auth-Token", "tok")
	if !callAuthOK(r2, "tok") {
		t.Fatalf("x-auth-token rejected")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("Authorization", "bearer abc")
	if !callAuthOK(r3, "abc") {
		t.Fatalf("lowercase bearer rejected")
	}
	r4 := httptest.NewRequest(http.MethodGet, "/?password=wrong", nil)
	if callAuthOK(r4, "secret") {
		t.Fatalf("wrong password accepted")
	}
}
