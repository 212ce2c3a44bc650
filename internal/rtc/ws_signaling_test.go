package rtc

import (
	"net/http/httptest"
	"testing"
)

func TestAuthFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?password=secret", nil)
	if !authFromRequest(r, "secret") {
		t.Fatalf("query password rejected")
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer secret")
	if !authFromRequest(r, "secret") {
		t.Fatalf("bearer token rejected")
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("X-Auth-Token", "secret")
	if !authFromRequest(r, "secret") {
		t.Fatalf("x-auth-token rejected")
	}

	r = httptest.NewRequest("GET", "/ws?password=wrong", nil)
	if authFromRequest(r, "secret") {
		t.Fatalf("wrong password accepted")
	}
	if authFromRequest(r, "") {
		t.Fatalf("empty configured password must never authorize")
	}
}
