//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestRequestID_Generated(t *testing.T) {
	resp := doGet(t, "/livez")
	defer resp.Body.Close()

	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header not present")
	}
}

func TestRequestID_Echoed(t *testing.T) {
	req := newRequest(t, http.MethodGet, "/livez", nil)
	req.Header.Set("X-Request-ID", "custom-request-id-12345")

	resp := do(t, req)
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "custom-request-id-12345" {
		t.Errorf("X-Request-ID: got %q, want %q", got, "custom-request-id-12345")
	}
}

func TestCORS_Preflight(t *testing.T) {
	req := newRequest(t, http.MethodOptions, "/api/promotions", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp := do(t, req)
	defer resp.Body.Close()

	wantStatus(t, resp, http.StatusNoContent)

	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin header not present")
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Error("Access-Control-Allow-Methods header not present")
	}
}

func TestCORS_SimpleRequest(t *testing.T) {
	req := newRequest(t, http.MethodGet, "/api/promotions", nil)
	req.Header.Set("Origin", "http://example.com")

	resp := do(t, req)
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin header not present")
	}
}

func TestRateLimit_Headers(t *testing.T) {
	resp := doGet(t, "/api/promotions")
	defer resp.Body.Close()

	if resp.Header.Get("X-RateLimit-Limit") == "" {
		t.Error("X-RateLimit-Limit header not present")
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "" {
		t.Error("X-RateLimit-Remaining header not present")
	}
}

func TestInternalEndpoint_RequiresToken(t *testing.T) {
	resp := doPost(t, "/api/internal/redeem", map[string]string{})
	defer resp.Body.Close()

	wantStatus(t, resp, http.StatusUnauthorized)
}

func TestAdminEndpoints_RequireToken(t *testing.T) {
	resp := doPost(t, "/api/admin/promotions", map[string]any{})
	defer resp.Body.Close()

	wantStatus(t, resp, http.StatusUnauthorized)

	resp = doPost(t, "/api/admin/coupons", map[string]any{})
	defer resp.Body.Close()

	wantStatus(t, resp, http.StatusUnauthorized)
}
