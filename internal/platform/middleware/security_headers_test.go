package middleware

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders(t *testing.T) {
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	rec, err := run(SecurityHeaders(true), http.MethodGet, "/api/v1/journey", ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for header, want := range apiHeaders {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS when enabled")
	}

	rec, _ = run(SecurityHeaders(false), http.MethodGet, "/api/v1/journey", ok)
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("expected no HSTS in development, got %q", got)
	}
}

func TestSecurityHeaders_SetOnHandlerError(t *testing.T) {
	rec, err := run(SecurityHeaders(false), http.MethodPost, "/api/v1/journey/purchases", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "buy_bundle: test already ORDERED")
	})
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409 HTTPError, got %v", err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected headers on error responses")
	}
}
