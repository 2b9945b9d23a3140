package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// run invokes mw around h for a single request and returns the recorder and
// the error the chain produced.
func run(mw echo.MiddlewareFunc, method, path string, h echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(method, path, nil), rec)
	return rec, mw(h)(c)
}

func slowHandler(c echo.Context) error {
	select {
	case <-time.After(5 * time.Second):
		return c.String(http.StatusOK, "late")
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}
}

func TestRequestTimeout_FastHandlerHasDeadline(t *testing.T) {
	var sawDeadline bool
	rec, err := run(RequestTimeout(time.Second), http.MethodGet, "/api/v1/journey", func(c echo.Context) error {
		_, sawDeadline = c.Request().Context().Deadline()
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawDeadline {
		t.Error("expected the request context to carry a deadline")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_SlowHandlerGets504(t *testing.T) {
	mw := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("request_id", "rid-42")
			return RequestTimeout(30*time.Millisecond)(next)(c)
		}
	}
	rec, err := run(mw, http.MethodPost, "/api/v1/assistant/chat", slowHandler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["request_id"] != "rid-42" {
		t.Errorf("expected request id in body, got %v", body)
	}
}

func TestRequestTimeout_LongLivedPaths(t *testing.T) {
	tests := []struct {
		name      string
		longLived []string
		path      string
	}{
		{"default websocket prefix", nil, "/ws"},
		{"custom prefix", []string{"/stream"}, "/stream/journey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hasDeadline bool
			_, err := run(RequestTimeout(10*time.Millisecond, tt.longLived...), http.MethodGet, tt.path, func(c echo.Context) error {
				_, hasDeadline = c.Request().Context().Deadline()
				return c.NoContent(http.StatusOK)
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if hasDeadline {
				t.Error("long-lived path should not get a deadline")
			}
		})
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	_, err := run(RequestTimeout(time.Second), http.MethodGet, "/api/v1/journey/state", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "advance_test: test kit has no further status")
	})
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", he.Code)
	}
}
