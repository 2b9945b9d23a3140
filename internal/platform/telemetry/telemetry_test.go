package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracing_StdoutExporter(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: true, SampleRatio: 1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func newTracedEcho(sr *tracetest.SpanRecorder) *echo.Echo {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := echo.New()
	e.Use(TracingMiddleware(tp.Tracer("test")))
	e.GET("/api/v1/journey", func(c echo.Context) error {
		if c.Get("trace_id") == nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "missing trace id")
		}
		return c.NoContent(http.StatusOK)
	})
	e.POST("/api/v1/journey/reset", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "journey state could not be saved")
	})
	return e
}

func TestTracingMiddleware_RecordsServerSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	e := newTracedEcho(sr)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/journey", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "HTTP GET /api/v1/journey" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("2xx should not mark the span as error")
	}
}

func TestTracingMiddleware_MarksServerErrors(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	e := newTracedEcho(sr)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/journey/reset", nil))

	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Status().Code != codes.Error {
		t.Fatalf("expected one error span, got %d", len(spans))
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.Transition("buy_bundle")
	m.Transition("buy_bundle")
	m.ProviderCall("shopify", "create_cart", "fallback")
	m.Delivery("EMAIL", "sent")

	if got := m.Counter(metricTransitions, "action", "buy_bundle"); got != 2 {
		t.Errorf("transitions = %d", got)
	}
	if got := m.Counter(metricProviderCalls, "provider", "shopify", "operation", "create_cart", "outcome", "fallback"); got != 1 {
		t.Errorf("provider calls = %d", got)
	}
	if got := m.Counter(metricTransitions, "action", "reset"); got != 0 {
		t.Errorf("unrecorded counter = %d", got)
	}

	out := m.Render()
	for _, want := range []string{
		`journey_transitions_total{action="buy_bundle"} 2`,
		`provider_calls_total{provider="shopify",operation="create_cart",outcome="fallback"} 1`,
		`notification_deliveries_total{channel="EMAIL",status="sent"} 1`,
		"# TYPE http_server_active_requests gauge",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q", want)
		}
	}
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := NewMetrics()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/journey/state", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", m.Handler())

	for i := 0; i < 3; i++ {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/journey/state", nil))
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `http_server_request_duration_seconds_count{method="GET",route="/api/v1/journey/state",status_code="200"} 3`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("metrics output missing %q:\n%s", want, rec.Body.String())
	}
}

func TestHistogram_Buckets(t *testing.T) {
	h := newHistogram([]float64{1, 5})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(10)

	cum := h.cumulative()
	if cum[0] != 1 || cum[1] != 2 {
		t.Errorf("cumulative = %v", cum)
	}
	if h.Count() != 3 || h.Sum() != 13.5 {
		t.Errorf("count=%d sum=%g", h.Count(), h.Sum())
	}
}
