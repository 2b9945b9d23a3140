package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var defaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// histogram keeps non-cumulative bucket counts; the exporter accumulates.
type histogram struct {
	boundaries   []float64
	mu           sync.Mutex
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, bucketCounts: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		out[i] = running
	}
	return out
}

// labelSet is a rendered Prometheus label list such as
// `method="GET",route="/api/v1/journey"`.
type labelSet string

func labels(kv ...string) labelSet {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	return labelSet(strings.Join(parts, ","))
}

// Metrics is the process-wide registry served at /metrics.
type Metrics struct {
	mu        sync.RWMutex
	durations map[labelSet]*histogram
	counters  map[string]map[labelSet]*int64
	active    int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		durations: make(map[labelSet]*histogram),
		counters:  make(map[string]map[labelSet]*int64),
	}
}

const (
	metricTransitions   = "journey_transitions_total"
	metricProviderCalls = "provider_calls_total"
	metricDeliveries    = "notification_deliveries_total"
)

var counterHelp = map[string]string{
	metricTransitions:   "Committed journey transitions by action.",
	metricProviderCalls: "External provider calls by provider, operation and outcome.",
	metricDeliveries:    "Outbound notification deliveries by channel and status.",
}

func (m *Metrics) inc(name string, ls labelSet) {
	m.mu.RLock()
	p, ok := m.counters[name][ls]
	m.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[labelSet]*int64)
	}
	if p, ok = m.counters[name][ls]; !ok {
		var v int64
		p = &v
		m.counters[name][ls] = p
	}
	atomic.AddInt64(p, 1)
}

// Counter returns the current value of a counter; kv are label pairs in the
// order they were recorded.
func (m *Metrics) Counter(name string, kv ...string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.counters[name][labels(kv...)]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

func (m *Metrics) Transition(action string) {
	m.inc(metricTransitions, labels("action", action))
}

// ProviderCall records one commerce or language model call. outcome is "ok",
// "fallback" or "error".
func (m *Metrics) ProviderCall(provider, op, outcome string) {
	m.inc(metricProviderCalls, labels("provider", provider, "operation", op, "outcome", outcome))
}

func (m *Metrics) Delivery(channel, status string) {
	m.inc(metricDeliveries, labels("channel", channel, "status", status))
}

func (m *Metrics) durationFor(ls labelSet) *histogram {
	m.mu.RLock()
	h, ok := m.durations[ls]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[ls]; !ok {
		h = newHistogram(defaultDurationBuckets)
		m.durations[ls] = h
	}
	return h
}

// Middleware records request duration by method, route pattern and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.active, -1)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			ls := labels("method", c.Request().Method, "route", route, "status_code", strconv.Itoa(statusOf(c, err)))
			m.durationFor(ls).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, m.Render())
	}
}

func (m *Metrics) Render() string {
	var b strings.Builder
	m.mu.RLock()
	defer m.mu.RUnlock()

	const dur = "http_server_request_duration_seconds"
	fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n# TYPE %s histogram\n", dur, dur)
	for _, ls := range sortedKeys(m.durations) {
		h := m.durations[ls]
		cum := h.cumulative()
		for i, bound := range h.boundaries {
			fmt.Fprintf(&b, "%s_bucket{%s,le=\"%g\"} %d\n", dur, ls, bound, cum[i])
		}
		fmt.Fprintf(&b, "%s_bucket{%s,le=\"+Inf\"} %d\n", dur, ls, h.Count())
		fmt.Fprintf(&b, "%s_sum{%s} %g\n", dur, ls, h.Sum())
		fmt.Fprintf(&b, "%s_count{%s} %d\n", dur, ls, h.Count())
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "# HELP http_server_active_requests Number of in-flight HTTP requests.\n# TYPE http_server_active_requests gauge\nhttp_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	names := make([]string, 0, len(counterHelp))
	for name := range counterHelp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n", name, counterHelp[name], name)
		series := m.counters[name]
		for _, ls := range sortedKeys(series) {
			fmt.Fprintf(&b, "%s{%s} %d\n", name, ls, atomic.LoadInt64(series[ls]))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func sortedKeys[V any](m map[labelSet]V) []labelSet {
	keys := make([]labelSet, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
