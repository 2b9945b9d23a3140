package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gmtcc/insight/internal/domain/journey"
)

const (
	providerName   = "gemini"
	maxMessageSize = 2000
)

// StateReader is the read side of the journey store.
type StateReader interface {
	State(ctx context.Context) (journey.JourneyState, error)
}

type CallRecorder interface {
	ProviderCall(provider, op, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ProviderCall(string, string, string) {}

type ServiceOption func(*Service)

func WithTimeout(d time.Duration) ServiceOption { return func(s *Service) { s.timeout = d } }

func WithRecorder(r CallRecorder) ServiceOption { return func(s *Service) { s.metrics = r } }

func WithLogger(l zerolog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

func WithTracer(t trace.Tracer) ServiceOption { return func(s *Service) { s.tracer = t } }

// Service answers chat messages and explains lab results. Model failures
// never surface as errors; the caller gets fixed fallback copy instead.
type Service struct {
	provider Provider
	state    StateReader
	timeout  time.Duration
	metrics  CallRecorder
	tracer   trace.Tracer
	logger   zerolog.Logger

	mu     sync.Mutex
	cached map[time.Time]string // insights by LabResults.GeneratedAt
}

func NewService(p Provider, state StateReader, opts ...ServiceOption) *Service {
	s := &Service{
		provider: p,
		state:    state,
		timeout:  5 * time.Second,
		metrics:  noopRecorder{},
		tracer:   otel.Tracer("github.com/gmtcc/insight/assistant"),
		logger:   zerolog.Nop(),
		cached:   make(map[time.Time]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "assistant."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", providerName)))
	defer span.End()

	text, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	return text, err
}

// fallback picks the fixed copy for err and records the outcome.
func (s *Service) fallback(op string, err error, unconfigured, empty, failed string) Reply {
	s.metrics.ProviderCall(providerName, op, "fallback")
	switch {
	case errors.Is(err, ErrNotConfigured):
		return Reply{Text: unconfigured, Fallback: true}
	case errors.Is(err, ErrEmptyResponse):
		return Reply{Text: empty, Fallback: true}
	}
	s.logger.Warn().Err(err).Str("operation", op).Msg("language model call failed")
	return Reply{Text: failed, Fallback: true}
}

// Insights explains the current lab results. It fails with
// journey.ErrNoLabResults until the kit reaches READY.
func (s *Service) Insights(ctx context.Context) (Reply, error) {
	st, err := s.state.State(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("load journey: %w", err)
	}
	if st.LabResults == nil {
		return Reply{}, journey.ErrNoLabResults
	}
	results := *st.LabResults

	s.mu.Lock()
	text, ok := s.cached[results.GeneratedAt]
	s.mu.Unlock()
	if ok {
		return Reply{Text: text}, nil
	}

	text, err = s.call(ctx, "insights", func(ctx context.Context) (string, error) {
		return s.provider.GenerateInsights(ctx, results)
	})
	if err != nil {
		return s.fallback("insights", err, FallbackInsightsUnconfigured, FallbackInsightsEmpty, FallbackInsightsError), nil
	}
	s.metrics.ProviderCall(providerName, "insights", "ok")

	s.mu.Lock()
	// Results are never regenerated, so one entry is enough.
	s.cached = map[time.Time]string{results.GeneratedAt: text}
	s.mu.Unlock()
	return Reply{Text: text}, nil
}

// Chat answers message. Only the last MaxHistory turns of history are sent.
func (s *Service) Chat(ctx context.Context, history []Message, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, fmt.Errorf("%w: message is empty", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(message) > maxMessageSize {
		return Reply{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidMessage, maxMessageSize)
	}
	if err := validateHistory(history); err != nil {
		return Reply{}, err
	}

	text, err := s.call(ctx, "chat", func(ctx context.Context) (string, error) {
		return s.provider.Chat(ctx, Truncate(history), message)
	})
	if err != nil {
		return s.fallback("chat", err, FallbackChatUnconfigured, FallbackChatEmpty, FallbackChatError), nil
	}
	s.metrics.ProviderCall(providerName, "chat", "ok")
	return Reply{Text: text}, nil
}
