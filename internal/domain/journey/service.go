package journey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gmtcc/insight/internal/platform/notification"
)

const (
	// DefaultSpecialist is named in consultation confirmations.
	DefaultSpecialist = "Dr. Chen"
	// TrackingReference is quoted in the probiotics shipping notice.
	TrackingReference = "HK-99212"
)

// Event is published to subscribers after every committed mutation. Seq
// increases by one per commit, and events are delivered in Seq order.
type Event struct {
	Seq           uint64                      `json:"seq"`
	Action        Action                      `json:"action"`
	State         JourneyState                `json:"state"`
	Notifications []notification.Notification `json:"notifications"`
	At            time.Time                   `json:"at"`
}

// Option configures a Store.
type Option func(*Store)

func WithPolicy(p Policy) Option { return func(s *Store) { s.policy = p } }

func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(s *Store) { s.tracer = t } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }

// WithLocation sets the zone used to format appointment times in
// notification copy.
func WithLocation(loc *time.Location) Option { return func(s *Store) { s.loc = loc } }

func WithSpecialist(name string) Option { return func(s *Store) { s.specialist = name } }

func WithTemplates(t *notification.TemplateEngine) Option {
	return func(s *Store) { s.templates = t }
}

// Store owns the journey aggregate. Every mutation is applied to a copy,
// persisted, and only then swapped in; a failed save leaves the previous
// state in place.
type Store struct {
	repo       Repository
	policy     Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
	loc        *time.Location
	specialist string
	templates  *notification.TemplateEngine

	mu     sync.Mutex
	state  JourneyState
	loaded bool
	seq    uint64

	// pubMu is taken before mu is released so events reach subscribers in
	// commit order.
	pubMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		policy:     PolicyStrict,
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer("github.com/gmtcc/insight/journey"),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		loc:        time.UTC,
		specialist: DefaultSpecialist,
		subs:       make(map[int]func(Event)),
	}
	for _, o := range opts {
		o(s)
	}
	if s.templates == nil {
		s.templates = notification.NewTemplateEngine()
	}
	return s
}

// Policy reports the transition policy the store enforces.
func (s *Store) Policy() Policy { return s.policy }

// Subscribe registers fn for change events and returns a function that
// removes it. Subscribers run on the mutating goroutine after the state lock
// is released, one event at a time in commit order. They may read State but
// must not block or call mutating operations.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(e Event) {
	s.subMu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// State returns a copy of the current state, loading it on first access.
func (s *Store) State(ctx context.Context) (JourneyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return JourneyState{}, err
	}
	return s.state.Clone(), nil
}

// ensureLoaded must be called with mu held.
func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	st, err := s.repo.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		st = DefaultState()
	case err != nil:
		return fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}
	s.state = st
	s.loaded = true
	return nil
}

// mutation applies an operation to next (a private copy) and returns the
// notifications it emits, in emission order.
type mutation func(next *JourneyState) ([]notification.Notification, error)

func (s *Store) mutate(ctx context.Context, action Action, fn mutation) (JourneyState, error) {
	ctx, span := s.tracer.Start(ctx, "journey."+string(action),
		trace.WithAttributes(attribute.String("journey.policy", string(s.policy))))
	defer span.End()

	s.mu.Lock()
	if err := s.ensureLoaded(ctx); err != nil {
		s.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return JourneyState{}, err
	}

	next := s.state.Clone()
	emitted, err := fn(&next)
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug().Err(err).Str("action", string(action)).Msg("journey transition rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected")
		return JourneyState{}, err
	}
	next.Notifications = next.Notifications.Prepend(emitted...)

	if err := s.repo.Save(ctx, next); err != nil {
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("action", string(action)).Msg("journey state save failed, change rolled back")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return JourneyState{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.state = next
	snapshot := next.Clone()
	ev := s.commitEvent(action, snapshot, emitted)
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()

	s.logger.Info().
		Str("action", string(action)).
		Str("test_status", string(snapshot.TestStatus)).
		Str("consultation_status", string(snapshot.ConsultationStatus)).
		Str("brt_status", string(snapshot.BrtStatus)).
		Str("probiotics_status", string(snapshot.ProbioticsStatus)).
		Int("notifications", len(emitted)).
		Msg("journey transition committed")
	span.SetAttributes(attribute.Int("journey.notifications", len(emitted)))

	s.publish(ev)
	return snapshot, nil
}

// commitEvent numbers a committed change. Must be called with mu held.
func (s *Store) commitEvent(action Action, snapshot JourneyState, emitted []notification.Notification) Event {
	s.seq++
	return Event{Seq: s.seq, Action: action, State: snapshot.Clone(), Notifications: emitted, At: s.now().UTC()}
}

func (s *Store) render(templateID string, data map[string]string) (notification.Notification, error) {
	ch, title, body, err := s.templates.Render(templateID, data)
	if err != nil {
		return notification.Notification{}, fmt.Errorf("render notification: %w", err)
	}
	return notification.Notification{
		ID:        s.newID(),
		Channel:   ch,
		Title:     title,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}, nil
}

func (s *Store) renderAll(ids ...string) ([]notification.Notification, error) {
	out := make([]notification.Notification, 0, len(ids))
	for _, id := range ids {
		n, err := s.render(id, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// BuyItem records a storefront purchase.
func (s *Store) BuyItem(ctx context.Context, opt PurchaseOption) (JourneyState, error) {
	if !opt.IsValid() {
		return JourneyState{}, fmt.Errorf("%w: purchase option %q", ErrUnknownStatus, opt)
	}
	action := buyAction(opt)
	return s.mutate(ctx, action, func(next *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(Check(*next, action)); err != nil {
			return nil, err
		}
		next.PurchaseHistory = append(next.PurchaseHistory, opt)

		switch opt {
		case OptionTestOnly:
			next.TestStatus = TestOrdered
			next.ConsultationStatus = ConsultationNone
			next.BrtStatus = BrtNone
			return s.renderAll("order-confirmed-test-only", "questionnaire-required-test-only")
		case OptionBundle:
			next.TestStatus = TestOrdered
			next.ConsultationStatus = ConsultationPurchased
			next.BrtStatus = BrtOptional
			return s.renderAll("order-confirmed-bundle", "questionnaire-required-bundle")
		default:
			next.ConsultationStatus = ConsultationPurchased
			next.BrtStatus = BrtOptional
			return s.renderAll("upgrade-confirmed")
		}
	})
}

var testStatusNotices = map[TestStatus]string{
	TestReceived:   "kit-delivered",
	TestMailed:     "sample-mailed",
	TestProcessing: "lab-received",
	TestReady:      "results-ready",
}

// AdvanceTestStatus moves the kit to next. Entering READY attaches the lab
// results unless they already exist.
func (s *Store) AdvanceTestStatus(ctx context.Context, next TestStatus) (JourneyState, error) {
	if !next.IsValid() {
		return JourneyState{}, fmt.Errorf("%w: test status %q", ErrUnknownStatus, next)
	}
	return s.mutate(ctx, ActionAdvanceTest, func(st *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(CheckAdvance(*st, next)); err != nil {
			return nil, err
		}
		st.TestStatus = next
		if next == TestReady && st.LabResults == nil {
			st.LabResults = FixtureResults(s.now().UTC())
		}
		if id, ok := testStatusNotices[next]; ok {
			return s.renderAll(id)
		}
		return nil, nil
	})
}

// ScheduleConsultation books (or rebooks) the consultation.
func (s *Store) ScheduleConsultation(ctx context.Context, at time.Time) (JourneyState, error) {
	return s.mutate(ctx, ActionScheduleConsultation, func(st *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(Check(*st, ActionScheduleConsultation)); err != nil {
			return nil, err
		}
		at := at.UTC()
		st.ConsultationStatus = ConsultationScheduled
		st.ConsultationDate = &at

		local := at.In(s.loc)
		n, err := s.render("consultation-confirmed", map[string]string{
			"specialist": s.specialist,
			"date":       local.Format("2006-01-02"),
			"time":       local.Format("15:04"),
		})
		if err != nil {
			return nil, err
		}
		return []notification.Notification{n}, nil
	})
}

// ScheduleBrt books the bio-resonance session. Booking after a skip is
// allowed; the latest call wins.
func (s *Store) ScheduleBrt(ctx context.Context, at time.Time) (JourneyState, error) {
	return s.mutate(ctx, ActionScheduleBrt, func(st *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(Check(*st, ActionScheduleBrt)); err != nil {
			return nil, err
		}
		at := at.UTC()
		st.BrtStatus = BrtScheduled
		st.BrtDate = &at

		local := at.In(s.loc)
		n, err := s.render("brt-confirmed", map[string]string{
			"date": local.Format("2006-01-02"),
			"time": local.Format("15:04"),
		})
		if err != nil {
			return nil, err
		}
		return []notification.Notification{n}, nil
	})
}

// SkipBrt declines the session. No notification is sent.
func (s *Store) SkipBrt(ctx context.Context) (JourneyState, error) {
	return s.mutate(ctx, ActionSkipBrt, func(st *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(Check(*st, ActionSkipBrt)); err != nil {
			return nil, err
		}
		st.BrtStatus = BrtSkipped
		return nil, nil
	})
}

// CompleteConsultation marks the consultation done and recommends the
// probiotic protocol. A protocol that is already paid or shipped is kept.
func (s *Store) CompleteConsultation(ctx context.Context) (JourneyState, error) {
	return s.mutate(ctx, ActionCompleteConsultation, func(st *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(Check(*st, ActionCompleteConsultation)); err != nil {
			return nil, err
		}
		st.ConsultationStatus = ConsultationCompleted
		if st.ProbioticsStatus == ProbioticsNone {
			st.ProbioticsStatus = ProbioticsRecommended
		}
		return s.renderAll("protocol-ready")
	})
}

func (s *Store) CompleteQuestionnaire(ctx context.Context) (JourneyState, error) {
	return s.mutate(ctx, ActionCompleteQuestionnaire, func(st *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(Check(*st, ActionCompleteQuestionnaire)); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		st.QuestionnaireStatus = QuestionnaireStatus{Completed: true, CompletedAt: &now}
		return s.renderAll("questionnaire-received")
	})
}

func (s *Store) PurchaseProbiotics(ctx context.Context) (JourneyState, error) {
	return s.mutate(ctx, ActionPurchaseProbiotics, func(st *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(Check(*st, ActionPurchaseProbiotics)); err != nil {
			return nil, err
		}
		st.ProbioticsStatus = ProbioticsPaid
		return s.renderAll("probiotics-ordered")
	})
}

func (s *Store) ShipProbiotics(ctx context.Context) (JourneyState, error) {
	return s.mutate(ctx, ActionShipProbiotics, func(st *JourneyState) ([]notification.Notification, error) {
		if err := s.policy.enforce(Check(*st, ActionShipProbiotics)); err != nil {
			return nil, err
		}
		st.ProbioticsStatus = ProbioticsShipped
		n, err := s.render("probiotics-shipped", map[string]string{"tracking": TrackingReference})
		if err != nil {
			return nil, err
		}
		return []notification.Notification{n}, nil
	})
}

// MarkNotificationRead flags one notification as read. An unknown id changes
// nothing and is not an error.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) (JourneyState, error) {
	s.mu.Lock()
	if err := s.ensureLoaded(ctx); err != nil {
		s.mu.Unlock()
		return JourneyState{}, err
	}
	n, ok := s.state.Notifications.Find(id)
	if !ok || n.Read {
		current := s.state.Clone()
		s.mu.Unlock()
		return current, nil
	}
	s.mu.Unlock()

	return s.mutate(ctx, ActionMarkRead, func(st *JourneyState) ([]notification.Notification, error) {
		st.Notifications.MarkRead(id)
		return nil, nil
	})
}

// ResetSimulation restores the defaults and clears persisted storage.
func (s *Store) ResetSimulation(ctx context.Context) (JourneyState, error) {
	ctx, span := s.tracer.Start(ctx, "journey."+string(ActionReset))
	defer span.End()

	s.mu.Lock()
	if err := s.repo.Clear(ctx); err != nil {
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("journey state clear failed, reset rolled back")
		span.RecordError(err)
		span.SetStatus(codes.Error, "clear failed")
		return JourneyState{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.state = DefaultState()
	s.loaded = true
	snapshot := s.state.Clone()
	ev := s.commitEvent(ActionReset, snapshot, nil)
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()

	s.logger.Info().Str("action", string(ActionReset)).Msg("journey simulation reset")
	s.publish(ev)
	return snapshot, nil
}
