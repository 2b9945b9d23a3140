package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/gmtcc/insight/pkg/pagination"
)

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ChatSender is the interface for sending chat-app (WhatsApp) messages.
type ChatSender interface {
	SendChat(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Log sink
// ---------------------------------------------------------------------------

// LogSender writes every message to the structured log instead of a remote
// gateway. It satisfies all three sender interfaces.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().Str("channel", string(ChannelEmail)).Str("to", to).Str("subject", subject).Str("body", body).Msg("notification delivered")
	return nil
}

func (s LogSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().Str("channel", string(ChannelSMS)).Str("to", to).Str("body", body).Msg("notification delivered")
	return nil
}

func (s LogSender) SendChat(_ context.Context, to, body string) error {
	s.Logger.Info().Str("channel", string(ChannelChat)).Str("to", to).Str("body", body).Msg("notification delivered")
	return nil
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// Call records a single send on a mock sender.
type Call struct {
	To      string
	Subject string
	Body    string
}

// MockSender is a test double for all three sender interfaces.
type MockSender struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
}

func (m *MockSender) record(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

func (m *MockSender) SendEmail(_ context.Context, to, subject, body string) error {
	return m.record(to, subject, body)
}

func (m *MockSender) SendSMS(_ context.Context, to, body string) error {
	return m.record(to, "", body)
}

func (m *MockSender) SendChat(_ context.Context, to, body string) error {
	return m.record(to, "", body)
}

// Calls returns a copy of recorded calls.
func (m *MockSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Delivery statuses.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Recipients are the contact addresses of the simulated profile.
type Recipients struct {
	Email string
	Phone string
	Chat  string
}

// DeliveryRecord tracks the outbound delivery of one log entry.
type DeliveryRecord struct {
	NotificationID string     `json:"notification_id"`
	Channel        Channel    `json:"channel"`
	Recipient      string     `json:"recipient"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

// ErrDeliveryNotFound is returned for an unknown delivery record.
var ErrDeliveryNotFound = errors.New("delivery not found")

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEmailSender sets the EMAIL channel sender.
func WithEmailSender(s EmailSender) DispatcherOption {
	return func(d *Dispatcher) { d.email = s }
}

// WithSMSSender sets the SMS channel sender.
func WithSMSSender(s SMSSender) DispatcherOption {
	return func(d *Dispatcher) { d.sms = s }
}

// WithChatSender sets the CHAT channel sender.
func WithChatSender(s ChatSender) DispatcherOption {
	return func(d *Dispatcher) { d.chat = s }
}

// WithTimeout bounds each asynchronous delivery.
func WithTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithDeliveryHook registers fn to run after every delivery attempt with the
// channel and resulting status.
func WithDeliveryHook(fn func(channel, status string)) DispatcherOption {
	return func(d *Dispatcher) { d.onDelivery = fn }
}

// Dispatcher delivers journey notifications to the profile's contact
// addresses. Delivery failures are recorded and logged, never returned to the
// journey store.
type Dispatcher struct {
	email   EmailSender
	sms     SMSSender
	chat    ChatSender
	to      Recipients
	timeout time.Duration
	logger  zerolog.Logger

	onDelivery func(channel, status string)

	mu      sync.RWMutex
	records map[string]*DeliveryRecord
	order   []string
	wg      sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. Channels without a sender are
// recorded as skipped.
func NewDispatcher(to Recipients, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		to:      to,
		timeout: 10 * time.Second,
		logger:  logger.With().Str("component", "notification-dispatcher").Logger(),
		records: make(map[string]*DeliveryRecord),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Notify delivers the notifications in the background.
func (d *Dispatcher) Notify(ns []Notification) {
	if len(ns) == 0 {
		return
	}
	batch := make([]Notification, len(ns))
	copy(batch, ns)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.Deliver(ctx, batch)
	}()
}

// Wait blocks until every background delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver sends each notification through its channel and records the result.
func (d *Dispatcher) Deliver(ctx context.Context, ns []Notification) []DeliveryRecord {
	out := make([]DeliveryRecord, 0, len(ns))
	for _, n := range ns {
		rec := &DeliveryRecord{
			NotificationID: n.ID,
			Channel:        n.Channel,
			Recipient:      d.recipient(n.Channel),
			Title:          n.Title,
			Body:           n.Body,
			CreatedAt:      time.Now().UTC(),
		}
		d.attempt(ctx, rec)

		d.mu.Lock()
		if _, exists := d.records[n.ID]; !exists {
			d.order = append(d.order, n.ID)
		}
		d.records[n.ID] = rec
		d.mu.Unlock()

		out = append(out, *rec)
	}
	return out
}

func (d *Dispatcher) recipient(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return d.to.Email
	case ChannelSMS:
		return d.to.Phone
	case ChannelChat:
		return d.to.Chat
	}
	return ""
}

// attempt performs one send and updates rec in place.
func (d *Dispatcher) attempt(ctx context.Context, rec *DeliveryRecord) {
	rec.Attempts++

	var sendErr error
	skipped := rec.Recipient == ""
	if !skipped {
		switch rec.Channel {
		case ChannelEmail:
			if d.email == nil {
				skipped = true
			} else {
				sendErr = d.email.SendEmail(ctx, rec.Recipient, rec.Title, rec.Body)
			}
		case ChannelSMS:
			if d.sms == nil {
				skipped = true
			} else {
				sendErr = d.sms.SendSMS(ctx, rec.Recipient, rec.Title+": "+rec.Body)
			}
		case ChannelChat:
			if d.chat == nil {
				skipped = true
			} else {
				sendErr = d.chat.SendChat(ctx, rec.Recipient, rec.Title+"\n"+rec.Body)
			}
		default:
			sendErr = fmt.Errorf("unsupported notification channel: %s", rec.Channel)
		}
	}

	switch {
	case skipped:
		rec.Status = StatusSkipped
	case sendErr != nil:
		rec.Status = StatusFailed
		rec.Error = sendErr.Error()
		d.logger.Warn().Err(sendErr).Str("notification_id", rec.NotificationID).Str("channel", string(rec.Channel)).Msg("notification delivery failed")
	default:
		rec.Status = StatusSent
		rec.Error = ""
		sentAt := time.Now().UTC()
		rec.SentAt = &sentAt
	}
	if d.onDelivery != nil {
		d.onDelivery(string(rec.Channel), rec.Status)
	}
}

// Get returns the delivery record for a notification ID.
func (d *Dispatcher) Get(id string) (DeliveryRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return DeliveryRecord{}, fmt.Errorf("%w: %s", ErrDeliveryNotFound, id)
	}
	return *rec, nil
}

// List returns delivery records newest first, with the total count.
func (d *Dispatcher) List(limit, offset int) ([]DeliveryRecord, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	total := len(d.order)
	out := []DeliveryRecord{}
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, *d.records[d.order[i]])
	}
	return out, total
}

// Retry re-sends a failed delivery. Returns an error if the record is not in
// "failed" status.
func (d *Dispatcher) Retry(ctx context.Context, id string) (DeliveryRecord, error) {
	d.mu.Lock()
	rec, ok := d.records[id]
	if !ok {
		d.mu.Unlock()
		return DeliveryRecord{}, fmt.Errorf("%w: %s", ErrDeliveryNotFound, id)
	}
	if rec.Status != StatusFailed {
		status := rec.Status
		d.mu.Unlock()
		return DeliveryRecord{}, fmt.Errorf("delivery %q is not in failed status (current: %s)", id, status)
	}
	work := *rec
	d.mu.Unlock()

	d.attempt(ctx, &work)

	d.mu.Lock()
	d.records[id] = &work
	d.mu.Unlock()
	if work.Status == StatusFailed {
		return work, errors.New(work.Error)
	}
	return work, nil
}

// Stats returns counts of delivery records grouped by status.
func (d *Dispatcher) Stats() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := make(map[string]int)
	for _, r := range d.records {
		stats[r.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// DeliveryHandler exposes outbound delivery records over HTTP via Echo.
type DeliveryHandler struct {
	dispatcher *Dispatcher
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(d *Dispatcher) *DeliveryHandler {
	return &DeliveryHandler{dispatcher: d}
}

// RegisterRoutes registers the delivery routes on the given Echo group.
func (h *DeliveryHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/deliveries", h.HandleList)
	g.GET("/deliveries/stats", h.HandleStats)
	g.GET("/deliveries/:id", h.HandleGet)
	g.POST("/deliveries/:id/retry", h.HandleRetry)
}

// HandleList handles GET /deliveries.
func (h *DeliveryHandler) HandleList(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total := h.dispatcher.List(pg.Limit, pg.Offset)
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// HandleGet handles GET /deliveries/:id.
func (h *DeliveryHandler) HandleGet(c echo.Context) error {
	rec, err := h.dispatcher.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleRetry handles POST /deliveries/:id/retry.
func (h *DeliveryHandler) HandleRetry(c echo.Context) error {
	rec, err := h.dispatcher.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if rec.NotificationID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		// Still return the record so the caller can see the new error.
		return c.JSON(http.StatusBadGateway, rec)
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleStats handles GET /deliveries/stats.
func (h *DeliveryHandler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dispatcher.Stats())
}
