package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func testRecipients() Recipients {
	return Recipients{Email: "alex@example.com", Phone: "+85291234567", Chat: "+85291234567"}
}

func sample() []Notification {
	now := time.Now()
	return []Notification{
		{ID: "n1", Channel: ChannelEmail, Title: "Order Confirmed #HK-8821", Body: "Thanks", CreatedAt: now},
		{ID: "n2", Channel: ChannelChat, Title: "Action Required", Body: "Fill the form", CreatedAt: now},
		{ID: "n3", Channel: ChannelSMS, Title: "Kit Delivered", Body: "Arrived", CreatedAt: now},
	}
}

func TestDispatcher_DeliverAllChannels(t *testing.T) {
	email, sms, chat := &MockSender{}, &MockSender{}, &MockSender{}
	d := NewDispatcher(testRecipients(), zerolog.Nop(),
		WithEmailSender(email), WithSMSSender(sms), WithChatSender(chat))

	recs := d.Deliver(context.Background(), sample())
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Status != StatusSent {
			t.Errorf("%s: status = %s, want sent", r.NotificationID, r.Status)
		}
		if r.SentAt == nil {
			t.Errorf("%s: SentAt not set", r.NotificationID)
		}
	}

	if calls := email.Calls(); len(calls) != 1 || calls[0].Subject != "Order Confirmed #HK-8821" || calls[0].To != "alex@example.com" {
		t.Errorf("email calls = %+v", calls)
	}
	if calls := sms.Calls(); len(calls) != 1 || calls[0].Body != "Kit Delivered: Arrived" {
		t.Errorf("sms calls = %+v", calls)
	}
	if calls := chat.Calls(); len(calls) != 1 || !strings.Contains(calls[0].Body, "Fill the form") {
		t.Errorf("chat calls = %+v", calls)
	}
}

func TestDispatcher_DeliveryHook(t *testing.T) {
	got := map[string]int{}
	d := NewDispatcher(testRecipients(), zerolog.Nop(),
		WithEmailSender(&MockSender{}),
		WithSMSSender(&MockSender{ShouldFail: true}),
		WithDeliveryHook(func(channel, status string) { got[channel+"/"+status]++ }))

	d.Deliver(context.Background(), sample())
	want := map[string]int{"EMAIL/sent": 1, "SMS/failed": 1, "CHAT/skipped": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %d, want %d (all: %v)", k, got[k], v, got)
		}
	}
}

func TestDispatcher_SkipsWithoutSender(t *testing.T) {
	d := NewDispatcher(testRecipients(), zerolog.Nop())
	recs := d.Deliver(context.Background(), sample())
	for _, r := range recs {
		if r.Status != StatusSkipped {
			t.Errorf("%s: status = %s, want skipped", r.NotificationID, r.Status)
		}
	}
	if got := d.Stats()[StatusSkipped]; got != 3 {
		t.Errorf("skipped count = %d, want 3", got)
	}
}

func TestDispatcher_SkipsWithoutRecipient(t *testing.T) {
	email := &MockSender{}
	d := NewDispatcher(Recipients{}, zerolog.Nop(), WithEmailSender(email))
	recs := d.Deliver(context.Background(), sample()[:1])
	if recs[0].Status != StatusSkipped {
		t.Errorf("status = %s, want skipped", recs[0].Status)
	}
	if len(email.Calls()) != 0 {
		t.Error("sender should not be called without a recipient")
	}
}

func TestDispatcher_FailureThenRetry(t *testing.T) {
	sms := &MockSender{ShouldFail: true, FailError: "gateway down"}
	d := NewDispatcher(testRecipients(), zerolog.Nop(), WithSMSSender(sms))

	recs := d.Deliver(context.Background(), sample()[2:])
	if recs[0].Status != StatusFailed || recs[0].Error != "gateway down" {
		t.Fatalf("expected failed record, got %+v", recs[0])
	}

	sms.ShouldFail = false
	rec, err := d.Retry(context.Background(), "n3")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if rec.Status != StatusSent || rec.Attempts != 2 {
		t.Errorf("after retry: %+v", rec)
	}
	stored, _ := d.Get("n3")
	if stored.Status != StatusSent {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestDispatcher_RetryRejectsNonFailed(t *testing.T) {
	d := NewDispatcher(testRecipients(), zerolog.Nop(), WithEmailSender(&MockSender{}))
	d.Deliver(context.Background(), sample()[:1])

	if _, err := d.Retry(context.Background(), "n1"); err == nil {
		t.Error("expected error retrying a sent delivery")
	}
	if _, err := d.Retry(context.Background(), "missing"); err == nil {
		t.Error("expected error retrying unknown delivery")
	}
}

func TestDispatcher_NotifyAsync(t *testing.T) {
	email := &MockSender{}
	d := NewDispatcher(testRecipients(), zerolog.Nop(), WithEmailSender(email), WithTimeout(time.Second))
	d.Notify(sample()[:1])
	d.Notify(nil)
	d.Wait()

	if len(email.Calls()) != 1 {
		t.Errorf("expected 1 email after Wait, got %d", len(email.Calls()))
	}
}

func TestDispatcher_ListNewestFirst(t *testing.T) {
	d := NewDispatcher(testRecipients(), zerolog.Nop())
	d.Deliver(context.Background(), sample())

	items, total := d.List(2, 0)
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 2 || items[0].NotificationID != "n3" || items[1].NotificationID != "n2" {
		t.Errorf("items = %+v", items)
	}
	items, _ = d.List(10, 2)
	if len(items) != 1 || items[0].NotificationID != "n1" {
		t.Errorf("offset page = %+v", items)
	}
}

func TestLogSender_SatisfiesAllChannels(t *testing.T) {
	var s LogSender = LogSender{Logger: zerolog.Nop()}
	var _ EmailSender = s
	var _ SMSSender = s
	var _ ChatSender = s
	if err := s.SendSMS(context.Background(), "+852", "hi"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDeliveryHandler_Routes(t *testing.T) {
	sms := &MockSender{ShouldFail: true, FailError: "boom"}
	d := NewDispatcher(testRecipients(), zerolog.Nop(), WithSMSSender(sms))
	d.Deliver(context.Background(), sample())

	e := echo.New()
	h := NewDeliveryHandler(d)
	h.RegisterRoutes(e.Group("/api/v1/notifications"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/deliveries?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var page struct {
		Data    []DeliveryRecord `json:"data"`
		Total   int              `json:"total"`
		HasMore bool             `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 3 || len(page.Data) != 2 || !page.HasMore {
		t.Errorf("page = %+v", page)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/deliveries/stats", nil))
	var stats map[string]int
	_ = json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats[StatusFailed] != 1 || stats[StatusSkipped] != 2 {
		t.Errorf("stats = %v", stats)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/deliveries/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get unknown status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/deliveries/n1/retry", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("retry skipped status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/deliveries/n3/retry", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("retry failing status = %d, want 502", rec.Code)
	}

	sms.ShouldFail = false
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/deliveries/n3/retry", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("retry ok status = %d, want 200", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Remote senders
// ---------------------------------------------------------------------------

func TestTwilioSender_SMSAndWhatsApp(t *testing.T) {
	var forms []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("bad basic auth %q %q", user, pass)
		}
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = r.ParseForm()
		forms = append(forms, r.PostForm)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sid":"SM1"}`)
	}))
	defer srv.Close()

	s, err := NewTwilioSender(TwilioConfig{
		AccountSID: "AC123", AuthToken: "secret",
		FromNumber: "+15550001", WhatsAppFrom: "+15550002",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewTwilioSender: %v", err)
	}
	if err := s.SendSMS(context.Background(), "+85291234567", "hello"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if err := s.SendChat(context.Background(), "+85291234567", "hi"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	if len(forms) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(forms))
	}
	if forms[0].Get("From") != "+15550001" || forms[0].Get("Body") != "hello" {
		t.Errorf("sms form = %v", forms[0])
	}
	if forms[1].Get("From") != "whatsapp:+15550002" || forms[1].Get("To") != "whatsapp:+85291234567" {
		t.Errorf("whatsapp form = %v", forms[1])
	}
}

func TestTwilioSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":21211,"message":"Invalid 'To' Phone Number"}`)
	}))
	defer srv.Close()

	s, _ := NewTwilioSender(TwilioConfig{AccountSID: "AC1", AuthToken: "t", FromNumber: "+1", BaseURL: srv.URL})
	err := s.SendSMS(context.Background(), "bad", "x")
	if err == nil || !strings.Contains(err.Error(), "21211") {
		t.Errorf("expected api error, got %v", err)
	}
}

func TestTwilioSender_Validation(t *testing.T) {
	if _, err := NewTwilioSender(TwilioConfig{}); err == nil {
		t.Error("expected error for empty config")
	}
	s, _ := NewTwilioSender(TwilioConfig{AccountSID: "a", AuthToken: "b"})
	if err := s.SendSMS(context.Background(), "+1", "x"); err == nil {
		t.Error("expected error without from number")
	}
	if err := s.SendChat(context.Background(), "+1", "x"); err == nil {
		t.Error("expected error without whatsapp sender")
	}
}

func TestSendGridSender_SendEmail(t *testing.T) {
	var got sgMailSend
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer SG.key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewSendGridSender(SendGridConfig{APIKey: "SG.key", FromEmail: "care@example.com", FromName: "GMTCC", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewSendGridSender: %v", err)
	}
	if err := s.SendEmail(context.Background(), "alex@example.com", "Results Ready", "Log in"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if got.Subject != "Results Ready" || got.Personalizations[0].To[0].Email != "alex@example.com" {
		t.Errorf("payload = %+v", got)
	}
	if got.From.Name != "GMTCC" || got.Content[0].Value != "Log in" {
		t.Errorf("payload = %+v", got)
	}
}

func TestSendGridSender_Errors(t *testing.T) {
	if _, err := NewSendGridSender(SendGridConfig{FromEmail: "x@y"}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := NewSendGridSender(SendGridConfig{APIKey: "k"}); err == nil {
		t.Error("expected error without from email")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errors":[{"message":"bad key"}]}`)
	}))
	defer srv.Close()
	s, _ := NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "x@y", BaseURL: srv.URL})
	if err := s.SendEmail(context.Background(), "a@b", "s", "b"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 error, got %v", err)
	}
}
