// Package webhook authenticates inbound commerce webhooks and remembers which
// deliveries have already been handled.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	HeaderHMAC      = "X-Shopify-Hmac-Sha256"
	HeaderTopic     = "X-Shopify-Topic"
	HeaderWebhookID = "X-Shopify-Webhook-Id"
	HeaderShop      = "X-Shopify-Shop-Domain"

	maxBody = 1 << 20
)

var ErrInvalidSignature = errors.New("webhook signature mismatch")

// Sign returns the base64 HMAC-SHA256 of payload, the form Shopify sends.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify compares signature with the expected value in constant time.
func Verify(payload []byte, secret, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(payload, secret)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// RequireSignature rejects requests whose body does not match the HMAC header
// with 401. The body is restored for the handler.
func RequireSignature(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBody))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "read webhook body")
			}
			if err := Verify(body, secret, c.Request().Header.Get(HeaderHMAC)); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))
			return next(c)
		}
	}
}

// Receipts remembers recently handled webhook ids so that redeliveries are
// acknowledged without being applied twice. Entries expire after ttl.
type Receipts struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewReceipts(ttl time.Duration) *Receipts {
	return &Receipts{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// FirstSeen records id and reports whether it was new. An empty id is always
// new.
func (r *Receipts) FirstSeen(id string) bool {
	if id == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, at := range r.seen {
		if now.Sub(at) > r.ttl {
			delete(r.seen, k)
		}
	}
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = now
	return true
}

// Forget drops id so a failed delivery can be retried.
func (r *Receipts) Forget(id string) {
	r.mu.Lock()
	delete(r.seen, id)
	r.mu.Unlock()
}
