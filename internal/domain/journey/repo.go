package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gmtcc/insight/internal/platform/notification"
)

// ErrNotFound is returned by Repository.Load when nothing has been stored
// under the key yet. The store treats it as a fresh profile.
var ErrNotFound = errors.New("journey state not found")

// Repository persists the whole JourneyState as one document.
type Repository interface {
	Load(ctx context.Context) (JourneyState, error)
	Save(ctx context.Context, s JourneyState) error
	Clear(ctx context.Context) error
}

// MemoryRepository keeps the state in process memory. Used for the "memory"
// storage driver and in tests.
type MemoryRepository struct {
	mu    sync.Mutex
	state *JourneyState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Load(_ context.Context) (JourneyState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return JourneyState{}, ErrNotFound
	}
	return r.state.Clone(), nil
}

func (r *MemoryRepository) Save(_ context.Context, s JourneyState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := s.Clone()
	r.state = &c
	return nil
}

func (r *MemoryRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = nil
	return nil
}

// decodeState unmarshals a stored document over the defaults so that fields
// missing from older documents keep their default values.
func decodeState(raw []byte) (JourneyState, error) {
	s := DefaultState()
	if err := json.Unmarshal(raw, &s); err != nil {
		return JourneyState{}, fmt.Errorf("decode journey state: %w", err)
	}
	if err := applyBrowserKeys(raw, &s); err != nil {
		return JourneyState{}, fmt.Errorf("decode journey state: %w", err)
	}
	if s.Notifications == nil {
		s.Notifications = notification.Log{}
	}
	if s.PurchaseHistory == nil {
		s.PurchaseHistory = []PurchaseOption{}
	}
	return s, nil
}

// browserKeys are the field names the browser simulation wrote under the same
// storage key.
type browserKeys struct {
	QuestionnaireStatus struct {
		Date *time.Time `json:"date"`
	} `json:"questionnaireStatus"`
	LabResults *struct {
		Timestamp *time.Time `json:"timestamp"`
	} `json:"labResults"`
	Notifications []struct {
		Type      string     `json:"type"`
		Message   string     `json:"message"`
		Timestamp *time.Time `json:"timestamp"`
	} `json:"notifications"`
}

// applyBrowserKeys fills fields that s is missing from their browser-era
// names in raw. Fields already present win.
func applyBrowserKeys(raw []byte, s *JourneyState) error {
	var b browserKeys
	if err := json.Unmarshal(raw, &b); err != nil {
		return err
	}

	q := &s.QuestionnaireStatus
	if q.CompletedAt == nil && b.QuestionnaireStatus.Date != nil {
		q.CompletedAt = b.QuestionnaireStatus.Date
	}
	if s.LabResults != nil && s.LabResults.GeneratedAt.IsZero() && b.LabResults != nil && b.LabResults.Timestamp != nil {
		s.LabResults.GeneratedAt = *b.LabResults.Timestamp
	}

	if len(b.Notifications) != len(s.Notifications) {
		return nil
	}
	for i := range s.Notifications {
		n, old := &s.Notifications[i], b.Notifications[i]
		if n.Channel == "" && old.Type != "" {
			ch, err := notification.ParseChannel(old.Type)
			if err != nil {
				return err
			}
			n.Channel = ch
		}
		if n.Body == "" {
			n.Body = old.Message
		}
		if n.CreatedAt.IsZero() && old.Timestamp != nil {
			n.CreatedAt = *old.Timestamp
		}
	}
	return nil
}
