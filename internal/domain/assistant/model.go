package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/gmtcc/insight/internal/domain/journey"
)

// Role is the author of a chat turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

func (r Role) IsValid() bool { return r == RoleUser || r == RoleModel }

type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Reply is what the assistant returns to the widget. Fallback is set when the
// text is fixed copy rather than model output.
type Reply struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback,omitempty"`
}

var (
	ErrProviderUnavailable = errors.New("language model unavailable")
	ErrEmptyResponse       = errors.New("language model returned no text")
	ErrInvalidMessage      = errors.New("invalid chat message")
	// ErrNotConfigured is returned by DisabledProvider.
	ErrNotConfigured = fmt.Errorf("%w: no api key configured", ErrProviderUnavailable)
)

// Provider is a hosted language model.
type Provider interface {
	GenerateInsights(ctx context.Context, results journey.LabResults) (string, error)
	// Chat answers message given the prior turns, oldest first.
	Chat(ctx context.Context, history []Message, message string) (string, error)
}

// DisabledProvider is used when no API key is configured.
type DisabledProvider struct{}

func (DisabledProvider) GenerateInsights(context.Context, journey.LabResults) (string, error) {
	return "", ErrNotConfigured
}

func (DisabledProvider) Chat(context.Context, []Message, string) (string, error) {
	return "", ErrNotConfigured
}

func validateHistory(history []Message) error {
	for i, m := range history {
		if !m.Role.IsValid() {
			return fmt.Errorf("%w: turn %d has role %q", ErrInvalidMessage, i, m.Role)
		}
	}
	return nil
}
