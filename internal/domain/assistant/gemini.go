package assistant

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/gmtcc/insight/internal/domain/journey"
)

type GeminiConfig struct {
	APIKey        string
	InsightsModel string
	ChatModel     string
}

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client        *genai.Client
	insightsModel string
	chatModel     string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key required")
	}
	if cfg.InsightsModel == "" {
		cfg.InsightsModel = "gemini-2.5-flash"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = cfg.InsightsModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, insightsModel: cfg.InsightsModel, chatModel: cfg.ChatModel}, nil
}

func (g *GeminiProvider) GenerateInsights(ctx context.Context, results journey.LabResults) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(InsightsPrompt(results), genai.RoleUser)}
	return g.generate(ctx, g.insightsModel, contents, nil)
}

func (g *GeminiProvider) Chat(ctx context.Context, history []Message, message string) (string, error) {
	contents := ChatContents(history, message)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemInstruction(), genai.RoleUser),
	}
	return g.generate(ctx, g.chatModel, contents, cfg)
}

func (g *GeminiProvider) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	res, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w: %v", model, ErrProviderUnavailable, err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ChatContents converts the last MaxHistory turns plus message into genai
// contents.
func ChatContents(history []Message, message string) []*genai.Content {
	history = Truncate(history)
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return append(contents, genai.NewContentFromText(message, genai.RoleUser))
}
