package notification

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var builtInCatalog []byte

// Template defines the copy for one kind of journey notification.
type Template struct {
	ID      string  `yaml:"id" json:"id"`
	Channel Channel `yaml:"channel" json:"channel"`
	Title   string  `yaml:"title" json:"title"`
	Body    string  `yaml:"body" json:"body"`
}

type catalog struct {
	Templates []Template `yaml:"templates"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in journey copy
// pre-registered. It panics if the embedded catalog is malformed.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	if err := e.LoadYAML(builtInCatalog); err != nil {
		panic(fmt.Sprintf("notification: built-in catalog: %v", err))
	}
	return e
}

// LoadYAML registers every template in a YAML catalog document, replacing
// templates with the same ID.
func (e *TemplateEngine) LoadYAML(doc []byte) error {
	var c catalog
	if err := yaml.Unmarshal(doc, &c); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	for _, t := range c.Templates {
		if t.ID == "" {
			return fmt.Errorf("template without id")
		}
		ch, err := ParseChannel(string(t.Channel))
		if err != nil {
			return fmt.Errorf("template %q: %w", t.ID, err)
		}
		t.Channel = ch
		e.RegisterTemplate(t)
	}
	return nil
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Template returns a copy of the template with the given ID.
func (e *TemplateEngine) Template(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (channel Channel, title, body string, err error) {
	t, ok := e.Template(templateID)
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", templateID)
	}

	title = t.Title
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return t.Channel, title, body, nil
}
