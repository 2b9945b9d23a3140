package notification

import "testing"

func TestTemplateEngine_BuiltInCatalog(t *testing.T) {
	eng := NewTemplateEngine()
	ids := map[string]Channel{
		"order-confirmed-bundle":           ChannelEmail,
		"questionnaire-required-bundle":    ChannelChat,
		"order-confirmed-test-only":        ChannelEmail,
		"questionnaire-required-test-only": ChannelChat,
		"upgrade-confirmed":                ChannelEmail,
		"kit-delivered":                    ChannelSMS,
		"sample-mailed":                    ChannelEmail,
		"lab-received":                     ChannelEmail,
		"results-ready":                    ChannelSMS,
		"consultation-confirmed":           ChannelEmail,
		"brt-confirmed":                    ChannelEmail,
		"protocol-ready":                   ChannelEmail,
		"questionnaire-received":           ChannelEmail,
		"probiotics-ordered":               ChannelEmail,
		"probiotics-shipped":               ChannelSMS,
	}
	for id, want := range ids {
		tpl, ok := eng.Template(id)
		if !ok {
			t.Errorf("built-in template %q missing", id)
			continue
		}
		if tpl.Channel != want {
			t.Errorf("%s: channel = %s, want %s", id, tpl.Channel, want)
		}
		if tpl.Title == "" || tpl.Body == "" {
			t.Errorf("%s: empty copy", id)
		}
	}
}

func TestTemplateEngine_RenderPlaceholders(t *testing.T) {
	eng := NewTemplateEngine()
	ch, title, body, err := eng.Render("consultation-confirmed", map[string]string{
		"specialist": "Dr. Chen",
		"date":       "2026-11-02",
		"time":       "10:30",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch != ChannelEmail {
		t.Errorf("channel = %s, want EMAIL", ch)
	}
	if title != "Consultation Confirmed" {
		t.Errorf("title = %q", title)
	}
	want := "Your appointment with Dr. Chen is set for 2026-11-02 at 10:30."
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestTemplateEngine_RenderMissingKeyLeftAsIs(t *testing.T) {
	eng := NewTemplateEngine()
	_, _, body, err := eng.Render("probiotics-shipped", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "Your probiotics are on the way! Tracking: {{tracking}}" {
		t.Errorf("body = %q", body)
	}
}

func TestTemplateEngine_RenderUnknown(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_LoadYAMLOverride(t *testing.T) {
	eng := NewTemplateEngine()
	doc := []byte(`
templates:
  - id: kit-delivered
    channel: WHATSAPP
    title: "Kit Arrived"
    body: "Hi {{name}}"
`)
	if err := eng.LoadYAML(doc); err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	ch, title, body, err := eng.Render("kit-delivered", map[string]string{"name": "Alex"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if ch != ChannelChat || title != "Kit Arrived" || body != "Hi Alex" {
		t.Errorf("got %s %q %q", ch, title, body)
	}
}

func TestTemplateEngine_LoadYAMLErrors(t *testing.T) {
	eng := NewTemplateEngine()
	cases := map[string]string{
		"bad yaml":    "templates: [",
		"missing id":  "templates:\n  - channel: SMS\n    title: x\n",
		"bad channel": "templates:\n  - id: x\n    channel: FAX\n",
	}
	for name, doc := range cases {
		if err := eng.LoadYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
