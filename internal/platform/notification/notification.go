// Package notification sends the booking emails to patients and consultants:
// template rendering, the email providers and a Notifier that knows which
// message goes out for which booking event.
package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
)

// EmailSender is the interface for sending email messages. Body is HTML.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template ids of the built-in booking messages.
const (
	TemplateBookingConfirmed = "booking-confirmed"
	TemplateSeriesBooked     = "series-booked"
	TemplateRescheduled      = "consultation-rescheduled"
	TemplateCancelled        = "consultation-cancelled"
)

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateBookingConfirmed,
			Name:    "Booking Confirmed",
			Subject: "Consultation {{code}} confirmed",
			Body: "<p>Dear {{name}},</p><p>your consultation with {{counterpart}} is booked for " +
				"{{date}} at {{time}} ({{timezone}}).</p><p>Join: {{meet_link}}</p><p>Reference: {{code}}</p>",
		},
		{
			ID:      TemplateSeriesBooked,
			Name:    "Series Booked",
			Subject: "Your {{count}} sessions with {{counterpart}} are booked",
			Body:    "<p>Dear {{name}},</p><p>the following sessions with {{counterpart}} are booked ({{timezone}}):</p>{{sessions}}",
		},
		{
			ID:      TemplateRescheduled,
			Name:    "Consultation Rescheduled",
			Subject: "Consultation {{code}} rescheduled",
			Body: "<p>Dear {{name}},</p><p>your consultation with {{counterpart}} has moved to " +
				"{{date}} at {{time}} ({{timezone}}).</p><p>Reference: {{code}}</p>",
		},
		{
			ID:      TemplateCancelled,
			Name:    "Consultation Cancelled",
			Subject: "Consultation {{code}} cancelled",
			Body:    "<p>Dear {{name}},</p><p>your consultation {{code}} with {{counterpart}} has been cancelled.</p>",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Values are HTML-escaped in the body; keys listed in raw
// are inserted as-is. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string, raw ...string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	trusted := make(map[string]bool, len(raw))
	for _, k := range raw {
		trusted[k] = true
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		if !trusted[k] {
			v = html.EscapeString(v)
		}
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
