package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template renders one notification kind.
type Template struct {
	Kind    Kind
	Subject string
	Body    string
}

// TemplateEngine holds templates by kind and fills {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]*Template
}

// NewTemplateEngine creates an engine with the built-in templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[Kind]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			Kind:    KindBookingConfirmed,
			Subject: "Consultation requested for {{date}}",
			Body:    "Hello {{name}}, a {{type}} consultation on {{date}} at {{time}} with {{counterpart}} has been requested. The advisor must confirm by {{deadline}}.",
		},
		{
			Kind:    KindBookingFailed,
			Subject: "Booking could not be completed",
			Body:    "Hello {{name}}, your booking for {{date}} at {{time}} could not be completed: {{reason}}",
		},
		{
			Kind:    KindConfirmationGranted,
			Subject: "Consultation confirmed for {{date}}",
			Body:    "Hello {{name}}, {{counterpart}} confirmed your consultation on {{date}} at {{time}}.",
		},
		{
			Kind:    KindCancellation,
			Subject: "Consultation on {{date}} cancelled",
			Body:    "Hello {{name}}, the consultation on {{date}} at {{time}} was cancelled by {{cancelled_by}}. Reason: {{reason}}",
		},
		{
			Kind:    KindCompletion,
			Subject: "Consultation completed",
			Body:    "Hello {{name}}, your consultation on {{date}} with {{counterpart}} is complete.",
		},
		{
			Kind:    KindAdviceAdded,
			Subject: "New advice from your consultation",
			Body:    "Hello {{name}}, {{counterpart}} added {{count}} new advice item(s) to your consultation on {{date}}.",
		},
		{
			Kind:    KindFollowUpCreated,
			Subject: "Follow-up consultation proposed",
			Body:    "Hello {{name}}, a follow-up consultation on {{date}} at {{time}} has been proposed. Complete the payment to book it.",
		},
		{
			Kind:    KindDocumentUploaded,
			Subject: "New document shared",
			Body:    "Hello {{name}}, {{counterpart}} shared {{document}} for the consultation on {{date}}.",
		},
		{
			Kind:    KindRefundIssued,
			Subject: "Refund issued",
			Body:    "Hello {{name}}, a refund of {{amount}} has been issued for the consultation on {{date}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Kind] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Kind] = &t
}

// Render fills the template for kind. Placeholders without data are left
// as-is.
func (e *TemplateEngine) Render(kind Kind, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", kind)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
