// Package notification sends staff e-mail: account verification links and
// welcome notes for accounts an administrator creates.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

const (
	TemplateVerifyEmail = "verify-email"
	TemplateStaffInvite = "staff-invite"
)

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:      TemplateVerifyEmail,
			Subject: "Verify your clinic account",
			Body:    "Hello {{name}},\n\nConfirm your e-mail address to activate your account:\n{{link}}\n",
		},
		{
			ID:      TemplateStaffInvite,
			Subject: "Your clinic account is ready",
			Body:    "Hello {{name}},\n\nAn administrator created a {{role}} account for you. Confirm your e-mail address before signing in:\n{{link}}\n",
		},
	} {
		e.RegisterTemplate(t)
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render fills the template's placeholders from data. Placeholders without a
// value are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// RelayMailer posts messages to an HTTP mail relay.
type RelayMailer struct {
	client *resty.Client
	from   string
}

type relayMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func NewRelayMailer(baseURL, token, from string) *RelayMailer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &RelayMailer{client: client, from: from}
}

func (m *RelayMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(relayMessage{From: m.from, To: to, Subject: subject, Text: body}).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("mail relay: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail relay returned %d", resp.StatusCode())
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when no
// relay is configured.
type LogMailer struct {
	Logger zerolog.Logger
}

func (m LogMailer) SendEmail(_ context.Context, to, subject, body string) error {
	m.Logger.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email not sent: no mail relay configured")
	return nil
}

// Notifier renders templates and hands them to an EmailSender.
type Notifier struct {
	sender    EmailSender
	templates *TemplateEngine
	baseURL   string
	logger    zerolog.Logger
}

func NewNotifier(sender EmailSender, templates *TemplateEngine, publicBaseURL string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		templates: templates,
		baseURL:   strings.TrimRight(publicBaseURL, "/"),
		logger:    logger,
	}
}

// VerificationLink is the URL a staff member follows to confirm their address.
func (n *Notifier) VerificationLink(token string) string {
	return n.baseURL + "/verify-email?token=" + url.QueryEscape(token)
}

// SendVerification mails the verification link. invitedRole is empty for
// self sign-up.
func (n *Notifier) SendVerification(ctx context.Context, to, name, token, invitedRole string) error {
	tpl := TemplateVerifyEmail
	data := map[string]string{"name": name, "link": n.VerificationLink(token)}
	if invitedRole != "" {
		tpl = TemplateStaffInvite
		data["role"] = invitedRole
	}

	subject, body, err := n.templates.Render(tpl, data)
	if err != nil {
		return err
	}
	if err := n.sender.SendEmail(ctx, to, subject, body); err != nil {
		n.logger.Warn().Err(err).Str("to", to).Msg("verification email failed")
		return err
	}
	return nil
}

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
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New("smtp unavailable")
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
