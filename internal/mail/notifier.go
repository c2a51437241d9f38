// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package mail

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/credence/credence/internal/auth"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Message kinds, also used as the metric label.
const (
	KindVerification = "verification"
	KindReset        = "reset"
)

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// From is the sender address.
	From string

	// Product names the service in message bodies.
	Product string

	// ResetURL is the page that accepts a reset token. The token is added
	// as the "token" query parameter.
	ResetURL string
}

// Notifier renders account emails and hands them to a Dispatcher.
type Notifier struct {
	cfg        NotifierConfig
	resetURL   *url.URL
	dispatcher Dispatcher
	failures   *prometheus.CounterVec
}

// NewNotifier creates a Notifier. reg may be nil.
func NewNotifier(cfg NotifierConfig, dispatcher Dispatcher, reg prometheus.Registerer) (*Notifier, error) {
	if dispatcher == nil {
		return nil, oops.Code(CodeInvalidMessage).Errorf("dispatcher is required")
	}
	resetURL, err := url.Parse(cfg.ResetURL)
	if err != nil || resetURL.Scheme == "" || resetURL.Host == "" {
		return nil, oops.Code(CodeInvalidMessage).
			With("reset_url", cfg.ResetURL).
			Errorf("reset url must be absolute")
	}
	if cfg.Product == "" {
		cfg.Product = "Credence"
	}

	n := &Notifier{
		cfg:        cfg,
		resetURL:   resetURL,
		dispatcher: dispatcher,
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credence_mail_failures_total",
			Help: "Account emails that could not be delivered, by kind",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(n.failures)
	}
	return n, nil
}

// SendVerificationCode implements auth.Notifier.
func (n *Notifier) SendVerificationCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	return n.deliver(ctx, KindVerification, to, "Verify your account", "verification.html", map[string]any{
		"Product":   n.cfg.Product,
		"Code":      code,
		"ExpiresAt": expiresAt.UTC().Format(time.RFC1123),
	})
}

// SendPasswordReset implements auth.Notifier.
func (n *Notifier) SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error {
	link := *n.resetURL
	query := link.Query()
	query.Set("token", token)
	link.RawQuery = query.Encode()

	return n.deliver(ctx, KindReset, to, "Password reset request", "reset.html", map[string]any{
		"Product":   n.cfg.Product,
		"ResetURL":  link.String(),
		"ExpiresAt": expiresAt.UTC().Format(time.RFC1123),
	})
}

func (n *Notifier) deliver(ctx context.Context, kind, to, subject, tmpl string, data map[string]any) error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		n.failures.WithLabelValues(kind).Inc()
		return oops.Code(CodeRenderFailed).With("template", tmpl).Wrap(err)
	}

	msg := Message{From: n.cfg.From, To: to, Subject: subject, HTML: body.String()}
	if err := n.dispatcher.Send(ctx, msg); err != nil {
		n.failures.WithLabelValues(kind).Inc()
		return oops.With("kind", kind).Wrap(err)
	}
	return nil
}

var _ auth.Notifier = (*Notifier)(nil)
