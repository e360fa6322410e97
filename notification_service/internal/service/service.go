package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"

	"github.com/DeadlyParkour777/peer-review/notification_service/internal/mailer"
	"github.com/DeadlyParkour777/peer-review/pkg/events"
	"github.com/DeadlyParkour777/peer-review/pkg/retry"
)

var ErrUndeliverable = errors.New("notification cannot be delivered")

type Service interface {
	Deliver(ctx context.Context, event *events.NotificationEvent) error
}

type message struct {
	subject string
	body    *template.Template
}

const layout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{template "subject" .}}</title></head>
<body style="font-family:Arial,sans-serif;color:#111827;">
<div style="max-width:640px;margin:0 auto;padding:24px;">{{template "content" .}}</div>
</body>
</html>`

var contents = map[events.TemplateKind]struct{ subject, content string }{
	events.TemplateAssignment: {
		"New review assignments",
		`<p>You have {{.count}} new review assignment(s).</p><p>Please submit your reviews before {{.deadline}}.</p>`,
	},
	events.TemplateDeadlineWarning: {
		"Review deadline in 24 hours",
		`<p>{{.count}} of your review assignment(s) are due soon.</p><p>The earliest deadline is {{.deadline}}.</p>`,
	},
	events.TemplateFinalReminder: {
		"Final reminder: reviews due shortly",
		`<p>{{.count}} of your review assignment(s) expire at {{.deadline}}.</p><p>Unfinished assignments will be handed to another reviewer.</p>`,
	},
	events.TemplateRefund: {
		"Peer verification could not be completed",
		`<p>The peer verification of submission {{.submission_id}} received {{.completed_reviews}} of {{.total_reviews}} reviews and could not be completed.</p>` +
			`{{with .amount}}<p>Your payment of {{.}} has been refunded.</p>{{end}}`,
	},
	events.TemplateVerificationResult: {
		"Peer verification result",
		`<p>The peer verification of submission {{.submission_id}} finished with outcome {{.outcome}}.</p><p>Verification score: {{.score}}.</p>`,
	},
}

type service struct {
	mailer   mailer.Mailer
	retry    retry.Policy
	messages map[events.TemplateKind]message
}

func NewService(mailer mailer.Mailer, policy retry.Policy) (Service, error) {
	messages := make(map[events.TemplateKind]message, len(contents))
	for kind, c := range contents {
		t, err := template.New(string(kind)).Parse(layout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse layout: %w", err)
		}
		if _, err := t.New("subject").Parse(c.subject); err != nil {
			return nil, fmt.Errorf("failed to parse %s subject: %w", kind, err)
		}
		if _, err := t.New("content").Parse(c.content); err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", kind, err)
		}
		messages[kind] = message{subject: c.subject, body: t}
	}
	return &service{mailer: mailer, retry: policy, messages: messages}, nil
}

// Deliver renders the event's template and mails it. Events that can never
// be delivered are reported with ErrUndeliverable.
func (s *service) Deliver(ctx context.Context, event *events.NotificationEvent) error {
	if event.Address == "" {
		return fmt.Errorf("%w: event %s has no address", ErrUndeliverable, event.ID)
	}
	msg, ok := s.messages[event.Template]
	if !ok {
		return fmt.Errorf("%w: unknown template %q", ErrUndeliverable, event.Template)
	}

	var buf bytes.Buffer
	if err := msg.body.Execute(&buf, event.Data); err != nil {
		return fmt.Errorf("%w: render %s: %v", ErrUndeliverable, event.Template, err)
	}

	err := retry.Do(ctx, s.retry, func() error {
		return s.mailer.Send(event.Address, msg.subject, buf.String())
	})
	if err != nil {
		return fmt.Errorf("failed to deliver %s to %s: %w", event.Template, event.Address, err)
	}
	log.Printf("Delivered %s notification %s", event.Template, event.ID)
	return nil
}
