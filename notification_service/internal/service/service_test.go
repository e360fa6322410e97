package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DeadlyParkour777/peer-review/pkg/events"
	"github.com/DeadlyParkour777/peer-review/pkg/retry"
)

type mail struct {
	to, subject, html string
}

type fakeMailer struct {
	sent     []mail
	failures int
	calls    int
}

func (f *fakeMailer) Send(to, subject, html string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("smtp: 421 try again later")
	}
	f.sent = append(f.sent, mail{to, subject, html})
	return nil
}

func newTestService(t *testing.T, m *fakeMailer, attempts int) Service {
	t.Helper()
	svc, err := NewService(m, retry.Policy{MaxAttempts: attempts})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestDeliver_RendersEveryTemplate(t *testing.T) {
	kinds := []events.TemplateKind{
		events.TemplateAssignment,
		events.TemplateDeadlineWarning,
		events.TemplateFinalReminder,
		events.TemplateRefund,
		events.TemplateVerificationResult,
	}
	m := &fakeMailer{}
	svc := newTestService(t, m, 1)

	for _, kind := range kinds {
		event := &events.NotificationEvent{ID: string(kind), Address: "a@example.com", Template: kind, Data: map[string]any{
			"count":         2,
			"deadline":      "2025-03-17T12:00:00Z",
			"submission_id": "s1",
			"outcome":       "REINSTATED",
			"score":         3.5,
		}}
		if err := svc.Deliver(context.Background(), event); err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
	}
	if len(m.sent) != len(kinds) {
		t.Fatalf("expected %d mails, got %d", len(kinds), len(m.sent))
	}
	for _, s := range m.sent {
		if s.to != "a@example.com" || s.subject == "" {
			t.Fatalf("unexpected mail: %+v", s)
		}
		if !strings.Contains(s.html, "<title>"+s.subject+"</title>") {
			t.Fatalf("subject missing from body: %s", s.html)
		}
	}
}

func TestDeliver_AssignmentBody(t *testing.T) {
	m := &fakeMailer{}
	svc := newTestService(t, m, 1)

	err := svc.Deliver(context.Background(), &events.NotificationEvent{
		Address:  "r@example.com",
		Template: events.TemplateAssignment,
		Data:     map[string]any{"count": 10, "deadline": "2025-03-17T12:00:00Z"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(m.sent[0].html, "You have 10 new review assignment(s).") {
		t.Fatalf("unexpected body: %s", m.sent[0].html)
	}
}

func TestDeliver_RefundMentionsAmountOnlyWhenRefunded(t *testing.T) {
	m := &fakeMailer{}
	svc := newTestService(t, m, 1)

	base := map[string]any{"submission_id": "s1", "completed_reviews": 3, "total_reviews": 10}
	withAmount := map[string]any{"submission_id": "s1", "completed_reviews": 3, "total_reviews": 10, "amount": 500}

	for _, data := range []map[string]any{base, withAmount} {
		if err := svc.Deliver(context.Background(), &events.NotificationEvent{Address: "o@example.com", Template: events.TemplateRefund, Data: data}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if strings.Contains(m.sent[0].html, "refunded") {
		t.Fatalf("refund line without payment: %s", m.sent[0].html)
	}
	if !strings.Contains(m.sent[1].html, "Your payment of 500 has been refunded.") {
		t.Fatalf("refund line missing: %s", m.sent[1].html)
	}
}

func TestDeliver_EscapesData(t *testing.T) {
	m := &fakeMailer{}
	svc := newTestService(t, m, 1)

	err := svc.Deliver(context.Background(), &events.NotificationEvent{
		Address:  "o@example.com",
		Template: events.TemplateVerificationResult,
		Data:     map[string]any{"submission_id": "<script>", "outcome": "CONFIRMED", "score": 2.1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(m.sent[0].html, "<script>") {
		t.Fatalf("data not escaped: %s", m.sent[0].html)
	}
}

func TestDeliver_Undeliverable(t *testing.T) {
	m := &fakeMailer{}
	svc := newTestService(t, m, 3)

	err := svc.Deliver(context.Background(), &events.NotificationEvent{Template: events.TemplateAssignment})
	if !errors.Is(err, ErrUndeliverable) {
		t.Fatalf("expected ErrUndeliverable for missing address, got %v", err)
	}
	err = svc.Deliver(context.Background(), &events.NotificationEvent{Address: "a@example.com", Template: "newsletter"})
	if !errors.Is(err, ErrUndeliverable) {
		t.Fatalf("expected ErrUndeliverable for unknown template, got %v", err)
	}
	if m.calls != 0 {
		t.Fatalf("mailer should not be called, got %d calls", m.calls)
	}
}

func TestDeliver_RetriesTransientFailures(t *testing.T) {
	m := &fakeMailer{failures: 2}
	svc := newTestService(t, m, 3)

	err := svc.Deliver(context.Background(), &events.NotificationEvent{Address: "a@example.com", Template: events.TemplateFinalReminder})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.calls != 3 || len(m.sent) != 1 {
		t.Fatalf("expected 3 calls and 1 mail, got %d and %d", m.calls, len(m.sent))
	}
}

func TestDeliver_GivesUp(t *testing.T) {
	m := &fakeMailer{failures: 5}
	svc := newTestService(t, m, 2)

	err := svc.Deliver(context.Background(), &events.NotificationEvent{Address: "a@example.com", Template: events.TemplateFinalReminder})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, ErrUndeliverable) {
		t.Fatalf("transport failure reported as undeliverable: %v", err)
	}
	if m.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", m.calls)
	}
}
