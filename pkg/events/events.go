// Package events holds the notification contract shared by the producer in
// review_service and the consumer in notification_service.
package events

import "time"

type TemplateKind string

const (
	TemplateAssignment         TemplateKind = "assignment_notification"
	TemplateDeadlineWarning    TemplateKind = "deadline_warning"
	TemplateFinalReminder      TemplateKind = "final_reminder"
	TemplateRefund             TemplateKind = "refund_notification"
	TemplateVerificationResult TemplateKind = "verification_result"
)

func (k TemplateKind) Valid() bool {
	switch k {
	case TemplateAssignment, TemplateDeadlineWarning, TemplateFinalReminder,
		TemplateRefund, TemplateVerificationResult:
		return true
	}
	return false
}

type NotificationEvent struct {
	ID        string         `json:"id"`
	Address   string         `json:"address"`
	Template  TemplateKind   `json:"template"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
