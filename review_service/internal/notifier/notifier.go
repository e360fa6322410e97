package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DeadlyParkour777/peer-review/pkg/events"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Notifier interface {
	Send(ctx context.Context, address string, kind events.TemplateKind, data map[string]any) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaNotifier struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaNotifier(writer MessageWriter) Notifier {
	return &kafkaNotifier{writer: writer, now: time.Now}
}

// Send publishes the notification keyed by address so that one recipient's
// messages stay on one partition.
func (n *kafkaNotifier) Send(ctx context.Context, address string, kind events.TemplateKind, data map[string]any) error {
	if address == "" {
		return fmt.Errorf("notification %s has no address", kind)
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown notification template %q", kind)
	}

	event := events.NotificationEvent{
		ID:        uuid.New().String(),
		Address:   address,
		Template:  kind,
		Data:      data,
		CreatedAt: n.now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(address),
		Value: value,
		Time:  event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
