package handler

import (
	"context"
	"encoding/json"
	"log"

	"github.com/DeadlyParkour777/peer-review/notification_service/internal/service"
	"github.com/DeadlyParkour777/peer-review/pkg/events"
	"github.com/segmentio/kafka-go"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaConsumer struct {
	service service.Service
}

func NewKafkaConsumer(svc service.Service) *KafkaConsumer {
	return &KafkaConsumer{service: svc}
}

// Start consumes notification events until ctx is done. Every fetched
// message is committed, including ones that failed delivery, except one
// interrupted by shutdown.
func (h *KafkaConsumer) Start(ctx context.Context, reader MessageReader) {
	log.Println("Kafka consumer worker started. Waiting for notifications...")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("could not fetch message: %v", err)
			continue
		}

		var event events.NotificationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("failed to unmarshal notification event, skipping: %v", err)
		} else if err := h.service.Deliver(ctx, &event); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("notification %s dropped: %v", event.ID, err)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Printf("failed to commit message: %v", err)
		}
	}
	log.Println("Kafka consumer worker stopped")
}
