package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/models"
)

// Producer publishes engine events for external consumers (monitoring,
// search, notification workers). Publishing is best-effort: a failed
// publish is logged, never surfaced to the conversation.
type Producer interface {
	PublishSLABreach(ctx context.Context, sessionID, operatorID string, assignedAt time.Time)
	PublishTicketCreated(ctx context.Context, t *models.Ticket)
}

// KafkaProducer writes events to a Kafka topic. With no brokers
// configured every method is a no-op.
type KafkaProducer struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

func NewKafkaProducer(brokers []string, topic string, logger *logrus.Logger) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return &KafkaProducer{logger: logger}
	}
	return &KafkaProducer{
		logger: logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaProducer) PublishSLABreach(ctx context.Context, sessionID, operatorID string, assignedAt time.Time) {
	p.publish(ctx, map[string]interface{}{
		"event":       "sla.breach",
		"session_id":  sessionID,
		"operator_id": operatorID,
		"assigned_at": assignedAt.UnixMilli(),
		"detected_at": time.Now().UnixMilli(),
	})
}

func (p *KafkaProducer) PublishTicketCreated(ctx context.Context, t *models.Ticket) {
	p.publish(ctx, map[string]interface{}{
		"event":         "ticket.created",
		"ticket_number": t.Number,
		"session_id":    t.SessionID,
		"name":          t.Name,
		"contact":       t.Contact,
		"created_at":    t.CreatedAt.UnixMilli(),
	})
}

func (p *KafkaProducer) publish(ctx context.Context, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal event")
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		p.logger.WithError(err).WithField("event", payload["event"]).Error("Failed to publish event")
	}
}

func (p *KafkaProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
