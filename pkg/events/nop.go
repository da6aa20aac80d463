package events

import (
	"context"
	"time"

	"chat-escalation-engine/pkg/models"
)

// NopProducer discards all events. Used when no broker is configured.
type NopProducer struct{}

func (NopProducer) PublishSLABreach(context.Context, string, string, time.Time) {}

func (NopProducer) PublishTicketCreated(context.Context, *models.Ticket) {}
