// Package kafka publishes audit events to a Kafka topic keyed by event id.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	platformkafka "ipx/internal/platform/kafka"
	audit "ipx/pkg/platform/audit"
	"ipx/pkg/platform/audit/store/postgres"
)

// Producer is the part of the kafka producer the store needs.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// Store implements audit.Store by producing the JSON payload.
type Store struct {
	producer Producer
}

func New(p Producer) *Store {
	return &Store{producer: p}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	value, err := json.Marshal(postgres.PayloadFrom(event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	return s.producer.Produce(ctx, []byte(event.ID), value)
}

// Decode turns a consumed record back into an audit event.
func Decode(msg *platformkafka.Message) (audit.Event, error) {
	var payload postgres.Payload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return audit.Event{}, fmt.Errorf("decode audit record: %w", err)
	}
	return payload.Event()
}
