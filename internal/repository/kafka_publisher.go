package repository

import (
	"context"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/domain/repository"
	pkgkafka "PulseBoard/pkg/kafka"
)

// KafkaPublisher sends alert and config-change events to the shared bus.
// Both are keyed by user ID so one user's events stay ordered.
type KafkaPublisher struct {
	producer    *pkgkafka.Producer
	alertTopic  string
	configTopic string
}

var _ repository.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer *pkgkafka.Producer, alertTopic, configTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, alertTopic: alertTopic, configTopic: configTopic}
}

func (p *KafkaPublisher) PublishAlert(ctx context.Context, msg models.AlertMessage) error {
	return p.producer.Publish(ctx, p.alertTopic, []byte(msg.UserID), msg)
}

func (p *KafkaPublisher) PublishConfigChange(ctx context.Context, ev models.ConfigChangeEvent) error {
	return p.producer.Publish(ctx, p.configTopic, []byte(ev.UserID), ev)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops every event. Used when Kafka is disabled and the
// instance runs alone.
type NopPublisher struct{}

var _ repository.EventPublisher = NopPublisher{}

func (NopPublisher) PublishAlert(context.Context, models.AlertMessage) error { return nil }

func (NopPublisher) PublishConfigChange(context.Context, models.ConfigChangeEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
