package repository

import (
	"context"
	"strconv"

	"VaultPulse/internal/domain/models"
	domrepo "VaultPulse/internal/domain/repository"
	pkgkafka "VaultPulse/pkg/kafka"
)

// Producer is the subset of pkg/kafka.Producer the publisher needs.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaPublisher ships snapshots and alerts to their topics and doubles as
// the log collector's publisher.
type KafkaPublisher struct {
	producer       Producer
	snapshotsTopic string
	alertsTopic    string
}

func NewKafkaPublisher(producer Producer, snapshotsTopic, alertsTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, snapshotsTopic: snapshotsTopic, alertsTopic: alertsTopic}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

// WriteSnapshot publishes the whole snapshot keyed by generation.
func (p *KafkaPublisher) WriteSnapshot(ctx context.Context, s *models.MetricsSnapshot) error {
	if s == nil {
		return nil
	}
	return p.producer.Publish(ctx, p.snapshotsTopic, []byte(strconv.FormatUint(s.Generation, 10)), s)
}

// DeliverAlerts publishes one message per alert keyed by asset so an asset's
// alerts stay ordered on one partition.
func (p *KafkaPublisher) DeliverAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(alerts))
	for i, a := range alerts {
		key := a.Asset
		if key == "" {
			key = "account"
		}
		msgs[i] = pkgkafka.Message{Key: []byte(key), Value: a}
	}
	return p.producer.PublishBatch(ctx, p.alertsTopic, msgs)
}

// PublishMessage sends an arbitrary payload to topic.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// Close leaves the producer open; it is shared with the log collector and
// closed by its owner.
func (p *KafkaPublisher) Close() error { return nil }

var (
	_ domrepo.SnapshotSink = (*KafkaPublisher)(nil)
	_ domrepo.AlertSink    = (*KafkaPublisher)(nil)
)
