package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"VaultPulse/internal/domain/models"
	domrepo "VaultPulse/internal/domain/repository"
	pkgkafka "VaultPulse/pkg/kafka"
)

// KafkaEventsHandler consumes canonical events from Kafka and submits them
// to the ingest pipeline.
type KafkaEventsHandler struct {
	topic   string
	pipe    Submitter
	metrics domrepo.Metrics
}

func NewKafkaEventsHandler(topic string, pipe Submitter, metrics domrepo.Metrics) *KafkaEventsHandler {
	return &KafkaEventsHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaEventsHandler) Topic() string { return h.topic }

// Handle decodes one models.Event. Malformed events are counted and
// acknowledged; overload is returned so the consumer backs off and retries.
func (h *KafkaEventsHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return nil
	}
	if ts := ev.Time(); !ts.IsZero() {
		h.metrics.RecordLatency("ingest_e2e", time.Since(ts).Seconds())
	}

	err := h.pipe.Submit(ctx, ev)
	switch {
	case err == nil:
		h.metrics.RecordMessageSent("pipeline", ev.Asset())
		return nil
	case errors.Is(err, models.ErrInvalidEvent):
		return nil
	default:
		h.metrics.RecordError("consumer_submit")
		return fmt.Errorf("submit %s event: %w", ev.Kind, err)
	}
}

var _ pkgkafka.MessageHandler = (*KafkaEventsHandler)(nil)
