package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"VaultPulse/internal/domain/models"
	domrepo "VaultPulse/internal/domain/repository"
	phttp "VaultPulse/pkg/http"
	"VaultPulse/pkg/logger"
	"VaultPulse/pkg/queue"
)

// AlertWebhookType is the queue message type carrying alert batches.
const AlertWebhookType = "alert.webhook"

// AlertQueue enqueues alert batches on the Redis queue for webhook delivery.
type AlertQueue struct {
	q queue.Publisher
}

func NewAlertQueue(q queue.Publisher) *AlertQueue {
	return &AlertQueue{q: q}
}

func (a *AlertQueue) Name() string { return "queue" }

func (a *AlertQueue) DeliverAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return a.q.PublishMessage(ctx, AlertWebhookType, alerts)
}

var _ domrepo.AlertSink = (*AlertQueue)(nil)

// WebhookJob posts queued alert batches to an HTTP endpoint. Failures are
// retried by the queue and end in its dead-letter list.
type WebhookJob struct {
	client *phttp.Client
	url    string
	log    *logger.Logger
}

func NewWebhookJob(client *phttp.Client, url string, log *logger.Logger) *WebhookJob {
	if log == nil {
		log = logger.Nop()
	}
	return &WebhookJob{client: client, url: url, log: log}
}

func (j *WebhookJob) Name() string { return "alert_webhook" }
func (j *WebhookJob) Type() string { return AlertWebhookType }

func (j *WebhookJob) Handle(ctx context.Context, payload json.RawMessage) error {
	alerts, err := queue.Decode[[]models.Alert](payload)
	if err != nil {
		return fmt.Errorf("alert payload: %w", err)
	}
	if len(alerts) == 0 {
		return nil
	}
	start := time.Now()
	err = j.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method: phttp.MethodPost,
		URL:    j.url,
		Body:   map[string]interface{}{"alerts": alerts},
	}, nil)
	if err != nil {
		return fmt.Errorf("post alerts: %w", err)
	}
	j.log.Debug("alerts delivered", logger.Int("count", len(alerts)), logger.Duration("took", time.Since(start)))
	return nil
}

var _ queue.Job = (*WebhookJob)(nil)
