package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/ashita-ai/kensa/internal/model"
)

// Notifier delivers newly fired alerts somewhere outside the process.
type Notifier interface {
	Notify(ctx context.Context, alerts []model.Alert) error
}

// LogNotifier writes each alert as a structured log line.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, alerts []model.Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, a := range alerts {
		level := slog.LevelWarn
		if a.Severity == model.SeverityCritical {
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, "alert fired",
			"alert_id", a.ID, "area", a.Area, "severity", a.Severity, "message", a.Message)
	}
	return nil
}

// MultiNotifier fans out to every notifier and joins their errors.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, alerts []model.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PubSubNotifier publishes one message per alert to a Pub/Sub topic. The
// message body is the alert JSON; id, severity and area are also set as
// attributes for subscription filters.
type PubSubNotifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubNotifier connects to project and binds topicID. The topic must
// already exist.
func NewPubSubNotifier(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("alerts: pubsub client: %w", err)
	}
	return &PubSubNotifier{client: client, topic: client.Topic(topicID)}, nil
}

// Notify implements Notifier. It waits for every publish result.
func (p *PubSubNotifier) Notify(ctx context.Context, alerts []model.Alert) error {
	results := make([]*pubsub.PublishResult, 0, len(alerts))
	for _, a := range alerts {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("alerts: marshal %s: %w", a.ID, err)
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data: b,
			Attributes: map[string]string{
				"id":       a.ID,
				"severity": string(a.Severity),
				"area":     a.Area,
			},
		}))
	}
	var errs []error
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, fmt.Errorf("alerts: publish %s: %w", alerts[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending messages and releases the client.
func (p *PubSubNotifier) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
