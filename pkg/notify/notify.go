// Package notify publishes landlord and workflow events to outbound sinks.
//
// Publishing is best effort. Records are persisted before they are published, so a
// failing sink never rolls back the operation that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tenantops/pkg/config"
	"tenantops/pkg/logx"
)

// Kind identifies the source of an event.
type Kind string

const (
	KindLandlordNotification Kind = "landlord_notification"
	KindWorkflowMessage      Kind = "workflow_message"
	KindWorkflowTransition   Kind = "workflow_transition"
	KindVendorRequest        Kind = "vendor_request"
	KindPropertyAlert        Kind = "property_alert"
)

// Event is the payload handed to every sink.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	LandlordID string    `json:"landlord_id,omitempty"`
	LeaseID    string    `json:"lease_id,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	Urgency    string    `json:"urgency,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key partitions events so one lease or workflow stays ordered within a sink.
func (e Event) Key() string {
	switch {
	case e.WorkflowID != "":
		return e.WorkflowID
	case e.LeaseID != "":
		return e.LeaseID
	default:
		return e.LandlordID
	}
}

func (e Event) encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
	}
	return data, nil
}

// Publisher delivers events to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the component log.
type LogPublisher struct {
	logger *logx.Logger
}

// NewLogPublisher logs under the notify component.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: logx.NewLogger("notify")}
}

// Name identifies the sink in logs.
func (p *LogPublisher) Name() string { return config.SinkLog }

// Publish logs e and never fails.
func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("📣 %s [%s] %s: %s", e.Kind, e.Urgency, e.Key(), e.Message)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }

// Fanout publishes to every sink and logs failures instead of returning them.
type Fanout struct {
	sinks  []Publisher
	logger *logx.Logger
}

// NewFanout combines sinks. With no sinks it publishes nowhere.
func NewFanout(sinks ...Publisher) *Fanout {
	return &Fanout{sinks: sinks, logger: logx.NewLogger("notify")}
}

// Name identifies the fanout in logs.
func (f *Fanout) Name() string { return "fanout" }

// Publish never fails. The returned error is always nil; per-sink errors are logged.
func (f *Fanout) Publish(ctx context.Context, e Event) error {
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, e); err != nil {
			f.logger.Warn("⚠️  Failed to publish %s to %s: %v", e.ID, sink.Name(), err)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// New builds the configured sinks behind a Fanout.
func New(cfg config.NotifyConfig) (*Fanout, error) {
	sinks := make([]Publisher, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, NewLogPublisher())
		case config.SinkRedis:
			password, _ := config.GetSecret(config.SecretRedisPassword) //nolint:errcheck // optional
			sinks = append(sinks, NewRedisPublisher(cfg.RedisAddr, password, cfg.RedisDB, cfg.RedisStream))
		case config.SinkKafka:
			sinks = append(sinks, NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic))
		default:
			return nil, fmt.Errorf("unknown notification sink %q", name)
		}
	}
	return NewFanout(sinks...), nil
}
