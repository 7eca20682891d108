// Package events publishes run lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// #region event
const (
	RunFinished  = "run.finished"
	RunFailed    = "run.failed"
	RunEvaluated = "run.evaluated"
)

// Event is one run notification. Metrics carry the report relevant to Type.
type Event struct {
	Type       string             `json:"event_type"`
	RunID      string             `json:"run_id"`
	Experiment string             `json:"experiment"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Passed     *bool              `json:"passed,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Publisher delivers events. Delivery failures are the caller's to log; they never fail a stage.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// #endregion event

// #region nop
// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// #endregion nop

// #region kafka
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to one topic, keyed by run id.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireAll,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafkago.Message{
		Key:     []byte(e.RunID),
		Value:   payload,
		Headers: []kafkago.Header{{Key: "event_type", Value: []byte(e.Type)}},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// #endregion kafka

// New returns a Kafka publisher when brokers are set, Nop otherwise.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic)
}

// Emit publishes e and logs, rather than returns, any failure.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, e Event) {
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn("publish event failed", "event_type", e.Type, "run_id", e.RunID, "error", err)
	}
}
