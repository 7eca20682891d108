package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}

	err := p.Publish(context.Background(), Event{Type: RunFinished, RunID: "r1", Metrics: map[string]float64{"train_f1": 0.7}})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "r1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, RunFinished, string(msg.Headers[0].Value))

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, 0.7, got.Metrics["train_f1"])
	assert.False(t, got.OccurredAt.IsZero())
}

func TestEmitLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := &KafkaPublisher{w: &fakeWriter{err: errors.New("broker down")}}

	Emit(context.Background(), p, logger, Event{Type: RunEvaluated, RunID: "r2"})
	assert.Contains(t, buf.String(), "broker down")
}

func TestNewWithoutBrokersIsNop(t *testing.T) {
	p := New(nil, "topic")
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.Publish(context.Background(), Event{}))
}
