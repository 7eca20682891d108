package serve

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// PredictMetrics counts predictions by outcome and times them.
type PredictMetrics struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewPredictMetrics registers instruments on mp. A nil provider records nothing.
func NewPredictMetrics(mp metric.MeterProvider) (*PredictMetrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/danielpatrickdp/brakeguard/internal/serve")

	total, err := meter.Int64Counter("predictions_total",
		metric.WithDescription("Predictions answered, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("predictions counter: %w", err)
	}
	duration, err := meter.Float64Histogram("predict_duration_seconds",
		metric.WithDescription("Time spent answering one prediction"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("predict histogram: %w", err)
	}
	return &PredictMetrics{total: total, duration: duration}, nil
}

func (m *PredictMetrics) record(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.total.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
