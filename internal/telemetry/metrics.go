package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the queue instruments. A nil *Metrics records nothing.
type Metrics struct {
	attempts metric.Int64Counter
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	enqueued metric.Int64Counter
}

// NewMetrics registers the instruments on p's meter.
func NewMetrics(p *Provider) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.attempts, err = p.meter.Int64Counter("incidentq.delivery.attempts",
		metric.WithDescription("Delivery attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.runs, err = p.meter.Int64Counter("incidentq.sync.runs",
		metric.WithDescription("Sync runs by result"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = p.meter.Float64Histogram("incidentq.delivery.duration",
		metric.WithDescription("Delivery request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	m.enqueued, err = p.meter.Int64Counter("incidentq.queue.enqueued",
		metric.WithDescription("Submissions persisted to the local queue"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordAttempt records one delivery attempt. path is "direct" or "sync".
func (m *Metrics) RecordAttempt(ctx context.Context, path, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("path", path), attribute.String("outcome", outcome))
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

// RecordRun records a finished sync run. result is "complete", "halted",
// "empty", "offline", or "storage_fault".
func (m *Metrics) RecordRun(ctx context.Context, trigger, result string) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger), attribute.String("result", result)))
}

// RecordEnqueued counts a submission added to the queue.
func (m *Metrics) RecordEnqueued(ctx context.Context) {
	if m == nil {
		return
	}
	m.enqueued.Add(ctx, 1)
}
