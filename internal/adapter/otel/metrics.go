package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tideway"

// Metrics holds all gateway metric instruments. A nil *Metrics records
// nothing, so callers never need to guard against a disabled meter.
type Metrics struct {
	PublishAccepted   metric.Int64Counter
	PublishRejected   metric.Int64Counter
	EventsEnqueued    metric.Int64Counter
	EventsDropped     metric.Int64Counter
	ActiveSubscribers metric.Int64UpDownCounter
	PayloadSize       metric.Int64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PublishAccepted, err = meter.Int64Counter("tideway.publish.accepted",
		metric.WithDescription("Number of accepted publish requests"))
	if err != nil {
		return nil, err
	}

	m.PublishRejected, err = meter.Int64Counter("tideway.publish.rejected",
		metric.WithDescription("Number of rejected publish requests"))
	if err != nil {
		return nil, err
	}

	m.EventsEnqueued, err = meter.Int64Counter("tideway.events.enqueued",
		metric.WithDescription("Number of envelopes enqueued to subscriber channels"))
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter("tideway.events.dropped",
		metric.WithDescription("Number of envelopes evicted or refused by full subscriber queues"))
	if err != nil {
		return nil, err
	}

	m.ActiveSubscribers, err = meter.Int64UpDownCounter("tideway.subscribers.active",
		metric.WithDescription("Number of open subscriber streams"))
	if err != nil {
		return nil, err
	}

	m.PayloadSize, err = meter.Int64Histogram("tideway.publish.payload_bytes",
		metric.WithDescription("Publish payload size in bytes"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Accepted records one accepted publish of size bytes.
func (m *Metrics) Accepted(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.PublishAccepted.Add(ctx, 1)
	m.PayloadSize.Record(ctx, int64(size))
}

// Rejected records one rejected publish with its reason.
func (m *Metrics) Rejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.PublishRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Delivered records enqueue outcomes for one envelope. Topics are caller
// controlled, so they stay on the publish span and off the counters.
func (m *Metrics) Delivered(ctx context.Context, enqueued, dropped int) {
	if m == nil {
		return
	}
	if enqueued > 0 {
		m.EventsEnqueued.Add(ctx, int64(enqueued))
	}
	if dropped > 0 {
		m.EventsDropped.Add(ctx, int64(dropped))
	}
}

// StreamOpened and StreamClosed track the active subscriber gauge.
func (m *Metrics) StreamOpened(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

func (m *Metrics) StreamClosed(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Add(ctx, -1, metric.WithAttributes(attribute.String("transport", transport)))
}
