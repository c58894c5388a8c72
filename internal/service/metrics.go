package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type dispatchMetrics struct {
	delivered metric.Int64Counter
	skipped   metric.Int64Counter
	retried   metric.Int64Counter
	duration  metric.Float64Histogram
}

func newDispatchMetrics(provider metric.MeterProvider) (dispatchMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("projtrack.notify.dispatcher")

	var (
		m   dispatchMetrics
		err error
	)
	m.delivered, err = meter.Int64Counter("notify.dispatch.delivered",
		metric.WithDescription("Notifications created from outbox records"),
		metric.WithUnit("{notification}"))
	if err != nil {
		return dispatchMetrics{}, fmt.Errorf("create notify.dispatch.delivered counter: %w", err)
	}
	m.skipped, err = meter.Int64Counter("notify.dispatch.skipped",
		metric.WithDescription("Outbox records closed without a notification"),
		metric.WithUnit("{record}"))
	if err != nil {
		return dispatchMetrics{}, fmt.Errorf("create notify.dispatch.skipped counter: %w", err)
	}
	m.retried, err = meter.Int64Counter("notify.dispatch.retried",
		metric.WithDescription("Outbox records rescheduled with backoff"),
		metric.WithUnit("{record}"))
	if err != nil {
		return dispatchMetrics{}, fmt.Errorf("create notify.dispatch.retried counter: %w", err)
	}
	m.duration, err = meter.Float64Histogram("notify.dispatch.batch.duration",
		metric.WithDescription("Time taken per dispatch batch"),
		metric.WithUnit("s"))
	if err != nil {
		return dispatchMetrics{}, fmt.Errorf("create notify.dispatch.batch.duration histogram: %w", err)
	}
	return m, nil
}

func (m dispatchMetrics) record(ctx context.Context, res BatchResult, elapsed time.Duration) {
	if m.delivered == nil {
		return
	}
	m.delivered.Add(ctx, int64(res.Delivered))
	m.skipped.Add(ctx, int64(res.SkippedPreference), metric.WithAttributes(attribute.String("reason", "preference")))
	m.skipped.Add(ctx, int64(res.SkippedDuplicate), metric.WithAttributes(attribute.String("reason", "duplicate")))
	m.retried.Add(ctx, int64(res.Retried))
	m.duration.Record(ctx, elapsed.Seconds())
}
