package outbox

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type dispatcherMetrics struct {
	messagesPublished metric.Int64Counter
	messagesFailed    metric.Int64Counter
	messagesSkipped   metric.Int64Counter
	dispatchLatency   metric.Float64Histogram
	queueDepth        metric.Int64Gauge
}

func newDispatcherMetrics(provider metric.MeterProvider) (dispatcherMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("orderprocessor.outbox.dispatcher")

	var (
		metrics dispatcherMetrics
		err     error
	)

	metrics.messagesPublished, err = meter.Int64Counter(
		"outbox.messages.published",
		metric.WithDescription("Number of outbox messages published and marked processed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.messages.published counter: %w", err)
	}

	metrics.messagesFailed, err = meter.Int64Counter(
		"outbox.messages.failed",
		metric.WithDescription("Number of outbox messages that failed to publish"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.messages.failed counter: %w", err)
	}

	metrics.messagesSkipped, err = meter.Int64Counter(
		"outbox.messages.skipped",
		metric.WithDescription("Number of poisoned outbox messages skipped without a publish attempt"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.messages.skipped counter: %w", err)
	}

	metrics.dispatchLatency, err = meter.Float64Histogram(
		"outbox.dispatch.latency",
		metric.WithDescription("Time taken per dispatch cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.dispatch.latency histogram: %w", err)
	}

	metrics.queueDepth, err = meter.Int64Gauge(
		"outbox.queue.depth",
		metric.WithDescription("Number of pending outbox messages selected in a dispatch cycle"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.queue.depth gauge: %w", err)
	}

	return metrics, nil
}

func (m dispatcherMetrics) record(ctx context.Context, result Result, elapsedSeconds float64) {
	if m.messagesPublished != nil {
		m.messagesPublished.Add(ctx, int64(result.Published))
	}

	if m.messagesFailed != nil {
		m.messagesFailed.Add(ctx, int64(result.Failed))
	}

	if m.messagesSkipped != nil {
		m.messagesSkipped.Add(ctx, int64(result.Skipped))
	}

	if m.dispatchLatency != nil {
		m.dispatchLatency.Record(ctx, elapsedSeconds)
	}

	if m.queueDepth != nil {
		m.queueDepth.Record(ctx, int64(result.Fetched))
	}
}
