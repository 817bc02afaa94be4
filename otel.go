package postman

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/postman"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	composeLatency metric.Float64Histogram
	composeCount   metric.Int64Counter
	composeErrors  metric.Int64Counter
	rejectedCount  metric.Int64Counter
	listLatency    metric.Float64Histogram
	listCount      metric.Int64Counter
	listErrors     metric.Int64Counter
	updateLatency  metric.Float64Histogram
	updateCount    metric.Int64Counter
	updateErrors   metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.composeLatency, err = meter.Float64Histogram(
		"postman.compose.duration",
		metric.WithDescription("Duration of compose operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.composeCount, err = meter.Int64Counter(
		"postman.compose.count",
		metric.WithDescription("Number of compose operations"),
	)
	if err != nil {
		return err
	}

	o.composeErrors, err = meter.Int64Counter(
		"postman.compose.errors",
		metric.WithDescription("Number of failed compose operations"),
	)
	if err != nil {
		return err
	}

	o.rejectedCount, err = meter.Int64Counter(
		"postman.moderation.rejected",
		metric.WithDescription("Number of records rejected by moderation"),
	)
	if err != nil {
		return err
	}

	o.listLatency, err = meter.Float64Histogram(
		"postman.list.duration",
		metric.WithDescription("Duration of folder list operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.listCount, err = meter.Int64Counter(
		"postman.list.count",
		metric.WithDescription("Number of folder list operations"),
	)
	if err != nil {
		return err
	}

	o.listErrors, err = meter.Int64Counter(
		"postman.list.errors",
		metric.WithDescription("Number of folder list errors"),
	)
	if err != nil {
		return err
	}

	o.updateLatency, err = meter.Float64Histogram(
		"postman.update.duration",
		metric.WithDescription("Duration of mark and delete operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.updateCount, err = meter.Int64Counter(
		"postman.update.count",
		metric.WithDescription("Number of mark and delete operations"),
	)
	if err != nil {
		return err
	}

	o.updateErrors, err = meter.Int64Counter(
		"postman.update.errors",
		metric.WithDescription("Number of mark and delete errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span, recording err when non-nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordCompose records compose operation metrics.
func (o *otelInstrumentation) recordCompose(ctx context.Context, duration time.Duration, kind string, recipientCount, rejected int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Int("recipient_count", recipientCount),
	)

	o.composeLatency.Record(ctx, duration.Seconds(), attrs)
	o.composeCount.Add(ctx, 1, attrs)
	if err != nil {
		o.composeErrors.Add(ctx, 1, attrs)
	}
	if rejected > 0 {
		o.rejectedCount.Add(ctx, int64(rejected), attrs)
	}
}

// recordList records folder list metrics.
func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, folder string, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("folder", folder),
		attribute.Int("result_count", resultCount),
	)

	o.listLatency.Record(ctx, duration.Seconds(), attrs)
	o.listCount.Add(ctx, 1, attrs)
	if err != nil {
		o.listErrors.Add(ctx, 1, attrs)
	}
}

// recordUpdate records mark and delete metrics.
func (o *otelInstrumentation) recordUpdate(ctx context.Context, duration time.Duration, operation string, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
	)

	o.updateLatency.Record(ctx, duration.Seconds(), attrs)
	o.updateCount.Add(ctx, 1, attrs)
	if err != nil {
		o.updateErrors.Add(ctx, 1, attrs)
	}
}
