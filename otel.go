package playermail

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/playermail"

// opMetrics is the latency/count/error triple recorded for one operation.
type opMetrics struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

func newOpMetrics(meter metric.Meter, op, what string) (opMetrics, error) {
	var m opMetrics
	var err error

	m.latency, err = meter.Float64Histogram(
		"playermail."+op+".duration",
		metric.WithDescription("Duration of "+what+" operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return m, err
	}
	m.count, err = meter.Int64Counter(
		"playermail."+op+".count",
		metric.WithDescription("Number of "+what+" operations"),
	)
	if err != nil {
		return m, err
	}
	m.errors, err = meter.Int64Counter(
		"playermail."+op+".errors",
		metric.WithDescription("Number of "+what+" errors"),
	)
	return m, err
}

func (m opMetrics) record(ctx context.Context, d time.Duration, err error, attrs ...attribute.KeyValue) {
	opt := metric.WithAttributes(attrs...)
	m.latency.Record(ctx, d.Seconds(), opt)
	m.count.Add(ctx, 1, opt)
	if err != nil {
		m.errors.Add(ctx, 1, opt)
	}
}

// otelInstrumentation holds OpenTelemetry instrumentation for the mail service.
type otelInstrumentation struct {
	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool

	send   opMetrics
	list   opMetrics
	update opMetrics
	delete opMetrics

	broadcastRecipients metric.Int64Counter
	broadcastFailures   metric.Int64Counter
	cooldownRejections  metric.Int64Counter
}

func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
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

func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	if o.send, err = newOpMetrics(meter, "send", "send"); err != nil {
		return err
	}
	if o.list, err = newOpMetrics(meter, "list", "inbox and sentbox"); err != nil {
		return err
	}
	if o.update, err = newOpMetrics(meter, "update", "read, claim and command"); err != nil {
		return err
	}
	if o.delete, err = newOpMetrics(meter, "delete", "delete"); err != nil {
		return err
	}

	o.broadcastRecipients, err = meter.Int64Counter(
		"playermail.broadcast.recipients",
		metric.WithDescription("Number of mails delivered by background jobs"),
	)
	if err != nil {
		return err
	}
	o.broadcastFailures, err = meter.Int64Counter(
		"playermail.broadcast.failures",
		metric.WithDescription("Number of per-recipient failures in background jobs"),
	)
	if err != nil {
		return err
	}
	o.cooldownRejections, err = meter.Int64Counter(
		"playermail.cooldown.rejections",
		metric.WithDescription("Number of sends rejected by the cooldown"),
	)
	return err
}

// startSpan starts a span when tracing is enabled. The returned func ends
// the span, recording err.
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

func (o *otelInstrumentation) recordSend(ctx context.Context, d time.Duration, kind string, err error) {
	if !o.metricsEnabled {
		return
	}
	o.send.record(ctx, d, err, attribute.String("kind", kind))
}

func (o *otelInstrumentation) recordList(ctx context.Context, d time.Duration, box string, n int, err error) {
	if !o.metricsEnabled {
		return
	}
	o.list.record(ctx, d, err, attribute.String("box", box), attribute.Int("result_count", n))
}

func (o *otelInstrumentation) recordUpdate(ctx context.Context, d time.Duration, op string, err error) {
	if !o.metricsEnabled {
		return
	}
	o.update.record(ctx, d, err, attribute.String("operation", op))
}

func (o *otelInstrumentation) recordDelete(ctx context.Context, d time.Duration, permanent bool, err error) {
	if !o.metricsEnabled {
		return
	}
	o.delete.record(ctx, d, err, attribute.Bool("permanent", permanent))
}

func (o *otelInstrumentation) recordBroadcast(ctx context.Context, job string, delivered, failed int) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("job", job))
	o.broadcastRecipients.Add(ctx, int64(delivered), attrs)
	o.broadcastFailures.Add(ctx, int64(failed), attrs)
}

func (o *otelInstrumentation) recordCooldown(ctx context.Context) {
	if !o.metricsEnabled {
		return
	}
	o.cooldownRejections.Add(ctx, 1)
}
