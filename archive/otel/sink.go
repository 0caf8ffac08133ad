// Package otel wraps an archive.Sink with OpenTelemetry tracing and metrics.
package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/playermail/archive"
	"github.com/rbaliyan/playermail/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/playermail/archive/otel"

// Sink records a span and metrics around every Archive call.
type Sink struct {
	backend archive.Sink
	opts    *options

	tracer trace.Tracer

	latency metric.Float64Histogram
	count   metric.Int64Counter
	bytes   metric.Int64Counter
	errors  metric.Int64Counter
}

var _ archive.Sink = (*Sink)(nil)

// New wraps backend.
func New(backend archive.Sink, opts ...Option) (*Sink, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "playermail",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Sink{backend: backend, opts: o}
	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider.Meter(instrumentationName)); err != nil {
			return nil, fmt.Errorf("otel: init metrics: %w", err)
		}
	}
	return s, nil
}

func (s *Sink) initMetrics(meter metric.Meter) error {
	var err error
	s.latency, err = meter.Float64Histogram(
		"playermail.archive.duration",
		metric.WithDescription("Duration of archive writes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.count, err = meter.Int64Counter(
		"playermail.archive.count",
		metric.WithDescription("Number of archive writes"),
	)
	if err != nil {
		return err
	}
	s.bytes, err = meter.Int64Counter(
		"playermail.archive.bytes",
		metric.WithDescription("Encoded size of archived records"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	s.errors, err = meter.Int64Counter(
		"playermail.archive.errors",
		metric.WithDescription("Number of failed archive writes"),
	)
	return err
}

// Archive forwards to the wrapped sink.
func (s *Sink) Archive(ctx context.Context, m *store.Mail) error {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", s.opts.serviceName),
		attribute.Bool("mail.system", m.IsSystem()),
		attribute.Bool("mail.has_attachment", m.HasAttachment()),
	}

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "playermail.archive",
			trace.WithAttributes(append(attrs, attribute.String("mail.id", m.ID))...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	err := s.backend.Archive(ctx, m)
	elapsed := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		set := metric.WithAttributes(attrs...)
		s.latency.Record(ctx, elapsed, set)
		s.count.Add(ctx, 1, set)
		if err != nil {
			s.errors.Add(ctx, 1, set)
		} else if data, merr := archive.Marshal(m); merr == nil {
			s.bytes.Add(ctx, int64(len(data)), set)
		}
	}

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}
