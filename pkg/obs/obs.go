// Package obs wires ZipTag's OpenTelemetry instruments: a commit counter,
// WAL flush latency, and end-to-end query duration (spec §5), plus
// tracing spans around the Parsing/Planning/Executing query stages.
//
// No exporter or SDK is registered here — callers wire one, as is
// convention for an embedded library. Absent a registered SDK, every
// instrument and span created through the global otel API is a no-op.
package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/brifl/ziptag"

// Instruments bundles the metric instruments a Store needs for the
// lifetime of its process. Build once per Store with NewInstruments.
type Instruments struct {
	Commits       metric.Int64Counter
	WALFlush      metric.Float64Histogram
	QueryDuration metric.Float64Histogram
	tracer        trace.Tracer
}

// NewInstruments creates ziptag's metric instruments against the global
// MeterProvider. Errors here are from instrument registration only
// (duplicate names, bad units) and are safe to treat as fatal at
// startup, not as a reason to fall back to unobserved operation.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter(instrumentationName)

	commits, err := meter.Int64Counter("ziptag.commits",
		metric.WithDescription("number of transactions committed"))
	if err != nil {
		return nil, err
	}
	flush, err := meter.Float64Histogram("ziptag.wal.flush",
		metric.WithDescription("WAL flush latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	qd, err := meter.Float64Histogram("ziptag.query.duration",
		metric.WithDescription("end-to-end query duration, parse through execute"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Commits:       commits,
		WALFlush:      flush,
		QueryDuration: qd,
		tracer:        otel.Tracer(instrumentationName),
	}, nil
}

// StartSpan opens a span named for one of the query pipeline's three
// stages (Parsing, Planning, Executing). Safe to call on a nil
// Instruments (returns a no-op span via the global no-op tracer).
func (in *Instruments) StartSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	if in == nil {
		return otel.Tracer(instrumentationName).Start(ctx, stage)
	}
	return in.tracer.Start(ctx, stage)
}

// RecordCommit increments the commit counter by one.
func (in *Instruments) RecordCommit(ctx context.Context) {
	if in == nil {
		return
	}
	in.Commits.Add(ctx, 1)
}

// RecordWALFlush records one flush's latency in milliseconds.
func (in *Instruments) RecordWALFlush(ctx context.Context, ms float64) {
	if in == nil {
		return
	}
	in.WALFlush.Record(ctx, ms)
}

// RecordQueryDuration records one query's end-to-end latency in milliseconds.
func (in *Instruments) RecordQueryDuration(ctx context.Context, ms float64) {
	if in == nil {
		return
	}
	in.QueryDuration.Record(ctx, ms)
}
