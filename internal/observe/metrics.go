// Package observe provides the observability primitives shared by the
// server: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus exporter set up by [InitProvider]. Tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/onyria/onyria"

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// StageDuration tracks each pipeline stage. Attributes: stage, status.
	StageDuration metric.Float64Histogram

	// ModelCallDuration tracks single chat-model attempts. Attributes:
	// operation, model, class.
	ModelCallDuration metric.Float64Histogram

	// Submissions counts finished pipeline runs. Attributes: variant, status.
	Submissions metric.Int64Counter

	// ModelCalls counts chat-model attempts. Attributes: operation, model,
	// class ("ok", "recoverable", "fatal").
	ModelCalls metric.Int64Counter

	// TranscriptionAttempts counts transport calls. Attributes: transport,
	// status.
	TranscriptionAttempts metric.Int64Counter

	// Images counts image generations by status.
	Images metric.Int64Counter

	// CacheLookups counts stats cache reads by result ("hit", "miss").
	CacheLookups metric.Int64Counter

	// ActiveStreams tracks live SSE and websocket submissions.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency. Attributes: method, route,
	// status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are sized for provider calls that take from tens of
// milliseconds to a couple of minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("onyria.pipeline.stage.duration",
		metric.WithDescription("Latency of one dream pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelCallDuration, err = m.Float64Histogram("onyria.model.call.duration",
		metric.WithDescription("Latency of a single chat model attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Submissions, err = m.Int64Counter("onyria.pipeline.submissions",
		metric.WithDescription("Dream submissions by variant and status."),
	); err != nil {
		return nil, err
	}
	if met.ModelCalls, err = m.Int64Counter("onyria.model.calls",
		metric.WithDescription("Chat model attempts by operation, model and outcome class."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionAttempts, err = m.Int64Counter("onyria.transcription.attempts",
		metric.WithDescription("Transcription transport calls by transport and status."),
	); err != nil {
		return nil, err
	}
	if met.Images, err = m.Int64Counter("onyria.images",
		metric.WithDescription("Image generations by status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("onyria.stats_cache.lookups",
		metric.WithDescription("Stats cache reads by result."),
	); err != nil {
		return nil, err
	}

	if met.ActiveStreams, err = m.Int64UpDownCounter("onyria.active_streams",
		metric.WithDescription("Live streamed submissions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("onyria.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status is "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStage records one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", Status(err)),
	))
}

// RecordSubmission counts a finished pipeline run.
func (m *Metrics) RecordSubmission(ctx context.Context, variant string, err error) {
	m.Submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("variant", variant),
		attribute.String("status", Status(err)),
	))
}

// RecordModelCall counts one chat model attempt and its latency.
func (m *Metrics) RecordModelCall(ctx context.Context, operation, model, class string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("model", model),
		attribute.String("class", class),
	)
	m.ModelCalls.Add(ctx, 1, attrs)
	m.ModelCallDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordTranscription counts one transport call.
func (m *Metrics) RecordTranscription(ctx context.Context, transport string, err error) {
	m.TranscriptionAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("status", Status(err)),
	))
}

// RecordImage counts one image generation.
func (m *Metrics) RecordImage(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.Images.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCacheLookup counts a stats cache read.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
