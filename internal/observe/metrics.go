// Package observe provides application-wide observability primitives for
// vivavox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vivavox metrics.
const meterName = "github.com/vivavox/vivavox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DetectorFrameDuration tracks per-frame speech detector processing time.
	DetectorFrameDuration metric.Float64Histogram

	// TranscriptionDuration tracks speech-to-text transcription latency per
	// answer segment.
	TranscriptionDuration metric.Float64Histogram

	// SynthesisStartDuration tracks time from synthesis request to first
	// audio chunk.
	SynthesisStartDuration metric.Float64Histogram

	// EvaluationDuration tracks answer evaluation latency.
	EvaluationDuration metric.Float64Histogram

	// BargeInCancelDuration tracks time from barge-in detection to playback
	// cancellation.
	BargeInCancelDuration metric.Float64Histogram

	// --- Counters ---

	// AudioFrames counts inbound candidate audio frames. Use with attribute:
	//   attribute.String("connection_id", ...)
	AudioFrames metric.Int64Counter

	// StreamMessages counts websocket messages by direction and type. Use
	// with attributes:
	//   attribute.String("direction", ...), attribute.String("type", ...)
	StreamMessages metric.Int64Counter

	// QuestionsAsked counts questions spoken to candidates. Use with
	// attribute: attribute.String("college", ...)
	QuestionsAsked metric.Int64Counter

	// AnswersEvaluated counts evaluated answers. Use with attributes:
	//   attribute.String("college", ...), attribute.String("correct", ...)
	AnswersEvaluated metric.Int64Counter

	// BargeIns counts candidate interruptions of examiner playback.
	BargeIns metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of registered websocket clients.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveSessions tracks the number of in-progress examination sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// frameBuckets covers the sub-millisecond range of the synchronous per-frame
// detector path.
var frameBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DetectorFrameDuration, err = m.Float64Histogram("vivavox.detector.frame.duration",
		metric.WithDescription("Per-frame speech detector processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("vivavox.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription per answer segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisStartDuration, err = m.Float64Histogram("vivavox.synthesis.start.duration",
		metric.WithDescription("Time from synthesis request to first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvaluationDuration, err = m.Float64Histogram("vivavox.evaluation.duration",
		metric.WithDescription("Latency of answer evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BargeInCancelDuration, err = m.Float64Histogram("vivavox.barge_in.cancel.duration",
		metric.WithDescription("Time from barge-in detection to playback cancellation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFrames, err = m.Int64Counter("vivavox.audio.frames",
		metric.WithDescription("Total inbound candidate audio frames."),
	); err != nil {
		return nil, err
	}
	if met.StreamMessages, err = m.Int64Counter("vivavox.stream.messages",
		metric.WithDescription("Total websocket messages by direction and type."),
	); err != nil {
		return nil, err
	}
	if met.QuestionsAsked, err = m.Int64Counter("vivavox.questions.asked",
		metric.WithDescription("Total questions spoken to candidates by college."),
	); err != nil {
		return nil, err
	}
	if met.AnswersEvaluated, err = m.Int64Counter("vivavox.answers.evaluated",
		metric.WithDescription("Total evaluated answers by college and correctness."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("vivavox.barge_ins",
		metric.WithDescription("Total candidate interruptions of examiner playback."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("vivavox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("vivavox.active_connections",
		metric.WithDescription("Number of registered websocket clients."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("vivavox.active_sessions",
		metric.WithDescription("Number of in-progress examination sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vivavox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStreamMessage is a convenience method that records a websocket
// message counter increment with the standard attribute set.
func (m *Metrics) RecordStreamMessage(ctx context.Context, direction, msgType string) {
	m.StreamMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("type", msgType),
		),
	)
}

// RecordAnswerEvaluated is a convenience method that records an answer
// evaluation counter increment.
func (m *Metrics) RecordAnswerEvaluated(ctx context.Context, college string, correct bool) {
	status := "incorrect"
	if correct {
		status = "correct"
	}
	m.AnswersEvaluated.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("college", college),
			attribute.String("correct", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
