// Package observe provides application-wide observability primitives for
// handsfree: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter set up by [InitProvider]. A
// package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/handsfree"

// Utterance outcomes recorded by [Metrics.RecordUtterance].
const (
	OutcomeTranscribed = "transcribed"
	OutcomeNoise       = "noise"
	OutcomeFailed      = "failed"
	OutcomeDiscarded   = "discarded"
)

// Metrics holds all OpenTelemetry instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks clip-to-text latency.
	TranscriptionDuration metric.Float64Histogram

	// RecordingDuration tracks the length of captured utterances.
	RecordingDuration metric.Float64Histogram

	// SynthesisDuration tracks time to first audio chunk for speak-back.
	SynthesisDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts closed recordings. Use with attribute:
	//   attribute.String("outcome", ...) (see the Outcome* constants)
	Utterances metric.Int64Counter

	// VoiceErrors counts errors surfaced to the user. Use with attribute:
	//   attribute.String("kind", ...)
	VoiceErrors metric.Int64Counter

	// StatusTransitions counts voice-mode status changes. Use with attribute:
	//   attribute.String("status", ...)
	StatusTransitions metric.Int64Counter

	// PlaybackInterrupts counts speak-back interruptions. Use with attribute:
	//   attribute.String("reason", ...)
	PlaybackInterrupts metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveDeviceSessions tracks open microphone sessions (0 or 1 per controller).
	ActiveDeviceSessions metric.Int64UpDownCounter

	// HubClients tracks connected UI WebSocket clients.
	HubClients metric.Int64UpDownCounter

	// --- HTTP ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for network round-trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// recordingBuckets are histogram boundaries in seconds for utterance length.
var recordingBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("handsfree.transcription.duration",
		metric.WithDescription("Latency of clip transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("handsfree.recording.duration",
		metric.WithDescription("Length of captured utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("handsfree.synthesis.duration",
		metric.WithDescription("Time to first audio chunk of speak-back synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("handsfree.utterances",
		metric.WithDescription("Closed recordings by outcome."),
	); err != nil {
		return nil, err
	}
	if met.VoiceErrors, err = m.Int64Counter("handsfree.voice.errors",
		metric.WithDescription("User-facing voice mode errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.StatusTransitions, err = m.Int64Counter("handsfree.voice.status_transitions",
		metric.WithDescription("Voice mode status transitions by target status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterrupts, err = m.Int64Counter("handsfree.playback.interrupts",
		metric.WithDescription("Speak-back interruptions by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("handsfree.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("handsfree.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveDeviceSessions, err = m.Int64UpDownCounter("handsfree.active_device_sessions",
		metric.WithDescription("Number of open microphone sessions."),
	); err != nil {
		return nil, err
	}
	if met.HubClients, err = m.Int64UpDownCounter("handsfree.hub.clients",
		metric.WithDescription("Number of connected UI clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("handsfree.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance counts one closed recording with the given outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordVoiceError counts one user-facing error of the given kind.
func (m *Metrics) RecordVoiceError(ctx context.Context, kind string) {
	m.VoiceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordStatus counts a transition into status.
func (m *Metrics) RecordStatus(ctx context.Context, status string) {
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordInterrupt counts a speak-back interruption.
func (m *Metrics) RecordInterrupt(ctx context.Context, reason string) {
	m.PlaybackInterrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderRequest records a provider request with the standard attributes.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error with the standard attributes.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
