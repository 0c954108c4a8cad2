package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value of the data point whose attribute key has
// the given value, and whether such a point exists.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"handsfree.transcription.duration", m.TranscriptionDuration},
		{"handsfree.recording.duration", m.RecordingDuration},
		{"handsfree.synthesis.duration", m.SynthesisDuration},
		{"handsfree.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.4)
		tc.h.Record(ctx, 1.2)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
				t.Errorf("unexpected data points: %+v", hist.DataPoints)
			}
		})
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, OutcomeTranscribed)
	m.RecordUtterance(ctx, OutcomeTranscribed)
	m.RecordUtterance(ctx, OutcomeNoise)
	m.RecordVoiceError(ctx, "device")
	m.RecordStatus(ctx, "listening")
	m.RecordStatus(ctx, "listening")
	m.RecordInterrupt(ctx, "user_speech")
	m.RecordProviderRequest(ctx, "whisper", "transcribe", "ok")
	m.RecordProviderError(ctx, "whisper", "transcribe")

	rm := collect(t, reader)

	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"handsfree.utterances", "outcome", OutcomeTranscribed, 2},
		{"handsfree.utterances", "outcome", OutcomeNoise, 1},
		{"handsfree.voice.errors", "kind", "device", 1},
		{"handsfree.voice.status_transitions", "status", "listening", 2},
		{"handsfree.playback.interrupts", "reason", "user_speech", 1},
		{"handsfree.provider.requests", "status", "ok", 1},
		{"handsfree.provider.errors", "provider", "whisper", 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.value, func(t *testing.T) {
			got, ok := sumFor(t, rm, tt.metric, tt.key, tt.value)
			if !ok {
				t.Fatalf("no data point with %s=%s", tt.key, tt.value)
			}
			if got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveDeviceSessions.Add(ctx, 1)
	m.ActiveDeviceSessions.Add(ctx, -1)
	m.ActiveDeviceSessions.Add(ctx, 1)
	m.HubClients.Add(ctx, 3)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"handsfree.active_device_sessions": 1,
		"handsfree.hub.clients":            3,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Fatalf("metric %q has no sum data", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
