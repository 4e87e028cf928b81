package metrics

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/liuscraft/orion-speak/internal/audio"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumInt(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation = %T, want Sum[int64]", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestObserverRecordsPipelineEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	obs, err := NewObserver(provider.Meter(ScopeName))
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}

	obs.RequestEnqueued(audio.SynthesisRequest{Realtime: true})
	obs.RequestEnqueued(audio.SynthesisRequest{})
	obs.RequestStale("queued")
	obs.RequestFailed(audio.FailureConnect)
	obs.AudioChunk(960)
	obs.AudioChunk(480)
	obs.SamplesPlayed(720)
	obs.Interrupted()
	obs.FirstAudio(300 * time.Millisecond)
	obs.UtteranceFinished(audio.UtteranceResult{Outcome: audio.OutcomePlayed})

	got := collect(t, reader)
	checks := map[string]int64{
		"orion_speak.requests.enqueued": 2,
		"orion_speak.requests.stale":    1,
		"orion_speak.requests.failed":   1,
		"orion_speak.audio.chunks":      2,
		"orion_speak.audio.received":    1440,
		"orion_speak.audio.played":      720,
		"orion_speak.interrupts":        1,
		"orion_speak.requests.finished": 1,
	}
	for name, want := range checks {
		data, ok := got[name]
		if !ok {
			t.Errorf("metric %s not exported", name)
			continue
		}
		if v := sumInt(t, data); v != want {
			t.Errorf("%s = %d, want %d", name, v, want)
		}
	}

	hist, ok := got["orion_speak.first_audio.latency"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("first audio histogram = %+v", got["orion_speak.first_audio.latency"])
	}
}

func TestRegisterStats(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	reg, err := RegisterStats(provider.Meter(ScopeName), func() audio.PipelineStats {
		return audio.PipelineStats{PendingRequests: 3, PlayQueueSize: 4, Generation: 7, PlaybackRate: 1.5}
	})
	if err != nil {
		t.Fatalf("RegisterStats: %v", err)
	}
	defer reg.Unregister()

	got := collect(t, reader)
	gauge, ok := got["orion_speak.generation"].(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 7 {
		t.Errorf("generation gauge = %+v", got["orion_speak.generation"])
	}
	rate, ok := got["orion_speak.playback.rate"].(metricdata.Gauge[float64])
	if !ok || len(rate.DataPoints) != 1 || rate.DataPoints[0].Value != 1.5 {
		t.Errorf("rate gauge = %+v", got["orion_speak.playback.rate"])
	}
}
