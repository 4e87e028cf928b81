// Package metrics 把 TTS 管道的事件导出为 OpenTelemetry 指标
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/logging"
)

const ScopeName = "github.com/liuscraft/orion-speak/audio"

// NewPrometheusProvider 创建带 prometheus exporter 的 MeterProvider，返回 /metrics handler
func NewPrometheusProvider(ctx context.Context, serviceName string) (*sdkmetric.MeterProvider, http.Handler, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics resource: %w", err)
	}
	exporter, err := prometheus.New()
	if err != nil {
		logging.Warnf("metrics: prometheus exporter unavailable: %v", err)
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil, nil
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return provider, promhttp.Handler(), nil
}

// Observer 实现 audio.PipelineObserver
type Observer struct {
	enqueued   metric.Int64Counter
	stale      metric.Int64Counter
	failures   metric.Int64Counter
	chunks     metric.Int64Counter
	chunkBytes metric.Int64Counter
	samples    metric.Int64Counter
	interrupts metric.Int64Counter
	finished   metric.Int64Counter
	firstAudio metric.Float64Histogram
}

var _ audio.PipelineObserver = (*Observer)(nil)

func NewObserver(meter metric.Meter) (*Observer, error) {
	o := &Observer{}
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&o.enqueued, "orion_speak.requests.enqueued", "Synthesis requests accepted", "{request}"},
		{&o.stale, "orion_speak.requests.stale", "Requests abandoned after an interrupt, stop or shutdown", "{request}"},
		{&o.failures, "orion_speak.requests.failed", "Requests that failed to synthesize", "{request}"},
		{&o.chunks, "orion_speak.audio.chunks", "Audio chunks received from the synthesis service", "{chunk}"},
		{&o.chunkBytes, "orion_speak.audio.received", "PCM bytes received from the synthesis service", "By"},
		{&o.samples, "orion_speak.audio.played", "Samples written to the playback sink", "{sample}"},
		{&o.interrupts, "orion_speak.interrupts", "Interrupts issued", "{interrupt}"},
		{&o.finished, "orion_speak.requests.finished", "Requests that reached a terminal outcome", "{request}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
	}

	o.firstAudio, err = meter.Float64Histogram("orion_speak.first_audio.latency",
		metric.WithDescription("Time from enqueue to the first sample reaching the sink"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("histogram: %w", err)
	}
	return o, nil
}

func (o *Observer) RequestEnqueued(req audio.SynthesisRequest) {
	o.enqueued.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("realtime", req.Realtime)))
}

func (o *Observer) RequestStale(stage string) {
	o.stale.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (o *Observer) RequestFailed(reason audio.FailureReason) {
	o.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (o *Observer) AudioChunk(bytes int) {
	ctx := context.Background()
	o.chunks.Add(ctx, 1)
	o.chunkBytes.Add(ctx, int64(bytes))
}

func (o *Observer) FirstAudio(latency time.Duration) {
	o.firstAudio.Record(context.Background(), latency.Seconds())
}

func (o *Observer) SamplesPlayed(n int) {
	o.samples.Add(context.Background(), int64(n))
}

func (o *Observer) Interrupted() {
	o.interrupts.Add(context.Background(), 1)
}

func (o *Observer) UtteranceFinished(res audio.UtteranceResult) {
	o.finished.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", res.Outcome.String())))
}

// RegisterStats 以异步 gauge 暴露队列深度、代数与播放倍速
func RegisterStats(meter metric.Meter, stats func() audio.PipelineStats) (metric.Registration, error) {
	pending, err := meter.Int64ObservableGauge("orion_speak.queue.pending",
		metric.WithDescription("Requests waiting for a socket worker"))
	if err != nil {
		return nil, err
	}
	playQueue, err := meter.Int64ObservableGauge("orion_speak.queue.playback",
		metric.WithDescription("Requests waiting for the player"))
	if err != nil {
		return nil, err
	}
	generation, err := meter.Int64ObservableGauge("orion_speak.generation",
		metric.WithDescription("Current interrupt generation"))
	if err != nil {
		return nil, err
	}
	rate, err := meter.Float64ObservableGauge("orion_speak.playback.rate",
		metric.WithDescription("Live playback rate for realtime requests"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		s := stats()
		obs.ObserveInt64(pending, int64(s.PendingRequests))
		obs.ObserveInt64(playQueue, int64(s.PlayQueueSize))
		obs.ObserveInt64(generation, int64(s.Generation))
		obs.ObserveFloat64(rate, s.PlaybackRate)
		return nil
	}, pending, playQueue, generation, rate)
}
