// Package telemetry wires the VAD Engine and Transcription Worker
// statistics (spec §4.D, §4.F) into OpenTelemetry instruments exposed via
// a Prometheus scrape endpoint. It is a side channel: components keep
// their own authoritative in-memory statistics (see vad.EngineStats,
// transcription.WorkerStats) and additionally report into this package.
package telemetry

import (
	"context"
	"errors"

	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voxcore/voxcore/pkg/vad"
)

// Metrics holds the instruments shared by the VAD and transcription
// packages. Grounded on
// MrWong99-glyphoxa/internal/observe/metrics.go's instrument-struct
// pattern; trimmed to the counters/histograms this spec actually needs.
type Metrics struct {
	vadChunksTotal      metric.Int64Counter
	vadMLSuccessTotal   metric.Int64Counter
	vadFallbackTotal    metric.Int64Counter
	vadProcessingTime   metric.Float64Histogram
	vadProbability      metric.Float64Histogram

	workerQueueDepth    metric.Int64UpDownCounter
	workerLatency       metric.Float64Histogram
	workerResultsTotal  metric.Int64Counter
	workerBreakerTrips  metric.Int64Counter
}

// NewMetrics builds a Metrics bound to mp's meter named "voxcore".
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("voxcore")

	var m Metrics
	var err error

	if m.vadChunksTotal, err = meter.Int64Counter("voxcore.vad.chunks_total"); err != nil {
		return nil, err
	}
	if m.vadMLSuccessTotal, err = meter.Int64Counter("voxcore.vad.ml_success_total"); err != nil {
		return nil, err
	}
	if m.vadFallbackTotal, err = meter.Int64Counter("voxcore.vad.energy_fallback_total"); err != nil {
		return nil, err
	}
	if m.vadProcessingTime, err = meter.Float64Histogram("voxcore.vad.processing_time_ms"); err != nil {
		return nil, err
	}
	if m.vadProbability, err = meter.Float64Histogram("voxcore.vad.probability"); err != nil {
		return nil, err
	}
	if m.workerQueueDepth, err = meter.Int64UpDownCounter("voxcore.transcription.queue_depth"); err != nil {
		return nil, err
	}
	if m.workerLatency, err = meter.Float64Histogram("voxcore.transcription.latency_ms"); err != nil {
		return nil, err
	}
	if m.workerResultsTotal, err = meter.Int64Counter("voxcore.transcription.results_total"); err != nil {
		return nil, err
	}
	if m.workerBreakerTrips, err = meter.Int64Counter("voxcore.transcription.breaker_trips_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordVADProcessing satisfies vad.StatsRecorder.
func (m *Metrics) RecordVADProcessing(mode vad.Mode, tookMs float64, probability float64, mlSuccess, fellBack bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.vadChunksTotal.Add(ctx, 1)
	m.vadProcessingTime.Record(ctx, tookMs)
	m.vadProbability.Record(ctx, probability)
	if mlSuccess {
		m.vadMLSuccessTotal.Add(ctx, 1)
	}
	if fellBack {
		m.vadFallbackTotal.Add(ctx, 1)
	}
}

// QueueDepthDelta adjusts the transcription worker queue-depth gauge.
func (m *Metrics) QueueDepthDelta(delta int64) {
	if m == nil {
		return
	}
	m.workerQueueDepth.Add(context.Background(), delta)
}

// RecordResult records one transcription result's end-to-end latency.
func (m *Metrics) RecordResult(latencyMs float64) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.workerLatency.Record(ctx, latencyMs)
	m.workerResultsTotal.Add(ctx, 1)
}

// RecordBreakerTrip increments the circuit-breaker trip counter.
func (m *Metrics) RecordBreakerTrip() {
	if m == nil {
		return
	}
	m.workerBreakerTrips.Add(context.Background(), 1)
}

// InitProvider wires an SDK MeterProvider with a Prometheus exporter so
// /metrics can be scraped. Adapted from
// MrWong99-glyphoxa/internal/observe/provider.go's InitProvider — only the
// metrics half; this repository has no tracing requirement, so the
// trace-provider wiring from that file is not carried over.
func InitProvider() (mp *sdkmetric.MeterProvider, shutdown func(context.Context) error, err error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}
	mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	shutdown = func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx))
	}
	return mp, shutdown, nil
}
