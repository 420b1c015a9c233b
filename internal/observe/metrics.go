// Package observe holds the service's OpenTelemetry instruments and provider
// setup. Metrics are exported to Prometheus; tests should build Metrics with
// NewMetrics over a ManualReader-backed provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/book-expert/musicgen-service"

// Metrics holds every instrument the service records. Safe for concurrent use.
type Metrics struct {
	// JobsSubmitted counts accepted submissions.
	JobsSubmitted metric.Int64Counter

	// JobsFinished counts terminal jobs. Attribute: status (complete|failed).
	JobsFinished metric.Int64Counter

	// JobsActive tracks jobs that hold a worker slot.
	JobsActive metric.Int64UpDownCounter

	// JobsQueued tracks jobs waiting for a worker slot.
	JobsQueued metric.Int64UpDownCounter

	// JobDuration tracks wall time from submission to terminal state.
	JobDuration metric.Float64Histogram

	// GenerationDuration tracks time spent inside the model.
	GenerationDuration metric.Float64Histogram

	// HTTPRequestDuration tracks façade latency. Attributes: method, route, code.
	HTTPRequestDuration metric.Float64Histogram
}

// generationBuckets are in seconds and span a few seconds to a few minutes.
var generationBuckets = []float64{
	1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	var err error

	if met.JobsSubmitted, err = m.Int64Counter("musicgen.jobs.submitted",
		metric.WithDescription("Total accepted generation jobs."),
	); err != nil {
		return nil, err
	}

	if met.JobsFinished, err = m.Int64Counter("musicgen.jobs.finished",
		metric.WithDescription("Total jobs that reached a terminal state, by status."),
	); err != nil {
		return nil, err
	}

	if met.JobsActive, err = m.Int64UpDownCounter("musicgen.jobs.active",
		metric.WithDescription("Number of jobs currently running."),
	); err != nil {
		return nil, err
	}

	if met.JobsQueued, err = m.Int64UpDownCounter("musicgen.jobs.queued",
		metric.WithDescription("Number of jobs waiting for a worker slot."),
	); err != nil {
		return nil, err
	}

	if met.JobDuration, err = m.Float64Histogram("musicgen.job.duration",
		metric.WithDescription("Time from submission to terminal state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(generationBuckets...),
	); err != nil {
		return nil, err
	}

	if met.GenerationDuration, err = m.Float64Histogram("musicgen.generation.duration",
		metric.WithDescription("Time spent in the generative model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(generationBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("musicgen.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status code."),
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

// DefaultMetrics returns a process-wide Metrics built on the global
// MeterProvider. It panics if instrument creation fails.
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

// RecordFinished records a terminal job with its status and total duration.
func (m *Metrics) RecordFinished(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.JobsFinished.Add(ctx, 1, attrs)
	m.JobDuration.Record(ctx, seconds, attrs)
}
