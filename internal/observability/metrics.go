package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal    = "infercore.requests.total"
	metricRequestDuration  = "infercore.request.duration.seconds"
	metricErrorsTotal      = "infercore.errors.total"
	metricInflightRequests = "infercore.inflight.requests"
	metricRunnerLatency    = "infercore.runner.latency.seconds"

	attrRunner = "runner"
	attrStatus = "status"

	statusError = "error"
)

// durationBucketBoundaries covers 10ms to 60s, the range a local inference
// request realistically spans (short completions through long generations).
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60}

// REDMetrics holds the RED instruments plus a per-runner latency histogram.
// The selection policy does not read these; it scores from metricsstore.
type REDMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
	runnerLatency    metric.Float64Histogram
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	reqTotal, err := mt.Int64Counter(metricRequestsTotal,
		metric.WithDescription("total number of inference requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestsTotal, err)
	}

	reqDuration, err := mt.Float64Histogram(metricRequestDuration,
		metric.WithDescription("inference request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("total number of failed inference requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightRequests,
		metric.WithDescription("number of in-flight inference requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightRequests, err)
	}

	runnerLatency, err := mt.Float64Histogram(metricRunnerLatency,
		metric.WithDescription("per-runner inference latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRunnerLatency, err)
	}

	return &REDMetrics{
		requestsTotal:    reqTotal,
		requestDuration:  reqDuration,
		errorsTotal:      errTotal,
		inflightRequests: inflight,
		runnerLatency:    runnerLatency,
	}, nil
}

// RecordRequest records one completed request.
func (rm *REDMetrics) RecordRequest(ctx context.Context, runner, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrRunner, runner),
		attribute.String(attrStatus, status),
	)
	rm.requestsTotal.Add(ctx, 1, attrs)
	rm.requestDuration.Record(ctx, duration.Seconds(), attrs)
	rm.runnerLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrRunner, runner)))

	if status == statusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrRunner, runner)))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to
// decrement it, meant to be deferred at the call site.
func (rm *REDMetrics) TrackInflight(ctx context.Context, runner string) func() {
	attrs := metric.WithAttributes(attribute.String(attrRunner, runner))
	rm.inflightRequests.Add(ctx, 1, attrs)
	return func() { rm.inflightRequests.Add(ctx, -1, attrs) }
}
