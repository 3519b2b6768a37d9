package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricOpsTotal    = "objrt.ops.total"
	metricOpDuration  = "objrt.op.duration.seconds"
	metricErrorsTotal = "objrt.errors.total"
	metricInflightOps = "objrt.inflight.ops"

	attrOp     = "op"
	attrStatus = "status"

	// StatusOK labels a successful operation.
	StatusOK = "ok"
	// StatusError labels a failed operation.
	StatusError = "error"
)

// opBucketBoundaries covers 1µs to 1s; pool operations are usually well
// under a millisecond and a serializer pass over a large graph can reach
// hundreds of milliseconds.
var opBucketBoundaries = []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 0.01, 0.05, 0.1, 0.5, 1}

// OpMetrics records rate, errors and duration per operation.
type OpMetrics struct {
	opsTotal    metric.Int64Counter
	opDuration  metric.Float64Histogram
	errorsTotal metric.Int64Counter
	inflightOps metric.Int64UpDownCounter
}

// NewOpMetrics creates the operation instruments on mt.
func NewOpMetrics(mt metric.Meter) (*OpMetrics, error) {
	b := newMetricBuilder(mt)

	om := &OpMetrics{
		opsTotal:    b.counter(metricOpsTotal, "Operations executed", "{op}"),
		opDuration:  b.histogram(metricOpDuration, "Operation duration", "s", opBucketBoundaries...),
		errorsTotal: b.counter(metricErrorsTotal, "Failed operations", "{error}"),
		inflightOps: b.upDownCounter(metricInflightOps, "Operations in flight", "{op}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return om, nil
}

// Record records one completed operation.
func (om *OpMetrics) Record(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	om.opsTotal.Add(ctx, 1, attrs)
	om.opDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		om.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOp, op)))
	}
}

// Track marks op in flight and returns a function that records its outcome.
func (om *OpMetrics) Track(ctx context.Context, op string) func(err error) {
	start := time.Now()
	inflight := metric.WithAttributes(attribute.String(attrOp, op))
	om.inflightOps.Add(ctx, 1, inflight)

	return func(err error) {
		om.inflightOps.Add(ctx, -1, inflight)

		status := StatusOK
		if err != nil {
			status = StatusError
		}

		om.Record(ctx, op, status, time.Since(start))
	}
}
