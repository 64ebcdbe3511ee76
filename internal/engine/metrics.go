package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gosuda/tether/internal/domain"
)

const instrumentationName = "github.com/gosuda/tether/internal/engine"

type metrics struct {
	evaluations metric.Int64Counter
	revocations metric.Int64Counter
	conflicts   metric.Int64Counter
	duration    metric.Float64Histogram
}

// newMetrics registers instruments on the global meter provider. Without an
// installed provider they are no-ops.
func newMetrics() (*metrics, error) {
	meter := otel.Meter(instrumentationName)

	var (
		m   metrics
		err error
	)
	m.evaluations, err = meter.Int64Counter("tether.evaluations.total",
		metric.WithDescription("Recorded evaluations by result"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}
	m.revocations, err = meter.Int64Counter("tether.revocations.total",
		metric.WithDescription("Policy status transitions to a terminal status"),
		metric.WithUnit("{policy}"),
	)
	if err != nil {
		return nil, err
	}
	m.conflicts, err = meter.Int64Counter("tether.lock.conflicts.total",
		metric.WithDescription("Evaluations rejected because the policy lock was not acquired"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}
	m.duration, err = meter.Float64Histogram("tether.evaluation.duration",
		metric.WithDescription("Time from proposal to commit"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) recorded(ctx context.Context, l *domain.ExecutionLog, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("result", string(l.Result)),
		attribute.String("action_type", string(l.ActionType)),
	)
	m.evaluations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, took.Seconds(), attrs)
}

func (m *metrics) revoked(ctx context.Context, status domain.PolicyStatus) {
	m.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *metrics) conflict(ctx context.Context) {
	m.conflicts.Add(ctx, 1)
}
