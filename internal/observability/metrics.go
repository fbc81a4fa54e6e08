package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments of the admin data layer.
type Metrics struct {
	operations   metric.Int64Counter
	failures     metric.Int64Counter
	duration     metric.Float64Histogram
	searchTotals metric.Int64Histogram
	attached     metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.operations, err = meter.Int64Counter("admin.operations",
		metric.WithDescription("Number of admin operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("admin.operation.failures",
		metric.WithDescription("Number of failed admin operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("admin.operation.duration",
		metric.WithDescription("Duration of admin operations"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.searchTotals, err = meter.Int64Histogram("admin.search.total_count",
		metric.WithDescription("Total number of rows matched by searches"),
		metric.WithUnit("{row}"),
	); err != nil {
		return nil, err
	}
	if m.attached, err = meter.Int64Counter("admin.reconcile.attached",
		metric.WithDescription("Number of entities attached while reconciling graphs"),
		metric.WithUnit("{entity}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordOperation records one operation on entity and its outcome.
func (m *Metrics) RecordOperation(ctx context.Context, operation, entity string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		OperationAttrKey.String(operation),
		EntityAttrKey.String(entity),
	)
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	if err != nil {
		m.failures.Add(ctx, 1, attrs)
	}
}

// RecordSearchTotal records the total row count of a search on entity.
func (m *Metrics) RecordSearchTotal(ctx context.Context, entity string, total int64) {
	if m == nil {
		return
	}
	m.searchTotals.Record(ctx, total, metric.WithAttributes(EntityAttrKey.String(entity)))
}

// RecordAttached records how many entities a reconciliation attached.
func (m *Metrics) RecordAttached(ctx context.Context, entity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.attached.Add(ctx, int64(n), metric.WithAttributes(EntityAttrKey.String(entity)))
}
