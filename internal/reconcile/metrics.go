package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/xenking/storefront-pricing/internal/reconcile"

// Metrics holds the reconcile instruments.
type Metrics struct {
	variationsReset metric.Int64Counter
	discountsSynced metric.Int64Counter
	failures        metric.Int64Counter
	duration        metric.Float64Histogram
}

// NewMetrics registers the reconcile instruments. A nil provider records
// nothing.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(meterName)

	variationsReset, err := meter.Int64Counter("pricing.reconcile.variations_reset",
		metric.WithDescription("Variations whose stale discount price was reconciled"))
	if err != nil {
		return nil, errors.Wrap(err, "variations_reset counter")
	}
	discountsSynced, err := meter.Int64Counter("pricing.reconcile.discounts_synced",
		metric.WithDescription("Newly valid discounts applied to their variations"))
	if err != nil {
		return nil, errors.Wrap(err, "discounts_synced counter")
	}
	failures, err := meter.Int64Counter("pricing.reconcile.failures",
		metric.WithDescription("Reconcile items that failed"))
	if err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	duration, err := meter.Float64Histogram("pricing.reconcile.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of a reconcile run"))
	if err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}

	return &Metrics{
		variationsReset: variationsReset,
		discountsSynced: discountsSynced,
		failures:        failures,
		duration:        duration,
	}, nil
}

func (m *Metrics) recordReset(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.variationsReset.Add(ctx, int64(n))
}

func (m *Metrics) recordSynced(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.discountsSynced.Add(ctx, int64(n))
}

func (m *Metrics) recordFailure(ctx context.Context, sweep string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("sweep", sweep)))
}

func (m *Metrics) observeDuration(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("failed", err != nil)))
}
