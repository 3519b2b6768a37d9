package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/objrt/pkg/symbol"
)

const (
	metricLookups   = "objrt.symbol.lookups.total"
	metricCreated   = "objrt.symbol.created.total"
	metricFreed     = "objrt.symbol.freed.total"
	metricResizes   = "objrt.symbol.resizes.total"
	metricRelocated = "objrt.symbol.relocated.total"
	metricLive      = "objrt.symbol.live"
	metricBuckets   = "objrt.symbol.buckets"
	metricBorrowed  = "objrt.symbol.borrowed"

	attrResult    = "result"
	attrDirection = "direction"
)

var (
	hitAttrs    = metric.WithAttributes(attribute.String(attrResult, "hit"))
	missAttrs   = metric.WithAttributes(attribute.String(attrResult, "miss"))
	growAttrs   = metric.WithAttributes(attribute.String(attrDirection, "grow"))
	shrinkAttrs = metric.WithAttributes(attribute.String(attrDirection, "shrink"))
)

// PoolMetrics reports symbol pool events as OTel instruments. It implements
// [symbol.Observer]; pass it to [symbol.WithObserver] and then call Watch
// with the resulting pool to publish its gauges.
type PoolMetrics struct {
	meter     metric.Meter
	lookups   metric.Int64Counter
	created   metric.Int64Counter
	freed     metric.Int64Counter
	resizes   metric.Int64Counter
	relocated metric.Int64Counter
	live      metric.Int64ObservableGauge
	buckets   metric.Int64ObservableGauge
	borrowed  metric.Int64ObservableGauge
}

var _ symbol.Observer = (*PoolMetrics)(nil)

// NewPoolMetrics creates the pool instruments on mt.
func NewPoolMetrics(mt metric.Meter) (*PoolMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PoolMetrics{
		meter:     mt,
		lookups:   b.counter(metricLookups, "Intern lookups by result", "{lookup}"),
		created:   b.counter(metricCreated, "Symbols created", "{symbol}"),
		freed:     b.counter(metricFreed, "Symbols freed", "{symbol}"),
		resizes:   b.counter(metricResizes, "Bucket array resizes by direction", "{resize}"),
		relocated: b.counter(metricRelocated, "Borrowed symbols copied into owned storage", "{symbol}"),
		live:      b.gauge(metricLive, "Live interned symbols", "{symbol}"),
		buckets:   b.gauge(metricBuckets, "Current bucket count", "{bucket}"),
		borrowed:  b.gauge(metricBorrowed, "Live symbols borrowing caller memory", "{symbol}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// Watch registers a collection callback that reports pool's gauges.
func (pm *PoolMetrics) Watch(pool *symbol.Pool) (metric.Registration, error) {
	reg, err := pm.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		stats := pool.Stats()

		obs.ObserveInt64(pm.live, int64(stats.Live))
		obs.ObserveInt64(pm.buckets, int64(stats.Buckets))
		obs.ObserveInt64(pm.borrowed, int64(stats.Borrowed))

		return nil
	}, pm.live, pm.buckets, pm.borrowed)
	if err != nil {
		return nil, fmt.Errorf("register pool metrics callback: %w", err)
	}

	return reg, nil
}

// Lookup implements [symbol.Observer].
func (pm *PoolMetrics) Lookup(hit bool) {
	if hit {
		pm.lookups.Add(context.Background(), 1, hitAttrs)

		return
	}

	pm.lookups.Add(context.Background(), 1, missAttrs)
}

// Created implements [symbol.Observer].
func (pm *PoolMetrics) Created(*symbol.Symbol) {
	pm.created.Add(context.Background(), 1)
}

// Freed implements [symbol.Observer].
func (pm *PoolMetrics) Freed(*symbol.Symbol) {
	pm.freed.Add(context.Background(), 1)
}

// Resized implements [symbol.Observer].
func (pm *PoolMetrics) Resized(grow bool, _, _ int) {
	if grow {
		pm.resizes.Add(context.Background(), 1, growAttrs)

		return
	}

	pm.resizes.Add(context.Background(), 1, shrinkAttrs)
}

// Relocated implements [symbol.Observer].
func (pm *PoolMetrics) Relocated(count int) {
	pm.relocated.Add(context.Background(), int64(count))
}
