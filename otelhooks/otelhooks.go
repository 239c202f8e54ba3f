// Package otelhooks exports flashsale hook events as OpenTelemetry counters.
package otelhooks

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/unkn0wn-root/flashsale"
)

const instrumentation = "github.com/unkn0wn-root/flashsale"

type Hooks struct {
	selfHeal  metric.Int64Counter
	rebuilds  metric.Int64Counter
	contended metric.Int64Counter
	rejected  metric.Int64Counter
	enqueue   metric.Int64Counter
	anomalies metric.Int64Counter
	persisted metric.Int64Counter
}

var _ flashsale.Hooks = (*Hooks)(nil)

// New registers the counters on mp (nil => the global provider).
func New(mp metric.MeterProvider) (*Hooks, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(instrumentation)

	var h Hooks
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{events}"))
		errs = append(errs, err)
		return c
	}
	h.selfHeal = counter("flashsale.cache.self_heal", "cache entries deleted on read")
	h.rebuilds = counter("flashsale.cache.rebuilds", "logical-expiry rebuilds by outcome")
	h.contended = counter("flashsale.lock.contended", "lock acquisitions lost to another holder")
	h.rejected = counter("flashsale.admission.rejected", "admission rejections by reason")
	h.enqueue = counter("flashsale.queue.rejected", "admitted orders not handed to the worker")
	h.anomalies = counter("flashsale.orders.anomalies", "orders refused by the store after admission")
	h.persisted = counter("flashsale.orders.persisted", "orders committed")
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &h, nil
}

var bg = context.Background()

func reason(r string) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", r))
}

func (h *Hooks) SelfHeal(_, r string)        { h.selfHeal.Add(bg, 1, reason(r)) }
func (h *Hooks) RebuildScheduled(string)     { h.rebuilds.Add(bg, 1, reason("scheduled")) }
func (h *Hooks) RebuildDropped(string)       { h.rebuilds.Add(bg, 1, reason("dropped")) }
func (h *Hooks) RebuildFailed(string, error) { h.rebuilds.Add(bg, 1, reason("failed")) }
func (h *Hooks) LockContended(string)        { h.contended.Add(bg, 1) }
func (h *Hooks) AdmissionRejected(voucherID, _ int64, r string) {
	h.rejected.Add(bg, 1, metric.WithAttributes(
		attribute.String("reason", r),
		attribute.Int64("voucher", voucherID),
	))
}
func (h *Hooks) EnqueueRejected(_ int64, err error) {
	r := "full"
	if errors.Is(err, flashsale.ErrQueueClosed) {
		r = "closed"
	}
	h.enqueue.Add(bg, 1, reason(r))
}
func (h *Hooks) ReconcileAnomaly(_ flashsale.Order, err error) {
	r := "other"
	switch {
	case errors.Is(err, flashsale.ErrOrderExists):
		r = "order_exists"
	case errors.Is(err, flashsale.ErrStockGuard):
		r = "stock_guard"
	}
	h.anomalies.Add(bg, 1, reason(r))
}
func (h *Hooks) OrderPersisted(o flashsale.Order) {
	h.persisted.Add(bg, 1, metric.WithAttributes(attribute.Int64("voucher", o.VoucherID)))
}
