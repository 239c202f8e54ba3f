package otelhooks

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/unkn0wn-root/flashsale"
)

func TestHooksRecordWithoutPanics(t *testing.T) {
	h, err := New(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	var _ flashsale.Hooks = h

	h.SelfHeal("cache:shop:1", "corrupt")
	h.RebuildScheduled("cache:shop:1")
	h.RebuildDropped("cache:shop:1")
	h.RebuildFailed("cache:shop:1", errors.New("db"))
	h.LockContended("lock:shop:1")
	h.AdmissionRejected(7, 1, "sold_out")
	h.EnqueueRejected(1, flashsale.ErrQueueClosed)
	h.ReconcileAnomaly(flashsale.Order{ID: 1}, flashsale.ErrStockGuard)
	h.OrderPersisted(flashsale.Order{ID: 1, VoucherID: 7})
}

func TestNewDefaultsToGlobalProvider(t *testing.T) {
	if _, err := New(nil); err != nil {
		t.Fatal(err)
	}
}
