package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/flashsale"
)

type Options struct {
	// Sampling to avoid floods during a sale; 0/1 = log all.
	SelfHealEvery  uint64
	ContendedEvery uint64
	RejectedEvery  uint64
	PersistedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	contendedCtr atomic.Uint64
	rejectedCtr  atomic.Uint64
	persistedCtr atomic.Uint64
}

var _ flashsale.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("flashsale.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) RebuildScheduled(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("flashsale.rebuild_scheduled", "key", h.redact(storageKey))
}

func (h *Hooks) RebuildDropped(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("flashsale.rebuild_dropped", "key", h.redact(storageKey))
}

func (h *Hooks) RebuildFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("flashsale.rebuild_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) LockContended(lockKey string) {
	if h.l == nil || !sample(h.opts.ContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Debug("flashsale.lock_contended", "key", h.redact(lockKey))
}

func (h *Hooks) AdmissionRejected(voucherID, userID int64, reason string) {
	if h.l == nil || !sample(h.opts.RejectedEvery, &h.rejectedCtr) {
		return
	}
	h.l.Info("flashsale.admission_rejected",
		"voucher", voucherID,
		"user", userID,
		"reason", reason)
}

func (h *Hooks) EnqueueRejected(orderID int64, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("flashsale.enqueue_rejected",
		"order", orderID,
		"err", err)
}

func (h *Hooks) ReconcileAnomaly(o flashsale.Order, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("flashsale.reconcile_anomaly",
		"order", o.ID,
		"user", o.UserID,
		"voucher", o.VoucherID,
		"err", err)
}

func (h *Hooks) OrderPersisted(o flashsale.Order) {
	if h.l == nil || !sample(h.opts.PersistedEvery, &h.persistedCtr) {
		return
	}
	h.l.Debug("flashsale.order_persisted",
		"order", o.ID,
		"voucher", o.VoucherID)
}
