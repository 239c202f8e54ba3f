package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/flashsale"
)

func newBuf() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestSampling(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{RejectedEvery: 3})
	for i := 0; i < 9; i++ {
		h.AdmissionRejected(7, int64(i), "sold_out")
	}
	if n := strings.Count(buf.String(), "flashsale.admission_rejected"); n != 3 {
		t.Fatalf("sampled lines: got %d want 3", n)
	}
}

func TestRedactsKeys(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{})
	h.SelfHeal("cache:shop:1", "corrupt")
	if strings.Contains(buf.String(), "cache:shop:1") {
		t.Fatalf("raw key leaked: %s", buf.String())
	}

	buf.Reset()
	h = New(l, Options{Redact: func(s string) string { return "K" }})
	h.RebuildDropped("cache:shop:1")
	if !strings.Contains(buf.String(), "key=K") {
		t.Fatalf("custom redactor not used: %s", buf.String())
	}
}

func TestAnomalyLoggedAtError(t *testing.T) {
	buf, l := newBuf()
	New(l, Options{}).ReconcileAnomaly(flashsale.Order{ID: 1, UserID: 2, VoucherID: 3}, errors.New("stock guard"))
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "order=1") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.SelfHeal("k", "corrupt")
	h.OrderPersisted(flashsale.Order{})
	h.EnqueueRejected(1, errors.New("full"))
}
