package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/unkn0wn-root/flashsale"
)

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "info")
	if err != nil {
		t.Fatal(err)
	}

	l.Debug("dropped", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug must be filtered at info: %s", buf.String())
	}
	l.Warn("journal ack failed", flashsale.Fields{"order": 3, "err": errors.New("timeout")})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json: %v (%s)", err, buf.String())
	}
	if rec["level"] != "warn" || rec["message"] != "journal ack failed" || rec["order"] != float64(3) || rec["err"] != "timeout" {
		t.Fatalf("record: %v", rec)
	}
}

func TestZerologBadLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "shout"); err == nil {
		t.Fatalf("expected error")
	}
}
