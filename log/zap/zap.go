package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/flashsale"
)

var _ flashsale.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New builds a production JSON logger at level ("debug", "info", "warn", "error").
func New(level string) (ZapLogger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return ZapLogger{}, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	l, err := cfg.Build()
	if err != nil {
		return ZapLogger{}, err
	}
	return ZapLogger{L: l}, nil
}

func (z ZapLogger) Debug(msg string, f flashsale.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f flashsale.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f flashsale.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f flashsale.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f flashsale.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	ks := make([]string, 0, len(f))
	for k := range f {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	out := make([]zap.Field, 0, len(f))
	for _, k := range ks {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
