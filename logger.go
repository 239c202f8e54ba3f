package flashsale

// Fields are attached to a single log line. Keys used across the package:
// "key", "order", "user", "voucher", "err".
type Fields map[string]any

// Logger is the leveled sink the cache, gate and worker write to. Adapters
// for zap, logrus, slog and zerolog live under log/.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

// NopLogger discards everything. Used when Options.Logger is nil.
type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}
