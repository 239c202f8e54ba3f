package flashsale

import "time"

const (
	defaultCacheTTL       = 30 * time.Minute
	defaultNegativeTTL    = 2 * time.Minute
	defaultLockTTL        = 10 * time.Second
	defaultRetryInterval  = 50 * time.Millisecond
	defaultMaxRetryIntvl  = 500 * time.Millisecond
	defaultMaxRetries     = 20
	defaultLogicalTTL     = 30 * time.Minute
	defaultRebuildWorkers = 10
	defaultRebuildQueue   = 256
	defaultRebuildTimeout = 5 * time.Second

	defaultQueueCapacity  = 1 << 16
	defaultEnqueueTimeout = 50 * time.Millisecond
	defaultOrderLockTTL   = 10 * time.Second
	defaultOrderLockTries = 5
	defaultIDPrefix       = "order"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
