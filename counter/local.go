package counter

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	N         int64
	UpdatedAt time.Time
}

// Local keeps counters in-process.
// Optional cleanup loop prunes keys idle past retention, which is how daily
// sequence keys from previous days go away.
type Local struct {
	mu       sync.Mutex
	counters map[string]localEntry
	ticker   *time.Ticker
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

var _ Counter = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{counters: make(map[string]localEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Incr(_ context.Context, key string) (int64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.counters[key]
	e.N++
	e.UpdatedAt = now
	s.counters[key] = e
	s.mu.Unlock()
	return e.N, nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.counters {
		if e.UpdatedAt.Before(cutoff) {
			delete(s.counters, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}
