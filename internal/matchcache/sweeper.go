package matchcache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper periodically evicts expired entries from a Cache.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	log      *slog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  uint32
	stopped  uint32
}

func NewSweeper(cache *Cache, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		cache:    cache,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling it twice is a no-op.
func (s *Sweeper) Start() {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return
	}
	s.log.Info("match cache sweeper started", "interval", s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

// Stop ends the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
	s.log.Info("match cache sweeper stopped")
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.cache.Sweep(); n > 0 {
				s.log.Debug("swept expired match caches", "removed", n, "live", s.cache.Len())
			}
		case <-s.stopChan:
			return
		}
	}
}
