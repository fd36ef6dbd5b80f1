package handoff

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Purger deletes terminal handoff records older than a cutoff
type Purger interface {
	PurgeHandoffs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically expires stale handoffs
type Sweeper struct {
	manager   *Manager
	interval  time.Duration
	logger    *zap.Logger
	purger    Purger
	retention time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(manager *Manager, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// WithPurger also removes persisted terminal handoffs past retention
func (s *Sweeper) WithPurger(p Purger, retention time.Duration) *Sweeper {
	s.purger = p
	s.retention = retention
	return s
}

// Start starts the sweep loop
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if s.interval <= 0 {
		s.logger.Warn("handoff sweeper disabled", zap.Duration("interval", s.interval))
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info("starting handoff sweeper", zap.Duration("interval", s.interval))
	go s.run(s.stopCh, s.doneCh)
}

// Stop stops the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("handoff sweeper stopped")
}

func (s *Sweeper) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.sweep(context.Background())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	s.manager.ExpireStale(ctx)

	if s.purger == nil || s.retention <= 0 {
		return
	}
	n, err := s.purger.PurgeHandoffs(ctx, s.manager.now().Add(-s.retention))
	if err != nil {
		s.logger.Error("failed to purge handoffs", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("purged handoff records", zap.Int64("count", n))
	}
}
