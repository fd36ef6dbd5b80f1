package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aescanero/agentmesh/pkg/ports"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const defaultReleaseTimeout = 30 * time.Second

// Pool runs orchestration tasks on a bounded set of goroutines
type Pool struct {
	size    int
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	pool      *ants.Pool
	submitted atomic.Int64
	panics    atomic.Int64
}

// PoolStatus is a point-in-time view of pool occupancy
type PoolStatus struct {
	Capacity  int   `json:"capacity"`
	Running   int   `json:"running"`
	Free      int   `json:"free"`
	Waiting   int   `json:"waiting"`
	Submitted int64 `json:"submitted"`
	Panics    int64 `json:"panics"`
	Closed    bool  `json:"closed"`
}

// NewPool creates a worker pool of the given size
func NewPool(
	size int,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", size)
	}
	if metrics == nil {
		metrics = ports.NopMetricsCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		size:    size,
		metrics: metrics,
		logger:  logger,
	}

	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(r any) {
		p.panics.Add(1)
		p.logger.Error("worker task panicked", zap.Any("panic", r))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.pool = pool
	p.health = NewHealthMonitor(p, healthCheckInterval, logger)

	return p, nil
}

// Start starts the health monitor
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))
	p.health.Start()
	return nil
}

// Submit queues task, blocking while every worker is busy
func (p *Pool) Submit(task func()) error {
	if err := p.pool.Submit(task); err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}
	p.submitted.Add(1)
	return nil
}

// Shutdown stops accepting tasks and waits for running ones until ctx ends
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	timeout := defaultReleaseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		p.pool.Release()
		return fmt.Errorf("shutdown timeout")
	}
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("failed to release worker pool: %w", err)
	}

	p.logger.Info("worker pool shut down complete",
		zap.Int64("submitted", p.submitted.Load()))
	return nil
}

// GetStatus returns the pool occupancy
func (p *Pool) GetStatus() PoolStatus {
	return PoolStatus{
		Capacity:  p.pool.Cap(),
		Running:   p.pool.Running(),
		Free:      p.pool.Free(),
		Waiting:   p.pool.Waiting(),
		Submitted: p.submitted.Load(),
		Panics:    p.panics.Load(),
		Closed:    p.pool.IsClosed(),
	}
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}
