package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor monitors worker pool occupancy
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	lastPanics int64
}

// HealthStatus represents the health status of the worker pool
type HealthStatus struct {
	TotalWorkers int       `json:"total_workers"`
	IdleWorkers  int       `json:"idle_workers"`
	BusyWorkers  int       `json:"busy_workers"`
	WaitingTasks int       `json:"waiting_tasks"`
	Panics       int64     `json:"panics"`
	Healthy      bool      `json:"healthy"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.interval <= 0 {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	go h.run(h.stopCh, h.doneCh)
}

// Stop stops the health monitor and waits for the loop to exit
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	done := h.doneCh
	h.mu.Unlock()

	<-done
}

// run is the main health monitoring loop
func (h *HealthMonitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth checks pool occupancy, logs it and records metrics
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Debug("worker pool health check",
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("waiting", status.WaitingTasks),
		zap.Bool("healthy", status.Healthy))

	h.pool.metrics.RecordWorkerPoolStatus(
		status.TotalWorkers,
		status.BusyWorkers,
		status.IdleWorkers,
	)

	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("idle", status.IdleWorkers),
			zap.Int("total", status.TotalWorkers))
	}

	if status.BusyWorkers == status.TotalWorkers && status.WaitingTasks > 0 {
		h.logger.Warn("node dispatch is saturated",
			zap.Int("total", status.TotalWorkers),
			zap.Int("waiting", status.WaitingTasks))
	}

	h.mu.Lock()
	newPanics := status.Panics - h.lastPanics
	h.lastPanics = status.Panics
	h.mu.Unlock()
	if newPanics > 0 {
		h.logger.Warn("node tasks panicked since last health check",
			zap.Int64("panics", newPanics),
			zap.Int64("total_panics", status.Panics))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	s := h.pool.GetStatus()

	return &HealthStatus{
		TotalWorkers: s.Capacity,
		IdleWorkers:  s.Free,
		BusyWorkers:  s.Running,
		WaitingTasks: s.Waiting,
		Panics:       s.Panics,
		Healthy:      !s.Closed,
		Timestamp:    time.Now(),
	}
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
