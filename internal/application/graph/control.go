package graph

import (
	"fmt"

	"github.com/aescanero/agentmesh/pkg/domain"
	"go.uber.org/zap"
)

// Pause stops dispatching new nodes. Running nodes finish normally.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	if o.status != domain.RunStatusRunning && o.status != domain.RunStatusPending {
		status := o.status
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot pause run in status %s", domain.ErrInvalidState, status)
	}
	if o.cancelRequested {
		o.mu.Unlock()
		return fmt.Errorf("%w: run is being cancelled", domain.ErrInvalidState)
	}
	o.paused = true
	o.status = domain.RunStatusPaused
	o.emitLocked(domain.EventTypeRunPaused, "", nil)
	events := o.drainOutboxLocked()
	o.cond.Broadcast()
	o.mu.Unlock()

	o.publish(events)
	o.logger.Info("graph run paused", zap.String("run_id", o.runID))
	return nil
}

// Resume continues dispatching after Pause
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if o.status != domain.RunStatusPaused {
		status := o.status
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot resume run in status %s", domain.ErrInvalidState, status)
	}
	o.paused = false
	if o.started {
		o.status = domain.RunStatusRunning
	} else {
		o.status = domain.RunStatusPending
	}
	o.emitLocked(domain.EventTypeRunResumed, "", nil)
	events := o.drainOutboxLocked()
	o.cond.Broadcast()
	o.mu.Unlock()

	o.publish(events)
	o.logger.Info("graph run resumed", zap.String("run_id", o.runID))
	return nil
}

// Cancel stops the run. In-flight nodes are cancelled and awaited, and
// their results are discarded.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status.IsTerminal() {
		return fmt.Errorf("%w: run already %s", domain.ErrInvalidState, o.status)
	}
	if o.cancelRequested {
		return fmt.Errorf("%w: run is already being cancelled", domain.ErrInvalidState)
	}
	o.cancelRequested = true
	if o.runCancel != nil {
		o.runCancel()
	}
	o.cond.Broadcast()

	o.logger.Info("graph run cancel requested", zap.String("run_id", o.runID))
	return nil
}
