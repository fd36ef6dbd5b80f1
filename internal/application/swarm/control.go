package swarm

import (
	"fmt"

	"github.com/aescanero/agentmesh/pkg/domain"
	"go.uber.org/zap"
)

// Pause holds the run before its next turn. A turn in progress finishes.
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
	o.cond.Broadcast()
	o.mu.Unlock()

	o.emit(domain.TopicWorkflow, domain.EventTypeRunPaused, nil)
	o.logger.Info("swarm run paused", zap.String("run_id", o.runID))
	return nil
}

// Resume continues the run after Pause
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
	o.cond.Broadcast()
	o.mu.Unlock()

	o.emit(domain.TopicWorkflow, domain.EventTypeRunResumed, nil)
	o.logger.Info("swarm run resumed", zap.String("run_id", o.runID))
	return nil
}

// Cancel stops the run. The turn in progress is cancelled and its output
// discarded.
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

	o.logger.Info("swarm run cancel requested", zap.String("run_id", o.runID))
	return nil
}
