package handoff

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemActor is recorded in the audit trail for transitions nobody requested
const SystemActor = "system"

// InitiateRequest holds the parameters of a new handoff
type InitiateRequest struct {
	ConversationID string
	FromAgent      string
	ToAgent        string
	Reason         domain.HandoffReason
	Message        string
	Context        map[string]any
	Priority       int
	TTL            time.Duration
}

// entry guards a single handoff
type entry struct {
	mu   sync.Mutex
	h    *domain.Handoff
	seq  uint64
	done chan struct{}

	// outbox holds transitions not yet persisted and published, oldest
	// first. Only the goroutine that set draining works through it.
	outbox   []*domain.Handoff
	draining bool
}

type pairKey struct {
	conversation string
	toAgent      string
}

// Manager owns every handoff and enforces its state machine
type Manager struct {
	registry ports.AgentRegistry
	store    ports.HandoffStore
	eventBus ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	now      func() time.Time

	// mu guards the indexes below. It is always taken before an entry lock.
	mu      sync.RWMutex
	entries map[string]*entry
	pending map[pairKey]string
	nextSeq uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithStore persists every transition
func WithStore(s ports.HandoffStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithEventBus publishes every transition
func WithEventBus(b ports.EventBus) Option {
	return func(m *Manager) { m.eventBus = b }
}

// WithMetrics records every transition
func WithMetrics(c ports.MetricsCollector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a handoff manager validating agents against registry
func NewManager(registry ports.AgentRegistry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		metrics:  ports.NopMetricsCollector{},
		logger:   zap.NewNop(),
		now:      time.Now,
		entries:  make(map[string]*entry),
		pending:  make(map[pairKey]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initiate proposes a new handoff
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (*domain.Handoff, error) {
	if req.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", domain.ErrInvalidParameter)
	}
	if req.FromAgent == req.ToAgent {
		return nil, fmt.Errorf("%w: agent %s cannot hand off to itself", domain.ErrInvalidParameter, req.FromAgent)
	}
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("%w: unknown reason %q", domain.ErrInvalidParameter, req.Reason)
	}
	if req.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must not be negative", domain.ErrInvalidParameter)
	}
	for _, agentID := range []string{req.FromAgent, req.ToAgent} {
		if _, err := m.registry.GetAgent(ctx, agentID); err != nil {
			return nil, fmt.Errorf("failed to resolve agent %s: %w", agentID, err)
		}
	}

	key := pairKey{conversation: req.ConversationID, toAgent: req.ToAgent}

	m.mu.Lock()
	var expired *entry
	if id, ok := m.pending[key]; ok {
		existing := m.entries[id]
		existing.mu.Lock()
		switch {
		case existing.h.Status != domain.HandoffStatusPending:
			// Stale index entry, the responder has not cleaned it up yet.
		case m.isExpired(existing.h):
			m.transitionLocked(existing, domain.HandoffStatusExpired, SystemActor, "expired before response")
			expired = existing
		default:
			existing.mu.Unlock()
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: handoff %s to %s is already pending in conversation %s",
				domain.ErrConflict, id, req.ToAgent, req.ConversationID)
		}
		existing.mu.Unlock()
		delete(m.pending, key)
	}

	now := m.now()
	h := &domain.Handoff{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		FromAgent:      req.FromAgent,
		ToAgent:        req.ToAgent,
		Reason:         req.Reason,
		Message:        req.Message,
		Context:        copyContext(req.Context),
		Priority:       req.Priority,
		Status:         domain.HandoffStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(req.TTL),
	}
	h.Audit = []domain.AuditEntry{{
		Sequence:  1,
		Actor:     req.FromAgent,
		To:        domain.HandoffStatusPending,
		Reason:    string(req.Reason),
		Timestamp: now,
	}}

	m.nextSeq++
	created := h.Clone()
	e := &entry{h: h, seq: m.nextSeq, done: make(chan struct{}), outbox: []*domain.Handoff{created.Clone()}}
	m.entries[h.ID] = e
	m.pending[key] = h.ID
	m.mu.Unlock()

	if expired != nil {
		m.flush(ctx, expired)
	}
	m.flush(ctx, e)

	m.logger.Info("handoff initiated",
		zap.String("handoff_id", created.ID),
		zap.String("conversation_id", created.ConversationID),
		zap.String("from_agent", created.FromAgent),
		zap.String("to_agent", created.ToAgent),
		zap.String("reason", string(created.Reason)),
		zap.Duration("ttl", req.TTL))

	return created, nil
}

// Respond accepts or rejects a pending handoff on behalf of its target.
// A handoff past its deadline is expired and the call fails.
func (m *Manager) Respond(ctx context.Context, id, agentID string, accepted bool, message string) (*domain.Handoff, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.h.Status != domain.HandoffStatusPending {
		status := e.h.Status
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: handoff %s is %s", domain.ErrInvalidState, id, status)
	}
	if e.h.ToAgent != agentID {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: agent %s is not the target of handoff %s", domain.ErrInvalidState, agentID, id)
	}
	if m.isExpired(e.h) {
		m.transitionLocked(e, domain.HandoffStatusExpired, SystemActor, "expired before response")
		snapshot := e.h.Clone()
		e.mu.Unlock()

		m.release(snapshot)
		m.flush(ctx, e)
		return nil, fmt.Errorf("%w: handoff %s expired at %s", domain.ErrInvalidState, id, snapshot.ExpiresAt.Format(time.RFC3339Nano))
	}

	to := domain.HandoffStatusRejected
	if accepted {
		to = domain.HandoffStatusAccepted
	}
	now := m.now()
	e.h.RespondedAt = &now
	e.h.ResponseMessage = message
	m.transitionLocked(e, to, agentID, message)
	snapshot := e.h.Clone()
	e.mu.Unlock()

	m.release(snapshot)
	m.flush(ctx, e)

	m.logger.Info("handoff responded",
		zap.String("handoff_id", id),
		zap.String("agent_id", agentID),
		zap.String("status", string(to)))

	return snapshot, nil
}

// Cancel withdraws a pending handoff on behalf of its initiator
func (m *Manager) Cancel(ctx context.Context, id, agentID, reason string) (*domain.Handoff, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.h.Status != domain.HandoffStatusPending {
		status := e.h.Status
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: handoff %s is %s", domain.ErrInvalidState, id, status)
	}
	if e.h.FromAgent != agentID {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: agent %s did not initiate handoff %s", domain.ErrInvalidState, agentID, id)
	}
	if m.isExpired(e.h) {
		m.transitionLocked(e, domain.HandoffStatusExpired, SystemActor, "expired before cancellation")
		snapshot := e.h.Clone()
		e.mu.Unlock()

		m.release(snapshot)
		m.flush(ctx, e)
		return nil, fmt.Errorf("%w: handoff %s already expired", domain.ErrInvalidState, id)
	}

	m.transitionLocked(e, domain.HandoffStatusCancelled, agentID, reason)
	snapshot := e.h.Clone()
	e.mu.Unlock()

	m.release(snapshot)
	m.flush(ctx, e)

	m.logger.Info("handoff cancelled",
		zap.String("handoff_id", id),
		zap.String("agent_id", agentID))

	return snapshot, nil
}

// Get returns a copy of the handoff
func (m *Manager) Get(id string) (*domain.Handoff, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.h.Clone(), nil
}

// Await blocks until the handoff is terminal. It expires the handoff
// itself once its deadline passes.
func (m *Manager) Await(ctx context.Context, id string) (*domain.Handoff, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	for {
		e.mu.Lock()
		if e.h.Status.IsTerminal() {
			snapshot := e.h.Clone()
			e.mu.Unlock()
			return snapshot, nil
		}
		wait := e.h.ExpiresAt.Sub(m.now())
		e.mu.Unlock()

		if wait <= 0 {
			m.expireEntry(ctx, e)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-e.done:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// GetPending returns non-expired pending handoffs targeting agentID,
// highest priority first, then oldest first.
func (m *Manager) GetPending(agentID string) []*domain.Handoff {
	var out []*domain.Handoff
	var seqs []uint64
	for _, e := range m.snapshotEntries() {
		e.mu.Lock()
		if e.h.ToAgent == agentID && e.h.Status == domain.HandoffStatusPending && !m.isExpired(e.h) {
			out = append(out, e.h.Clone())
			seqs = append(seqs, e.seq)
		}
		e.mu.Unlock()
	}

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ha, hb := out[idx[a]], out[idx[b]]
		if ha.Priority != hb.Priority {
			return ha.Priority > hb.Priority
		}
		if !ha.CreatedAt.Equal(hb.CreatedAt) {
			return ha.CreatedAt.Before(hb.CreatedAt)
		}
		return seqs[idx[a]] < seqs[idx[b]]
	})

	sorted := make([]*domain.Handoff, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}

// GetHistory returns every handoff agentID took part in, newest first
func (m *Manager) GetHistory(agentID string) []*domain.Handoff {
	type item struct {
		h   *domain.Handoff
		seq uint64
	}
	var items []item
	for _, e := range m.snapshotEntries() {
		e.mu.Lock()
		if e.h.FromAgent == agentID || e.h.ToAgent == agentID {
			items = append(items, item{h: e.h.Clone(), seq: e.seq})
		}
		e.mu.Unlock()
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].h.CreatedAt.Equal(items[j].h.CreatedAt) {
			return items[i].h.CreatedAt.After(items[j].h.CreatedAt)
		}
		return items[i].seq > items[j].seq
	})

	out := make([]*domain.Handoff, len(items))
	for i, it := range items {
		out[i] = it.h
	}
	return out
}

// GetAuditTrail returns the transitions of a handoff in order
func (m *Manager) GetAuditTrail(id string) ([]domain.AuditEntry, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.AuditEntry(nil), e.h.Audit...), nil
}

// ExpireStale expires every pending handoff past its deadline and returns
// how many it transitioned. Running it again without new expiries is a no-op.
func (m *Manager) ExpireStale(ctx context.Context) int {
	count := 0
	for _, e := range m.snapshotEntries() {
		if m.expireEntry(ctx, e) {
			count++
		}
	}
	if count > 0 {
		m.logger.Info("expired stale handoffs", zap.Int("count", count))
	}
	return count
}

// expireEntry expires e if it is pending and past its deadline
func (m *Manager) expireEntry(ctx context.Context, e *entry) bool {
	e.mu.Lock()
	if e.h.Status != domain.HandoffStatusPending || !m.isExpired(e.h) {
		e.mu.Unlock()
		return false
	}
	m.transitionLocked(e, domain.HandoffStatusExpired, SystemActor, "ttl elapsed")
	snapshot := e.h.Clone()
	e.mu.Unlock()

	m.release(snapshot)
	m.flush(ctx, e)
	return true
}

// transitionLocked moves a pending handoff to a terminal status and queues
// the new state for flush. The caller holds e.mu and has checked the
// handoff is pending.
func (m *Manager) transitionLocked(e *entry, to domain.HandoffStatus, actor, reason string) {
	from := e.h.Status
	e.h.Status = to
	e.h.Audit = append(e.h.Audit, domain.AuditEntry{
		Sequence:  len(e.h.Audit) + 1,
		Actor:     actor,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: m.now(),
	})
	e.outbox = append(e.outbox, e.h.Clone())
	if to.IsTerminal() {
		close(e.done)
	}
}

// flush persists and publishes queued transitions of e in order. A call
// made while another goroutine drains returns at once; the drainer picks
// up what it queued.
func (m *Manager) flush(ctx context.Context, e *entry) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.outbox) > 0 {
		h := e.outbox[0]
		e.outbox = e.outbox[1:]
		e.mu.Unlock()
		m.afterTransition(ctx, h)
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}

// release drops the pending index entry of a terminal handoff
func (m *Manager) release(h *domain.Handoff) {
	key := pairKey{conversation: h.ConversationID, toAgent: h.ToAgent}
	m.mu.Lock()
	if m.pending[key] == h.ID {
		delete(m.pending, key)
	}
	m.mu.Unlock()
}

// afterTransition persists, publishes and counts a transition
func (m *Manager) afterTransition(ctx context.Context, h *domain.Handoff) {
	m.metrics.RecordHandoff(string(h.Status))

	if m.store != nil {
		if err := m.store.SaveHandoff(ctx, h); err != nil {
			m.logger.Error("failed to persist handoff",
				zap.String("handoff_id", h.ID),
				zap.String("status", string(h.Status)),
				zap.Error(err))
		}
	}

	if m.eventBus != nil {
		event := domain.Event{
			ID:        uuid.New().String(),
			Type:      eventTypeFor(h.Status),
			HandoffID: h.ID,
			Timestamp: m.now(),
			Data: map[string]any{
				"conversation_id": h.ConversationID,
				"from_agent":      h.FromAgent,
				"to_agent":        h.ToAgent,
				"status":          string(h.Status),
			},
		}
		if err := m.eventBus.Publish(ctx, domain.TopicHandoff, event); err != nil {
			m.logger.Error("failed to publish handoff event",
				zap.String("handoff_id", h.ID),
				zap.Error(err))
		}
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: handoff %s", domain.ErrNotFound, id)
	}
	return e, nil
}

func (m *Manager) snapshotEntries() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// isExpired treats the deadline itself as expired, so a zero TTL never
// admits a response.
func (m *Manager) isExpired(h *domain.Handoff) bool {
	return !m.now().Before(h.ExpiresAt)
}

func eventTypeFor(s domain.HandoffStatus) domain.EventType {
	switch s {
	case domain.HandoffStatusAccepted:
		return domain.EventTypeHandoffAccepted
	case domain.HandoffStatusRejected:
		return domain.EventTypeHandoffRejected
	case domain.HandoffStatusExpired:
		return domain.EventTypeHandoffExpired
	case domain.HandoffStatusCancelled:
		return domain.EventTypeHandoffCancel
	default:
		return domain.EventTypeHandoffProposed
	}
}

func copyContext(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
