package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/agentmesh/internal/application/handoff"
	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/aescanero/agentmesh/swarm"

// DefaultHandoffTTL bounds how long a swarm handoff may stay pending
const DefaultHandoffTTL = 5 * time.Minute

// recentWindow is the number of turns averaged for routing latency
const recentWindow = 5

// Handoffs negotiates control transfers between participants
type Handoffs interface {
	Initiate(ctx context.Context, req handoff.InitiateRequest) (*domain.Handoff, error)
	Respond(ctx context.Context, id, agentID string, accepted bool, message string) (*domain.Handoff, error)
	Cancel(ctx context.Context, id, agentID, reason string) (*domain.Handoff, error)
	Await(ctx context.Context, id string) (*domain.Handoff, error)
	Get(id string) (*domain.Handoff, error)
}

// Config holds the settings of one swarm run
type Config struct {
	Name           string
	ConversationID string
	// StartAgent runs the first turn. Empty selects the best participant
	// for the input tags.
	StartAgent string
	// AutoAccept accepts handoffs on behalf of the target. Nil means true.
	AutoAccept  *bool
	HandoffTTL  time.Duration
	TurnTimeout time.Duration
	Parameters  Parameters
}

// Input is the initial task of a swarm run
type Input struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// participantState tracks one participant during a run
type participantState struct {
	domain.SwarmParticipant
	index int

	turns        int
	failedTurns  int
	initiated    int
	accepted     int
	rejected     int
	totalLatency time.Duration
	recent       []time.Duration
}

// Orchestrator drives one swarm run
type Orchestrator struct {
	runID    string
	handoffs Handoffs
	backend  ports.AgentBackend
	events   ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	cfg      Config

	mu           sync.Mutex
	cond         *sync.Cond
	participants []*participantState
	byID         map[string]*participantState
	params       Parameters

	// Run state, guarded by mu
	status          domain.RunStatus
	started         bool
	paused          bool
	cancelRequested bool
	current         string
	turn            int
	messages        []domain.Message
	steps           []HandoffStep
	vars            map[string]any
	result          *domain.WorkflowResult
	runCancel       func()
	createdAt       time.Time
	startedAt       time.Time
	finishedAt      time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRunID sets the run id reported in events and results
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEventBus sets the bus receiving run and turn events
func WithEventBus(b ports.EventBus) Option {
	return func(o *Orchestrator) { o.events = b }
}

// WithMetrics sets the metrics collector
func WithMetrics(m ports.MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates a swarm orchestrator over participants, kept in the given order
func New(handoffs Handoffs, backend ports.AgentBackend, participants []domain.SwarmParticipant, cfg Config, opts ...Option) (*Orchestrator, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: swarm needs at least one participant", domain.ErrInvalidParameter)
	}
	if cfg.Parameters == (Parameters{}) {
		cfg.Parameters = DefaultParameters()
	}
	for _, name := range ParameterNames() {
		v, _ := cfg.Parameters.Get(name)
		if err := ValidateParameter(name, v); err != nil {
			return nil, err
		}
	}
	if cfg.HandoffTTL <= 0 {
		cfg.HandoffTTL = DefaultHandoffTTL
	}

	o := &Orchestrator{
		runID:    uuid.New().String(),
		handoffs: handoffs,
		backend:  backend,
		metrics:  ports.NopMetricsCollector{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		cfg:      cfg,
		byID:     make(map[string]*participantState),
		params:   cfg.Parameters,
		status:   domain.RunStatusPending,
		vars:     make(map[string]any),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cond = sync.NewCond(&o.mu)
	o.createdAt = o.now()

	for i, p := range participants {
		if p.AgentID == "" {
			return nil, fmt.Errorf("%w: participant %d has no agent id", domain.ErrInvalidParameter, i)
		}
		if _, ok := o.byID[p.AgentID]; ok {
			return nil, fmt.Errorf("%w: duplicate participant %s", domain.ErrInvalidParameter, p.AgentID)
		}
		ps := &participantState{SwarmParticipant: p, index: i}
		o.participants = append(o.participants, ps)
		o.byID[p.AgentID] = ps
	}
	for _, p := range o.participants {
		for _, target := range p.HandoffTargets {
			if _, ok := o.byID[target]; !ok {
				return nil, fmt.Errorf("%w: participant %s lists unknown handoff target %s",
					domain.ErrInvalidParameter, p.AgentID, target)
			}
		}
	}
	if cfg.StartAgent != "" {
		if _, ok := o.byID[cfg.StartAgent]; !ok {
			return nil, fmt.Errorf("%w: start agent %s is not a participant", domain.ErrInvalidParameter, cfg.StartAgent)
		}
	}
	if o.cfg.ConversationID == "" {
		o.cfg.ConversationID = o.runID
	}
	return o, nil
}

// RunID returns the run id
func (o *Orchestrator) RunID() string {
	return o.runID
}

// ConversationID returns the conversation the handoffs belong to
func (o *Orchestrator) ConversationID() string {
	return o.cfg.ConversationID
}

// TuneParameter changes a routing parameter. The next routing decision uses it.
func (o *Orchestrator) TuneParameter(name string, value float64) error {
	o.mu.Lock()
	next, err := o.params.With(name, value)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.params = next
	o.mu.Unlock()

	o.logger.Info("swarm parameter tuned",
		zap.String("run_id", o.runID),
		zap.String("parameter", name),
		zap.Float64("value", value))
	return nil
}

// GetParameter returns the current value of a routing parameter
func (o *Orchestrator) GetParameter(name string) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.params.Get(name)
}

// Parameters returns all routing parameters
func (o *Orchestrator) Parameters() Parameters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.params
}

// autoAcceptFor resolves the participant override against the run default
func (o *Orchestrator) autoAcceptFor(p *participantState) bool {
	if p.AutoAccept != nil {
		return *p.AutoAccept
	}
	if o.cfg.AutoAccept != nil {
		return *o.cfg.AutoAccept
	}
	return true
}
