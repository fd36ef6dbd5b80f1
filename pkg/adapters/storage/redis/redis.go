package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	runKeyPrefix     = "agentmesh:run:"
	handoffKeyPrefix = "agentmesh:handoff:"
)

// StateStorage implements StateStorage and HandoffStore using Redis
type StateStorage struct {
	client *redis.Client
	logger *zap.Logger
	// ttl applies to run records
	ttl time.Duration
	// retention applies to terminal handoffs
	retention time.Duration
	now       func() time.Time
}

// NewStateStorage creates a new Redis state storage
func NewStateStorage(client *redis.Client, ttl, retention time.Duration, logger *zap.Logger) *StateStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateStorage{
		client:    client,
		logger:    logger,
		ttl:       ttl,
		retention: retention,
		now:       time.Now,
	}
}

// SaveRun stores the run snapshot with the configured TTL
func (s *StateStorage) SaveRun(ctx context.Context, run *domain.RunSnapshot) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := s.client.Set(ctx, getRunKey(run.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)))

	return nil
}

// GetRun returns the stored run snapshot
func (s *StateStorage) GetRun(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	data, err := s.client.Get(ctx, getRunKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run domain.RunSnapshot
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &run, nil
}

// ListRuns returns all run ids that have a stored snapshot
func (s *StateStorage) ListRuns(ctx context.Context) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, runKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	runIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(runKeyPrefix) {
			runIDs = append(runIDs, key[len(runKeyPrefix):])
		}
	}

	return runIDs, nil
}

// DeleteRun removes a run snapshot
func (s *StateStorage) DeleteRun(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, getRunKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	s.logger.Debug("run deleted", zap.String("run_id", runID))
	return nil
}

// SaveHandoff stores the handoff. A pending handoff lives until it
// expires; a terminal one is kept for the retention period.
func (s *StateStorage) SaveHandoff(ctx context.Context, h *domain.Handoff) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}

	if err := s.client.Set(ctx, getHandoffKey(h.ID), data, s.handoffTTL(h)).Err(); err != nil {
		return fmt.Errorf("failed to save handoff: %w", err)
	}

	s.logger.Debug("handoff saved",
		zap.String("handoff_id", h.ID),
		zap.String("status", string(h.Status)))

	return nil
}

// GetHandoff returns the stored handoff
func (s *StateStorage) GetHandoff(ctx context.Context, id string) (*domain.Handoff, error) {
	data, err := s.client.Get(ctx, getHandoffKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: handoff %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get handoff: %w", err)
	}

	var h domain.Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handoff: %w", err)
	}

	return &h, nil
}

func (s *StateStorage) handoffTTL(h *domain.Handoff) time.Duration {
	if h.Status == domain.HandoffStatusPending {
		if ttl := h.ExpiresAt.Sub(s.now()); ttl > 0 {
			return ttl
		}
	}
	return s.retention
}

// getRunKey returns the Redis key for a run snapshot
func getRunKey(runID string) string {
	return fmt.Sprintf("%s%s", runKeyPrefix, runID)
}

// getHandoffKey returns the Redis key for a handoff
func getHandoffKey(id string) string {
	return fmt.Sprintf("%s%s", handoffKeyPrefix, id)
}
