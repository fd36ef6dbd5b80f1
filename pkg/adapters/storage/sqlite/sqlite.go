package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store implements StateStorage and HandoffStore on a SQLite file
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path and applies the schema
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets readers proceed while a run snapshot is written; the busy
	// timeout makes writers wait instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Timestamps are stored as unix milliseconds so they sort numerically
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			name        TEXT,
			pattern     TEXT NOT NULL,
			status      TEXT NOT NULL,
			snapshot    TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS handoffs (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			from_agent      TEXT NOT NULL,
			to_agent        TEXT NOT NULL,
			status          TEXT NOT NULL,
			record          TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			expires_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_handoffs_target ON handoffs(to_agent, status)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun upserts the run snapshot
func (s *Store) SaveRun(ctx context.Context, run *domain.RunSnapshot) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	updated := run.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, pattern, status, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		run.RunID, run.Name, string(run.Pattern), string(run.Status), string(data), run.CreatedAt.UnixMilli(), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun returns the stored run snapshot
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM runs WHERE id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	var run domain.RunSnapshot
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns run ids, most recently updated first
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRun removes a run snapshot
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// SaveHandoff upserts the handoff
func (s *Store) SaveHandoff(ctx context.Context, h *domain.Handoff) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handoffs (id, conversation_id, from_agent, to_agent, status, record, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record`,
		h.ID, h.ConversationID, h.FromAgent, h.ToAgent, string(h.Status), string(data), h.CreatedAt.UnixMilli(), h.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}

	s.logger.Debug("handoff saved",
		zap.String("handoff_id", h.ID),
		zap.String("status", string(h.Status)))
	return nil
}

// GetHandoff returns the stored handoff
func (s *Store) GetHandoff(ctx context.Context, id string) (*domain.Handoff, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM handoffs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: handoff %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get handoff: %w", err)
	}

	var h domain.Handoff
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("unmarshal handoff: %w", err)
	}
	return &h, nil
}

// PurgeHandoffs deletes terminal handoffs that expired before cutoff and
// returns how many rows it removed
func (s *Store) PurgeHandoffs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM handoffs WHERE status != ? AND expires_at < ?`,
		string(domain.HandoffStatusPending), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge handoffs: %w", err)
	}
	return res.RowsAffected()
}
