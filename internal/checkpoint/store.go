// Package checkpoint persists run state to PostgreSQL so a run can be
// resumed after a process restart.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/overseer/internal/orchestrator"
	"go.uber.org/zap"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// SaveCheckpoint upserts the full run state, keyed by run ID. Called
// after every cycle; the newest state always wins.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *orchestrator.Checkpoint) error {
	tasks, err := json.Marshal(cp.Tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	statuses, err := json.Marshal(cp.Statuses)
	if err != nil {
		return fmt.Errorf("marshal statuses: %w", err)
	}
	retries, err := json.Marshal(cp.Retries)
	if err != nil {
		return fmt.Errorf("marshal retries: %w", err)
	}
	outputs, err := json.Marshal(cp.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (id, tasks, statuses, retries, outputs, state, last_output)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			tasks = EXCLUDED.tasks,
			statuses = EXCLUDED.statuses,
			retries = EXCLUDED.retries,
			outputs = EXCLUDED.outputs,
			state = EXCLUDED.state,
			last_output = EXCLUDED.last_output,
			updated_at = NOW()`,
		cp.RunID, tasks, statuses, retries, outputs, string(cp.State), cp.LastOutput,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.RunID, err)
	}
	return nil
}

// LoadCheckpoint retrieves a run's latest persisted state.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (*orchestrator.Checkpoint, error) {
	var tasks, statuses, retries, outputs []byte
	var state string
	cp := &orchestrator.Checkpoint{RunID: runID}

	err := s.db.QueryRow(ctx, `
		SELECT tasks, statuses, retries, outputs, state, last_output
		FROM runs WHERE id = $1`, runID,
	).Scan(&tasks, &statuses, &retries, &outputs, &state, &cp.LastOutput)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}

	if err := json.Unmarshal(tasks, &cp.Tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	if err := json.Unmarshal(statuses, &cp.Statuses); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}
	if err := json.Unmarshal(retries, &cp.Retries); err != nil {
		return nil, fmt.Errorf("decode retries: %w", err)
	}
	if err := json.Unmarshal(outputs, &cp.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	cp.State = orchestrator.RunState(state)
	return cp, nil
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	TaskCount int       `json:"task_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListRuns returns run summaries ordered by last update, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, state, jsonb_array_length(tasks), updated_at
		FROM runs ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.State, &r.TaskCount, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListResumable returns the IDs of runs persisted in a non-terminal
// state, oldest first, for pickup after a restart.
func (s *Store) ListResumable(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM runs WHERE state = $1 ORDER BY updated_at ASC`,
		string(orchestrator.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("list resumable: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

var _ orchestrator.CheckpointSaver = (*Store)(nil)
