// Package store is the single source of truth for plan, step, and execution
// log state, backed by sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/nadia/kinara/pkg/action"
)

// Store wraps the sqlite database holding all core state.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and initializes the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency between the engines and readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			goal_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority REAL NOT NULL DEFAULT 0,
			total_steps INTEGER NOT NULL,
			completed_steps INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
		CREATE INDEX IF NOT EXISTS idx_plans_goal ON plans(goal_id);

		CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL REFERENCES plans(id),
			step_order INTEGER NOT NULL,
			name TEXT NOT NULL,
			action TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			depends_on TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_steps_plan ON steps(plan_id, step_order);

		CREATE TABLE IF NOT EXISTS execution_log (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			action TEXT NOT NULL,
			success INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_log_plan ON execution_log(plan_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_log_step ON execution_log(step_id);

		CREATE TABLE IF NOT EXISTS dispatch_budget (
			day TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreatePlan persists a plan and its steps as one atomic unit. Nothing is
// written if any insert fails.
func (s *Store) CreatePlan(ctx context.Context, plan *Plan, steps []Step) error {
	if plan.ID == "" {
		return fmt.Errorf("plan ID is required")
	}
	if len(steps) == 0 {
		return fmt.Errorf("plan must have at least one step")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	plan.TotalSteps = len(steps)
	plan.CreatedAt = now
	plan.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (id, goal_id, name, description, status, priority, total_steps, completed_steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		plan.ID, plan.GoalID, plan.Name, plan.Description, string(plan.Status),
		plan.Priority, plan.TotalSteps, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}

	for i := range steps {
		step := &steps[i]
		payload, err := json.Marshal(step.Payload)
		if err != nil {
			return fmt.Errorf("step %s: failed to marshal payload: %w", step.ID, err)
		}
		deps, err := json.Marshal(step.DependsOn)
		if err != nil {
			return fmt.Errorf("step %s: failed to marshal dependencies: %w", step.ID, err)
		}
		step.CreatedAt = now

		_, err = tx.ExecContext(ctx, `
			INSERT INTO steps (id, plan_id, step_order, name, action, payload, depends_on, status, retry_count, result, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)`,
			step.ID, plan.ID, step.Order, step.Name, string(step.Action),
			string(payload), string(deps), string(step.Status), now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", step.Order, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}

	s.logger.Info().
		Str("plan_id", plan.ID).
		Str("goal_id", plan.GoalID).
		Int("steps", len(steps)).
		Msg("Plan persisted")
	return nil
}

// GetPlan loads a single plan by ID.
func (s *Store) GetPlan(ctx context.Context, id string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal_id, name, description, status, priority, total_steps, completed_steps, created_at, updated_at
		FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

// PlansByStatus returns plans in any of the given statuses, ordered by
// priority descending then creation time ascending.
func (s *Store) PlansByStatus(ctx context.Context, statuses ...PlanStatus) ([]Plan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders, args := statusArgs(statuses)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, goal_id, name, description, status, priority, total_steps, completed_steps, created_at, updated_at
		FROM plans WHERE status IN (%s)
		ORDER BY priority DESC, created_at ASC`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// CountPlans counts plans in any of the given statuses.
func (s *Store) CountPlans(ctx context.Context, statuses ...PlanStatus) (int, error) {
	placeholders, args := statusArgs(statuses)
	var count int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM plans WHERE status IN (%s)", placeholders), args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plans: %w", err)
	}
	return count, nil
}

// HasLivePlan reports whether the goal already has a plan in a live,
// non-terminal queueable state (pending or active).
func (s *Store) HasLivePlan(ctx context.Context, goalID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM plans WHERE goal_id = ? AND status IN (?, ?)`,
		goalID, string(PlanStatusPending), string(PlanStatusActive),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check live plans: %w", err)
	}
	return count > 0, nil
}

// UpdatePlanStatus transitions a plan to the given status.
func (s *Store) UpdatePlanStatus(ctx context.Context, id string, status PlanStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE plans SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan not found: %s", id)
	}
	return nil
}

// RefreshPlanProgress recomputes completed_steps from the steps table so the
// stored counter can never drift from the actual step states.
func (s *Store) RefreshPlanProgress(ctx context.Context, planID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET
			completed_steps = (SELECT COUNT(*) FROM steps WHERE plan_id = ? AND status = ?),
			updated_at = ?
		WHERE id = ?`,
		planID, string(StepStatusCompleted), time.Now().UnixMilli(), planID)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh plan progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("plan not found: %s", planID)
	}

	var completed int
	err = s.db.QueryRowContext(ctx,
		"SELECT completed_steps FROM plans WHERE id = ?", planID).Scan(&completed)
	if err != nil {
		return 0, fmt.Errorf("failed to read plan progress: %w", err)
	}
	return completed, nil
}

// StepsForPlan returns the plan's steps in ascending order.
func (s *Store) StepsForPlan(ctx context.Context, planID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, step_order, name, action, payload, depends_on, status, retry_count, result, created_at, started_at, completed_at
		FROM steps WHERE plan_id = ? ORDER BY step_order ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// UpdateStep writes a step's mutable fields (status, retry count, result,
// timestamps) back to the store.
func (s *Store) UpdateStep(ctx context.Context, step *Step) error {
	var started, completed interface{}
	if step.StartedAt != nil {
		started = step.StartedAt.UnixMilli()
	}
	if step.CompletedAt != nil {
		completed = step.CompletedAt.UnixMilli()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE steps SET status = ?, retry_count = ?, result = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(step.Status), step.RetryCount, step.Result, started, completed, step.ID)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step not found: %s", step.ID)
	}
	return nil
}

// AppendLog writes one execution log entry. Entries are append-only and never
// mutated.
func (s *Store) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_log (id, plan_id, step_id, action, success, summary, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.PlanID, entry.StepID, string(entry.Action),
		boolToInt(entry.Success), entry.Summary, entry.Duration.Milliseconds(),
		entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

// LogForPlan returns the most recent log entries for a plan.
func (s *Store) LogForPlan(ctx context.Context, planID string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, step_id, action, success, summary, duration_ms, created_at
		FROM execution_log WHERE plan_id = ?
		ORDER BY created_at DESC LIMIT ?`, planID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query log: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

// LogForStep returns all log entries for one step, oldest first.
func (s *Store) LogForStep(ctx context.Context, stepID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, step_id, action, success, summary, duration_ms, created_at
		FROM execution_log WHERE step_id = ?
		ORDER BY created_at ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

// SearchLog returns recent log entries whose summary matches the query,
// newest first.
func (s *Store) SearchLog(ctx context.Context, query string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, step_id, action, success, summary, duration_ms, created_at
		FROM execution_log WHERE summary LIKE ?
		ORDER BY created_at DESC LIMIT ?`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search log: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

// DispatchCount returns the recorded remote dispatch count for a calendar day
// (formatted 2006-01-02).
func (s *Store) DispatchCount(ctx context.Context, day string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT count FROM dispatch_budget WHERE day = ?", day).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read dispatch count: %w", err)
	}
	return count, nil
}

// IncrementDispatchCount adds one remote dispatch to the day's counter.
func (s *Store) IncrementDispatchCount(ctx context.Context, day string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_budget (day, count) VALUES (?, 1)
		ON CONFLICT(day) DO UPDATE SET count = count + 1`, day)
	if err != nil {
		return fmt.Errorf("failed to increment dispatch count: %w", err)
	}
	return nil
}

// Summary returns plan counts by status plus the most recently updated plans.
func (s *Store) Summary(ctx context.Context, recentLimit int) (*Summary, error) {
	if recentLimit <= 0 {
		recentLimit = 5
	}

	summary := &Summary{}
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM plans GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to query plan counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch PlanStatus(status) {
		case PlanStatusActive:
			summary.Active = count
		case PlanStatusPending:
			summary.Pending = count
		case PlanStatusCompleted:
			summary.Completed = count
		case PlanStatusFailed:
			summary.Failed = count
		case PlanStatusPaused:
			summary.Paused = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recent, err := s.db.QueryContext(ctx, `
		SELECT id, goal_id, name, description, status, priority, total_steps, completed_steps, created_at, updated_at
		FROM plans ORDER BY updated_at DESC LIMIT ?`, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent plans: %w", err)
	}
	defer recent.Close()
	for recent.Next() {
		p, err := scanPlan(recent)
		if err != nil {
			return nil, err
		}
		summary.RecentPlans = append(summary.RecentPlans, *p)
	}
	return summary, recent.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	var p Plan
	var status string
	var createdMs, updatedMs int64
	err := row.Scan(&p.ID, &p.GoalID, &p.Name, &p.Description, &status,
		&p.Priority, &p.TotalSteps, &p.CompletedSteps, &createdMs, &updatedMs)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}
	p.Status = PlanStatus(status)
	p.CreatedAt = time.UnixMilli(createdMs)
	p.UpdatedAt = time.UnixMilli(updatedMs)
	return &p, nil
}

func scanStep(row rowScanner) (*Step, error) {
	var step Step
	var actionType, payload, deps string
	var status string
	var createdMs int64
	var startedMs, completedMs sql.NullInt64

	err := row.Scan(&step.ID, &step.PlanID, &step.Order, &step.Name, &actionType,
		&payload, &deps, &status, &step.RetryCount, &step.Result,
		&createdMs, &startedMs, &completedMs)
	if err != nil {
		return nil, fmt.Errorf("failed to scan step: %w", err)
	}

	step.Action = action.Type(actionType)
	step.Status = StepStatus(status)
	step.CreatedAt = time.UnixMilli(createdMs)
	if startedMs.Valid {
		t := time.UnixMilli(startedMs.Int64)
		step.StartedAt = &t
	}
	if completedMs.Valid {
		t := time.UnixMilli(completedMs.Int64)
		step.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(payload), &step.Payload); err != nil {
		return nil, fmt.Errorf("step %s: corrupt payload: %w", step.ID, err)
	}
	if err := json.Unmarshal([]byte(deps), &step.DependsOn); err != nil {
		return nil, fmt.Errorf("step %s: corrupt dependency list: %w", step.ID, err)
	}
	return &step, nil
}

func scanLogEntries(rows *sql.Rows) ([]LogEntry, error) {
	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var actionType string
		var success int
		var durationMs, createdMs int64
		if err := rows.Scan(&e.ID, &e.PlanID, &e.StepID, &actionType, &success,
			&e.Summary, &durationMs, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Action = action.Type(actionType)
		e.Success = success != 0
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdMs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func statusArgs(statuses []PlanStatus) (string, []interface{}) {
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ","), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
