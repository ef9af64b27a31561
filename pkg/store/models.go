package store

import (
	"time"

	"github.com/nadia/kinara/pkg/action"
)

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed
}

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Plan is a persisted, validated sequence of steps targeting one goal.
// completed_steps always equals the count of its steps in status completed;
// the execution engine recomputes it after every step resolution.
type Plan struct {
	ID             string     `json:"id"`
	GoalID         string     `json:"goal_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Status         PlanStatus `json:"status"`
	Priority       float64    `json:"priority"`
	TotalSteps     int        `json:"total_steps"`
	CompletedSteps int        `json:"completed_steps"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Step is one unit of work within a plan. Steps are created once, in a batch,
// when the plan is persisted; only the execution engine mutates them.
type Step struct {
	ID          string                 `json:"id"`
	PlanID      string                 `json:"plan_id"`
	Order       int                    `json:"order"` // 1..N, contiguous
	Name        string                 `json:"name"`
	Action      action.Type            `json:"action"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	DependsOn   []string               `json:"depends_on,omitempty"` // step IDs
	Status      StepStatus             `json:"status"`
	RetryCount  int                    `json:"retry_count"`
	Result      string                 `json:"result,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// LogEntry is an immutable record of one step execution attempt. Exactly one
// entry is written per attempt, success or failure.
type LogEntry struct {
	ID        string        `json:"id"`
	PlanID    string        `json:"plan_id"`
	StepID    string        `json:"step_id"`
	Action    action.Type   `json:"action"`
	Success   bool          `json:"success"`
	Summary   string        `json:"summary"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Summary is the observability roll-up served to dashboards.
type Summary struct {
	Active      int    `json:"active"`
	Pending     int    `json:"pending"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	Paused      int    `json:"paused"`
	RecentPlans []Plan `json:"recent_plans"`
}
