// Package goal defines the read-only view of goals that the planning core
// consumes. Goal storage and semantics live in an external collaborator; this
// package only describes what the core needs from it.
package goal

import (
	"context"
	"time"
)

// Goal is a long-lived objective the core may plan against. The core never
// mutates a goal.
type Goal struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Priority    float64 `json:"priority"`
	Active      bool    `json:"active"`
}

// Source provides read-only access to goals.
type Source interface {
	// ActiveGoals returns all goals currently marked active.
	ActiveGoals(ctx context.Context) ([]Goal, error)

	// HasRecentActivity reports whether any stimulus matching the goal's
	// description has been observed since the given time.
	HasRecentActivity(ctx context.Context, g Goal, since time.Time) (bool, error)
}

// ContextSource provides best-effort signals used to enrich plan-generation
// prompts. Failures are tolerated and ignored by callers.
type ContextSource interface {
	// WeakTopics returns topics related to the category that are only weakly
	// understood so far.
	WeakTopics(ctx context.Context, category string, limit int) ([]string, error)

	// Preferences returns stated user preferences relevant to the category.
	Preferences(ctx context.Context, category string) ([]string, error)
}
