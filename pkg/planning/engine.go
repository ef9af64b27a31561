// Package planning is the strategic layer: it detects under-served goals,
// asks the reasoning service to decompose them into step sequences, and
// persists validated plans for the execution engine.
package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/nadia/kinara/pkg/action"
	"github.com/nadia/kinara/pkg/goal"
	"github.com/nadia/kinara/pkg/reasoning"
	"github.com/nadia/kinara/pkg/store"
)

// Config holds planning engine tunables.
type Config struct {
	MaxActivePlans  int // pending+active plans counted against this cap
	MaxStepsPerPlan int
	StalenessDays   int
	MaxTokens       int
}

// DefaultConfig returns the default planning tunables.
func DefaultConfig() Config {
	return Config{
		MaxActivePlans:  3,
		MaxStepsPerPlan: 7,
		StalenessDays:   7,
		MaxTokens:       2048,
	}
}

// Draft is a generated plan before persistence.
type Draft struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Steps       []DraftStep `json:"steps"`
}

// DraftStep is one generated step. Dependencies reference other steps by
// their order number.
type DraftStep struct {
	Order     int                    `json:"order"`
	Name      string                 `json:"name"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload"`
	DependsOn []int                  `json:"depends_on"`
}

// Engine generates and persists plans for under-served goals.
type Engine struct {
	store    *store.Store
	goals    goal.Source
	context  goal.ContextSource // optional
	provider reasoning.Provider
	logger   zerolog.Logger
	cfg      Config
	schema   *gojsonschema.Schema
	now      func() time.Time
}

// New creates a planning engine. contextSource may be nil.
func New(st *store.Store, goals goal.Source, contextSource goal.ContextSource, provider reasoning.Provider, logger zerolog.Logger, cfg Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if goals == nil {
		return nil, fmt.Errorf("goal source is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("reasoning provider is required")
	}
	if cfg.MaxActivePlans <= 0 {
		cfg.MaxActivePlans = 3
	}
	if cfg.MaxStepsPerPlan <= 0 {
		cfg.MaxStepsPerPlan = 7
	}
	if cfg.StalenessDays <= 0 {
		cfg.StalenessDays = 7
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(draftSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile draft schema: %w", err)
	}

	return &Engine{
		store:    st,
		goals:    goals,
		context:  contextSource,
		provider: provider,
		logger:   logger.With().Str("component", "planning").Logger(),
		cfg:      cfg,
		schema:   schema,
		now:      time.Now,
	}, nil
}

// SetConfig swaps tunables at runtime (config hot reload).
func (e *Engine) SetConfig(cfg Config) {
	if cfg.MaxActivePlans > 0 {
		e.cfg.MaxActivePlans = cfg.MaxActivePlans
	}
	if cfg.MaxStepsPerPlan > 0 {
		e.cfg.MaxStepsPerPlan = cfg.MaxStepsPerPlan
	}
	if cfg.StalenessDays > 0 {
		e.cfg.StalenessDays = cfg.StalenessDays
	}
}

// DetectPlannableGoals returns active goals with no live plan and no recent
// related activity within stalenessDays, ordered by priority descending.
// Read-only: no side effects.
func (e *Engine) DetectPlannableGoals(ctx context.Context, stalenessDays int) ([]goal.Goal, error) {
	if stalenessDays <= 0 {
		stalenessDays = e.cfg.StalenessDays
	}

	goals, err := e.goals.ActiveGoals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load goals: %w", err)
	}

	since := e.now().AddDate(0, 0, -stalenessDays)
	var candidates []goal.Goal
	for _, g := range goals {
		if !g.Active {
			continue
		}
		live, err := e.store.HasLivePlan(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("goal %s: %w", g.ID, err)
		}
		if live {
			continue
		}
		recent, err := e.goals.HasRecentActivity(ctx, g, since)
		if err != nil {
			// Best effort: an activity-check failure should not hide the goal.
			e.logger.Warn().Str("goal_id", g.ID).Err(err).Msg("Activity check failed")
			recent = false
		}
		if recent {
			continue
		}
		candidates = append(candidates, g)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	return candidates, nil
}

// GeneratePlan asks the reasoning service for a plan draft. It returns
// (nil, nil) when the plan cap is full, when the service is unavailable, or
// when the output does not validate; the goal simply stays a candidate for
// the next pass.
func (e *Engine) GeneratePlan(ctx context.Context, g goal.Goal) (*Draft, error) {
	// Cost control: never call the reasoning service when no slot is free.
	count, err := e.store.CountPlans(ctx, store.PlanStatusPending, store.PlanStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to count live plans: %w", err)
	}
	if count >= e.cfg.MaxActivePlans {
		e.logger.Debug().Int("live_plans", count).Msg("Plan capacity full, skipping generation")
		return nil, nil
	}

	prompt := e.buildPrompt(ctx, g)

	resp, err := e.provider.Generate(ctx, reasoning.Request{
		SystemPrompt: planSystemPrompt,
		Messages:     []reasoning.Message{{Role: "user", Content: prompt}},
		MaxTokens:    e.cfg.MaxTokens,
	})
	if err != nil {
		e.logger.Warn().Str("goal_id", g.ID).Err(err).Msg("Plan generation failed")
		return nil, nil
	}

	draft, ok := e.parseDraft(resp.Content)
	if !ok {
		e.logger.Warn().Str("goal_id", g.ID).Msg("Generated plan did not parse")
		return nil, nil
	}
	if !e.ValidateDraft(draft) {
		e.logger.Warn().Str("goal_id", g.ID).Str("plan", draft.Name).Msg("Generated plan failed validation")
		return nil, nil
	}
	return draft, nil
}

// parseDraft extracts and schema-checks the JSON plan from a model response.
func (e *Engine) parseDraft(content string) (*Draft, bool) {
	raw := extractJSON(content)

	result, err := e.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil || !result.Valid() {
		return nil, false
	}

	var draft Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, false
	}
	return &draft, true
}

// ValidateDraft enforces plan shape constraints and normalizes the draft in
// place: unknown action types are coerced to the reasoning fallback, step
// order numbers are re-assigned 1..N sequentially regardless of what the
// generator claimed, and dependency references are translated to the new
// numbering. Drafts with duplicate orders, dangling dependency references, or
// dependency cycles are rejected.
func (e *Engine) ValidateDraft(draft *Draft) bool {
	if draft == nil || draft.Name == "" {
		return false
	}
	if len(draft.Steps) == 0 || len(draft.Steps) > e.cfg.MaxStepsPerPlan {
		return false
	}

	// First pass: map each asserted order to its sequential position so
	// dependencies can be translated before any order is overwritten.
	newOrder := make(map[int]int, len(draft.Steps))
	for i := range draft.Steps {
		step := &draft.Steps[i]
		if step.Name == "" {
			return false
		}
		if _, ok := action.ParseType(step.Action); !ok {
			step.Action = string(action.TypeReason)
		}
		if _, dup := newOrder[step.Order]; dup {
			return false
		}
		newOrder[step.Order] = i + 1
	}

	for i := range draft.Steps {
		step := &draft.Steps[i]
		deps := step.DependsOn[:0]
		for _, dep := range step.DependsOn {
			translated, ok := newOrder[dep]
			if !ok {
				return false // dangling reference
			}
			if translated == i+1 {
				continue // self references are dropped
			}
			deps = append(deps, translated)
		}
		step.DependsOn = deps
		step.Order = i + 1
	}

	return !hasCycle(draft.Steps)
}

// hasCycle reports whether the renumbered dependency graph contains a cycle.
// Cyclic steps can never become ready, which would leave the plan holding an
// active slot forever.
func hasCycle(steps []DraftStep) bool {
	indegree := make(map[int]int, len(steps))
	dependents := make(map[int][]int, len(steps))
	for _, s := range steps {
		indegree[s.Order] += 0
		for _, dep := range s.DependsOn {
			indegree[s.Order]++
			dependents[dep] = append(dependents[dep], s.Order)
		}
	}

	queue := make([]int, 0, len(steps))
	for order, deg := range indegree {
		if deg == 0 {
			queue = append(queue, order)
		}
	}

	resolved := 0
	for len(queue) > 0 {
		order := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range dependents[order] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return resolved != len(steps)
}

// SavePlan persists a validated draft as one atomic plan+steps unit and
// returns the new plan ID. The plan priority is derived from the goal.
func (e *Engine) SavePlan(ctx context.Context, g goal.Goal, draft *Draft) (string, error) {
	plan := &store.Plan{
		ID:          uuid.New().String(),
		GoalID:      g.ID,
		Name:        draft.Name,
		Description: draft.Description,
		Status:      store.PlanStatusPending,
		Priority:    g.Priority,
	}

	// The validator has renumbered orders 1..N and translated dependencies to
	// that numbering, so the order-to-ID mapping here is consistent with the
	// references being resolved.
	idByOrder := make(map[int]string, len(draft.Steps))
	steps := make([]store.Step, 0, len(draft.Steps))
	for _, ds := range draft.Steps {
		id, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("failed to generate step ID: %w", err)
		}
		idByOrder[ds.Order] = id

		actionType, ok := action.ParseType(ds.Action)
		if !ok {
			actionType = action.TypeReason
		}
		steps = append(steps, store.Step{
			ID:      id,
			PlanID:  plan.ID,
			Order:   ds.Order,
			Name:    ds.Name,
			Action:  actionType,
			Payload: ds.Payload,
			Status:  store.StepStatusPending,
		})
	}
	for i, ds := range draft.Steps {
		for _, dep := range ds.DependsOn {
			id, ok := idByOrder[dep]
			if !ok {
				return "", fmt.Errorf("step %d references unknown step order %d", ds.Order, dep)
			}
			steps[i].DependsOn = append(steps[i].DependsOn, id)
		}
	}

	if err := e.store.CreatePlan(ctx, plan, steps); err != nil {
		return "", err
	}
	return plan.ID, nil
}

// RunOnce performs one planning pass: detect plannable goals and plan the
// highest-priority ones while capacity allows. Returns the number of plans
// created.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	candidates, err := e.DetectPlannableGoals(ctx, e.cfg.StalenessDays)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, g := range candidates {
		draft, err := e.GeneratePlan(ctx, g)
		if err != nil {
			return created, err
		}
		if draft == nil {
			continue
		}
		planID, err := e.SavePlan(ctx, g, draft)
		if err != nil {
			// Persistence failure leaves nothing behind; the goal stays a
			// candidate for the next pass.
			e.logger.Error().Str("goal_id", g.ID).Err(err).Msg("Failed to persist plan")
			continue
		}
		e.logger.Info().
			Str("goal_id", g.ID).
			Str("plan_id", planID).
			Int("steps", len(draft.Steps)).
			Msg("Plan created")
		created++
	}
	return created, nil
}
