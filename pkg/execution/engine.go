// Package execution drives persisted plans to completion: it promotes pending
// plans into the active window, executes ready steps through their action
// dispatchers, and rolls plans up to a terminal state.
package execution

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/nadia/kinara/pkg/action"
	"github.com/nadia/kinara/pkg/dispatch"
	"github.com/nadia/kinara/pkg/reasoning"
	"github.com/nadia/kinara/pkg/store"
)

const resultMaxLen = 500

// AutomationDispatcher resolves a free-form intent into executed actions.
type AutomationDispatcher interface {
	Dispatch(ctx context.Context, intent string) (*dispatch.Result, error)
}

// Messenger delivers a message to the user or a named recipient.
type Messenger interface {
	Send(ctx context.Context, recipient, body string) error
}

// Searcher runs an external information lookup.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Recaller queries stored personal context.
type Recaller interface {
	Recall(ctx context.Context, query string) (string, error)
}

// Recorder receives execution events for metrics.
type Recorder interface {
	RecordStep(actionType action.Type, success bool, duration time.Duration)
	RecordPlanTerminal(status store.PlanStatus)
}

type nopRecorder struct{}

func (nopRecorder) RecordStep(action.Type, bool, time.Duration) {}
func (nopRecorder) RecordPlanTerminal(store.PlanStatus)         {}

// Config holds execution engine tunables and collaborators.
type Config struct {
	MaxActivePlans int
	MaxRetries     int
	StepTimeout    time.Duration

	Dispatcher AutomationDispatcher
	Messenger  Messenger
	Searcher   Searcher
	Recaller   Recaller
	Reasoner   reasoning.Provider
	Recorder   Recorder
}

// Summary reports what one execution pass did.
type Summary struct {
	PlansActive    int
	StepsExecuted  int
	PlansCompleted int
	PlansFailed    int
}

// Engine executes active plans one step at a time.
type Engine struct {
	store          *store.Store
	dispatcher     AutomationDispatcher
	messenger      Messenger
	searcher       Searcher
	recaller       Recaller
	reasoner       reasoning.Provider
	recorder       Recorder
	logger         zerolog.Logger
	maxActivePlans int
	maxRetries     int
	stepTimeout    time.Duration
}

// New creates an execution engine. Messenger, Searcher, and Recaller may be
// nil; steps of those action types then fail permanently with a configuration
// error.
func New(st *store.Store, logger zerolog.Logger, cfg Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("automation dispatcher is required")
	}
	if cfg.Reasoner == nil {
		return nil, fmt.Errorf("reasoning provider is required")
	}
	if cfg.MaxActivePlans <= 0 {
		cfg.MaxActivePlans = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 300 * time.Second
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{
		store:          st,
		dispatcher:     cfg.Dispatcher,
		messenger:      cfg.Messenger,
		searcher:       cfg.Searcher,
		recaller:       cfg.Recaller,
		reasoner:       cfg.Reasoner,
		recorder:       recorder,
		logger:         logger.With().Str("component", "execution").Logger(),
		maxActivePlans: cfg.MaxActivePlans,
		maxRetries:     cfg.MaxRetries,
		stepTimeout:    cfg.StepTimeout,
	}, nil
}

// SetConfig swaps tunables at runtime (config hot reload).
func (e *Engine) SetConfig(maxActivePlans, maxRetries int, stepTimeout time.Duration) {
	if maxActivePlans > 0 {
		e.maxActivePlans = maxActivePlans
	}
	if maxRetries > 0 {
		e.maxRetries = maxRetries
	}
	if stepTimeout > 0 {
		e.stepTimeout = stepTimeout
	}
}

// ExecuteActivePlans runs one execution pass: promote pending plans into the
// active window up to the cap, then execute every ready step of every active
// plan and roll finished plans up to their terminal state.
func (e *Engine) ExecuteActivePlans(ctx context.Context) (*Summary, error) {
	if err := e.promotePending(ctx); err != nil {
		return nil, err
	}

	active, err := e.store.PlansByStatus(ctx, store.PlanStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load active plans: %w", err)
	}

	summary := &Summary{PlansActive: len(active)}
	for i := range active {
		executed, err := e.runPlan(ctx, &active[i])
		if err != nil {
			// One broken plan must not starve the rest of the window.
			e.logger.Error().Str("plan_id", active[i].ID).Err(err).Msg("Plan pass failed")
			continue
		}
		summary.StepsExecuted += executed

		status, err := e.rollUp(ctx, active[i].ID)
		if err != nil {
			e.logger.Error().Str("plan_id", active[i].ID).Err(err).Msg("Plan roll-up failed")
			continue
		}
		switch status {
		case store.PlanStatusCompleted:
			summary.PlansCompleted++
		case store.PlanStatusFailed:
			summary.PlansFailed++
		}
	}
	return summary, nil
}

// promotePending activates pending plans by priority then age until the
// active window is full. Paused plans do not count against the window.
func (e *Engine) promotePending(ctx context.Context) error {
	activeCount, err := e.store.CountPlans(ctx, store.PlanStatusActive)
	if err != nil {
		return fmt.Errorf("failed to count active plans: %w", err)
	}
	if activeCount >= e.maxActivePlans {
		return nil
	}

	pending, err := e.store.PlansByStatus(ctx, store.PlanStatusPending)
	if err != nil {
		return fmt.Errorf("failed to load pending plans: %w", err)
	}

	for i := range pending {
		if activeCount >= e.maxActivePlans {
			break
		}
		if err := e.store.UpdatePlanStatus(ctx, pending[i].ID, store.PlanStatusActive); err != nil {
			return fmt.Errorf("failed to activate plan %s: %w", pending[i].ID, err)
		}
		e.logger.Info().
			Str("plan_id", pending[i].ID).
			Str("plan", pending[i].Name).
			Msg("Plan activated")
		activeCount++
	}
	return nil
}

// runPlan executes every ready step of one plan and returns how many attempts
// were made. A step is ready when it is pending, every dependency has
// completed, and its retry budget is not exhausted. Steps whose dependencies
// have permanently failed are cascade-failed without an attempt so the plan
// can still reach a terminal state.
func (e *Engine) runPlan(ctx context.Context, plan *store.Plan) (int, error) {
	steps, err := e.store.StepsForPlan(ctx, plan.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load steps: %w", err)
	}

	statusByID := make(map[string]store.StepStatus, len(steps))
	for i := range steps {
		statusByID[steps[i].ID] = steps[i].Status
	}

	executed := 0
	for i := range steps {
		step := &steps[i]
		if step.Status != store.StepStatusPending {
			continue
		}

		ready := true
		blocked := false
		for _, dep := range step.DependsOn {
			switch statusByID[dep] {
			case store.StepStatusCompleted:
			case store.StepStatusFailed:
				blocked = true
				ready = false
			default:
				ready = false
			}
		}

		if blocked {
			// No attempt happens, so no retry increment and no log entry.
			now := time.Now()
			step.Status = store.StepStatusFailed
			step.Result = "skipped: dependency failed permanently"
			step.CompletedAt = &now
			if err := e.store.UpdateStep(ctx, step); err != nil {
				return executed, err
			}
			statusByID[step.ID] = store.StepStatusFailed
			e.logger.Warn().
				Str("plan_id", plan.ID).
				Str("step_id", step.ID).
				Msg("Step cascade-failed behind a failed dependency")
			continue
		}
		if !ready {
			continue
		}

		if err := e.executeStep(ctx, plan, step); err != nil {
			return executed, err
		}
		executed++
		statusByID[step.ID] = step.Status
	}
	return executed, nil
}

// executeStep makes exactly one attempt at a step and records exactly one
// execution log entry for it, success or failure.
func (e *Engine) executeStep(ctx context.Context, plan *store.Plan, step *store.Step) error {
	now := time.Now()
	step.Status = store.StepStatusRunning
	step.StartedAt = &now
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("failed to mark step running: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	start := time.Now()
	output, runErr := e.runAction(attemptCtx, step)
	duration := time.Since(start)
	cancel()

	done := time.Now()
	if runErr == nil {
		step.Status = store.StepStatusCompleted
		step.Result = truncate(output, resultMaxLen)
		step.CompletedAt = &done
	} else {
		step.RetryCount++
		step.Result = truncate(runErr.Error(), resultMaxLen)
		// Permanent errors are not worth further attempts.
		if step.RetryCount >= e.maxRetries || !reasoning.IsRetryable(runErr) {
			step.Status = store.StepStatusFailed
			step.CompletedAt = &done
		} else {
			step.Status = store.StepStatusPending
			step.StartedAt = nil
		}
	}
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("failed to record step outcome: %w", err)
	}

	if err := e.appendAttemptLog(ctx, plan, step, runErr, output, duration); err != nil {
		// Audit writes never block step progress.
		e.logger.Error().Str("step_id", step.ID).Err(err).Msg("Failed to append execution log entry")
	}
	e.recorder.RecordStep(step.Action, runErr == nil, duration)

	evt := e.logger.Info()
	if runErr != nil {
		evt = e.logger.Warn().Err(runErr).Int("retry_count", step.RetryCount)
	}
	evt.Str("plan_id", plan.ID).
		Str("step_id", step.ID).
		Str("action", string(step.Action)).
		Str("status", string(step.Status)).
		Dur("duration", duration).
		Msg("Step attempt finished")
	return nil
}

func (e *Engine) appendAttemptLog(ctx context.Context, plan *store.Plan, step *store.Step, runErr error, output string, duration time.Duration) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate log ID: %w", err)
	}
	summary := truncate(output, resultMaxLen)
	if runErr != nil {
		summary = truncate(runErr.Error(), resultMaxLen)
	}
	return e.store.AppendLog(ctx, &store.LogEntry{
		ID:       id,
		PlanID:   plan.ID,
		StepID:   step.ID,
		Action:   step.Action,
		Success:  runErr == nil,
		Summary:  summary,
		Duration: duration,
	})
}

// runAction routes a step to its action implementation. The switch is
// exhaustive over the action types the validator admits.
func (e *Engine) runAction(ctx context.Context, step *store.Step) (string, error) {
	switch step.Action {
	case action.TypeAutomate:
		intent := payloadString(step.Payload, "intent", "description")
		if intent == "" {
			intent = step.Name
		}
		res, err := e.dispatcher.Dispatch(ctx, intent)
		if err != nil {
			return "", err
		}
		if res.NoOp {
			return "", fmt.Errorf("automation produced no action: %s", res.Summary)
		}
		return res.Summary, nil

	case action.TypeMessage:
		if e.messenger == nil {
			return "", fmt.Errorf("no messenger configured")
		}
		body := payloadString(step.Payload, "body", "message", "content")
		if body == "" {
			body = step.Name
		}
		recipient := payloadString(step.Payload, "recipient", "to")
		if err := e.messenger.Send(ctx, recipient, body); err != nil {
			return "", err
		}
		return "message sent", nil

	case action.TypeSearch:
		if e.searcher == nil {
			return "", fmt.Errorf("no searcher configured")
		}
		query := payloadString(step.Payload, "query", "q")
		if query == "" {
			query = step.Name
		}
		return e.searcher.Search(ctx, query)

	case action.TypeRecall:
		if e.recaller == nil {
			return "", fmt.Errorf("no recaller configured")
		}
		query := payloadString(step.Payload, "query", "topic")
		if query == "" {
			query = step.Name
		}
		return e.recaller.Recall(ctx, query)

	case action.TypeReason:
		prompt := payloadString(step.Payload, "prompt", "question")
		if prompt == "" {
			prompt = step.Name
		}
		resp, err := e.reasoner.Generate(ctx, reasoning.Request{
			Messages:  []reasoning.Message{{Role: "user", Content: prompt}},
			MaxTokens: 1024,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil

	default:
		return "", fmt.Errorf("unknown action type: %s", step.Action)
	}
}

// rollUp recomputes plan progress and transitions the plan to a terminal
// state when every step has resolved. Any permanently failed step makes the
// whole plan failed.
func (e *Engine) rollUp(ctx context.Context, planID string) (store.PlanStatus, error) {
	if _, err := e.store.RefreshPlanProgress(ctx, planID); err != nil {
		return "", err
	}

	steps, err := e.store.StepsForPlan(ctx, planID)
	if err != nil {
		return "", err
	}

	completed, failed := 0, 0
	for i := range steps {
		switch steps[i].Status {
		case store.StepStatusCompleted:
			completed++
		case store.StepStatusFailed:
			failed++
		}
	}
	if completed+failed < len(steps) {
		return store.PlanStatusActive, nil
	}

	status := store.PlanStatusCompleted
	if failed > 0 {
		status = store.PlanStatusFailed
	}
	if err := e.store.UpdatePlanStatus(ctx, planID, status); err != nil {
		return "", err
	}
	e.recorder.RecordPlanTerminal(status)
	e.logger.Info().
		Str("plan_id", planID).
		Str("status", string(status)).
		Int("completed", completed).
		Int("failed", failed).
		Msg("Plan reached terminal state")
	return status, nil
}

// PausePlan moves a pending or active plan to paused. Paused plans free up
// their slot in the active window.
func (e *Engine) PausePlan(ctx context.Context, planID string) error {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != store.PlanStatusPending && plan.Status != store.PlanStatusActive {
		return fmt.Errorf("cannot pause plan in status %s", plan.Status)
	}
	return e.store.UpdatePlanStatus(ctx, planID, store.PlanStatusPaused)
}

// ResumePlan moves a paused plan back to pending. It re-enters the active
// window through normal promotion so the cap still holds.
func (e *Engine) ResumePlan(ctx context.Context, planID string) error {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != store.PlanStatusPaused {
		return fmt.Errorf("cannot resume plan in status %s", plan.Status)
	}
	return e.store.UpdatePlanStatus(ctx, planID, store.PlanStatusPending)
}

// PlanDetail is a plan with its steps and recent execution history.
type PlanDetail struct {
	Plan  *store.Plan      `json:"plan"`
	Steps []store.Step     `json:"steps"`
	Log   []store.LogEntry `json:"log"`
}

// PlanSummary loads one plan with its steps and recent log entries.
func (e *Engine) PlanSummary(ctx context.Context, planID string) (*PlanDetail, error) {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.StepsForPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	log, err := e.store.LogForPlan(ctx, planID, 20)
	if err != nil {
		return nil, err
	}
	return &PlanDetail{Plan: plan, Steps: steps, Log: log}, nil
}

func payloadString(payload map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never leaves invalid UTF-8.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
