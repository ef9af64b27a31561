// Package dispatch resolves free-form automation intents into executed
// catalogue actions, routing between a cheap and an expensive reasoning tier
// under a shared daily budget.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/nadia/kinara/pkg/action"
	"github.com/nadia/kinara/pkg/reasoning"
)

const defaultMaxTurns = 5

// Recorder receives one record per dispatch for budget accounting and
// escalation learning.
type Recorder interface {
	RecordDispatch(tier reasoning.Tier, latency time.Duration, success bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordDispatch(reasoning.Tier, time.Duration, bool) {}

// ExecutedAction is one catalogue action run during a dispatch.
type ExecutedAction struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
	Result action.Result          `json:"result"`
}

// Result is the outcome of one dispatch.
type Result struct {
	Tier       reasoning.Tier   `json:"tier"`
	Complexity Complexity       `json:"complexity"`
	Summary    string           `json:"summary"`
	Actions    []ExecutedAction `json:"actions,omitempty"`
	NoOp       bool             `json:"no_op,omitempty"`
	Latency    time.Duration    `json:"latency"`
}

// Config holds dispatcher construction parameters.
type Config struct {
	Local      reasoning.Provider
	Remote     reasoning.Provider
	Catalog    *action.Catalog
	Budget     *Budget
	Escalation *EscalationCache
	Recorder   Recorder
	Logger     zerolog.Logger
	MaxTurns   int // complex-path turn cap, default 5
	MaxTokens  int
}

// Dispatcher routes intents between the two reasoning tiers.
type Dispatcher struct {
	local      reasoning.Provider
	remote     reasoning.Provider
	catalog    *action.Catalog
	budget     *Budget
	escalation *EscalationCache
	recorder   Recorder
	logger     zerolog.Logger
	maxTurns   int
	maxTokens  int
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("local provider is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote provider is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("action catalog is required")
	}
	if cfg.Budget == nil {
		return nil, fmt.Errorf("dispatch budget is required")
	}
	if cfg.Escalation == nil {
		return nil, fmt.Errorf("escalation cache is required")
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Dispatcher{
		local:      cfg.Local,
		remote:     cfg.Remote,
		catalog:    cfg.Catalog,
		budget:     cfg.Budget,
		escalation: cfg.Escalation,
		recorder:   recorder,
		logger:     cfg.Logger.With().Str("component", "dispatch").Logger(),
		maxTurns:   maxTurns,
		maxTokens:  cfg.MaxTokens,
	}, nil
}

// Dispatch resolves a free-form intent into executed catalogue actions.
// Complex intents run a bounded tool loop on the remote tier when the daily
// budget allows; everything else, including any complex-path failure, lands
// on the cheap tier.
func (d *Dispatcher) Dispatch(ctx context.Context, intent string) (*Result, error) {
	start := time.Now()

	complexity := ClassifyComplexity(intent)
	if complexity == ComplexitySimple && d.escalation.ShouldEscalate(intent) {
		d.logger.Debug().Str("intent", truncate(intent, 80)).Msg("Escalation override: forcing complex path")
		complexity = ComplexityComplex
	}

	var result *Result
	var err error

	if complexity == ComplexityComplex {
		acquired, budgetErr := d.budget.TryAcquire(ctx)
		if budgetErr != nil {
			d.logger.Warn().Err(budgetErr).Msg("Budget check failed, falling back to local tier")
			acquired = false
		}
		if acquired {
			result, err = d.runComplexSafely(ctx, intent)
			if err != nil {
				d.logger.Warn().Err(err).Msg("Complex path failed, falling back to simple path")
				result, err = d.runSimple(ctx, intent)
			}
		} else {
			d.logger.Info().Msg("Remote budget exhausted, serving complex intent on local tier")
			result, err = d.runSimple(ctx, intent)
		}
	} else {
		result, err = d.runSimple(ctx, intent)
	}

	latency := time.Since(start)
	if err != nil {
		d.recorder.RecordDispatch(reasoning.TierLocal, latency, false)
		return nil, err
	}

	result.Complexity = complexity
	result.Latency = latency
	d.recorder.RecordDispatch(result.Tier, latency, !result.NoOp)

	d.logger.Info().
		Str("tier", string(result.Tier)).
		Str("complexity", string(complexity)).
		Int("actions", len(result.Actions)).
		Dur("latency", latency).
		Msg("Dispatch complete")
	return result, nil
}

// runComplexSafely wraps the complex path so that panics from providers or
// handlers degrade to a simple-path retry instead of propagating.
func (d *Dispatcher) runComplexSafely(ctx context.Context, intent string) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("complex path panicked: %v", r)
		}
	}()
	return d.runComplex(ctx, intent)
}

// runComplex drives a bounded multi-turn tool loop against the remote tier.
func (d *Dispatcher) runComplex(ctx context.Context, intent string) (*Result, error) {
	defs := d.catalog.List()
	tools := make([]reasoning.ToolSpec, 0, len(defs))
	for _, def := range defs {
		schema := def.Schema
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		tools = append(tools, reasoning.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}

	messages := []reasoning.Message{{Role: "user", Content: intent}}
	executed := []ExecutedAction{}

	for turn := 0; turn < d.maxTurns; turn++ {
		resp, err := d.remote.Generate(ctx, reasoning.Request{
			SystemPrompt: complexSystemPrompt,
			Messages:     messages,
			Tools:        tools,
			MaxTokens:    d.maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("remote tier turn %d: %w", turn+1, err)
		}

		if len(resp.ToolCalls) == 0 {
			return &Result{
				Tier:    reasoning.TierRemote,
				Summary: resp.Content,
				Actions: executed,
			}, nil
		}

		messages = append(messages, reasoning.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			res := d.catalog.Execute(ctx, call.Name, call.Parameters)
			executed = append(executed, ExecutedAction{
				Name:   call.Name,
				Params: call.Parameters,
				Result: res,
			})

			content := fmt.Sprintf("%v", res.Output)
			if !res.Success {
				content = "Error: " + res.Error
			}
			messages = append(messages, reasoning.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	// Turn cap reached without a terminal response: return what ran.
	return &Result{
		Tier:    reasoning.TierRemote,
		Summary: fmt.Sprintf("stopped after %d turns with %d actions executed", d.maxTurns, len(executed)),
		Actions: executed,
	}, nil
}

// simpleSelection is the schema the cheap tier is asked to fill.
type simpleSelection struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

// runSimple asks the cheap tier to pick exactly one catalogue action. A parse
// failure or an explicit "none" yields a structured no-op, never an error.
func (d *Dispatcher) runSimple(ctx context.Context, intent string) (*Result, error) {
	var sb strings.Builder
	for _, def := range d.catalog.List() {
		fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
	}

	resp, err := d.local.Generate(ctx, reasoning.Request{
		SystemPrompt: fmt.Sprintf(simpleSystemPrompt, sb.String()),
		Messages:     []reasoning.Message{{Role: "user", Content: intent}},
		MaxTokens:    d.maxTokens,
	})
	if err != nil {
		d.escalation.RecordFailure(intent)
		return nil, fmt.Errorf("local tier: %w", err)
	}

	var selection simpleSelection
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &selection); err != nil || selection.Action == "" {
		d.escalation.RecordFailure(intent)
		return &Result{
			Tier:    reasoning.TierLocal,
			Summary: "no actionable selection from local tier",
			NoOp:    true,
		}, nil
	}

	if selection.Action == "none" {
		return &Result{
			Tier:    reasoning.TierLocal,
			Summary: "no suitable action for this intent",
			NoOp:    true,
		}, nil
	}

	res := d.catalog.Execute(ctx, selection.Action, selection.Params)
	if res.Success {
		d.escalation.RecordSuccess(intent)
	} else {
		d.escalation.RecordFailure(intent)
	}

	summary := fmt.Sprintf("executed %s", selection.Action)
	if !res.Success {
		summary = fmt.Sprintf("%s failed: %s", selection.Action, res.Error)
	}

	return &Result{
		Tier:    reasoning.TierLocal,
		Summary: summary,
		Actions: []ExecutedAction{{Name: selection.Action, Params: selection.Params, Result: res}},
	}, nil
}

const complexSystemPrompt = `You are an automation assistant. Use the provided tools to carry out the user's request. When the work is done, reply with a short plain-text summary of what was accomplished.`

const simpleSystemPrompt = `You are an automation assistant. Pick exactly one action that best serves the user's request.

Available actions:
%s
Respond with JSON only, in the form {"action": "<name>", "params": {...}}.
If no action fits, respond with {"action": "none", "params": {}}.`

// extractJSON strips markdown code fences and surrounding prose from a model
// response, returning the first top-level JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return truncateAtRune(s, max) + "..."
}

// truncateAtRune cuts s to at most max bytes without splitting a rune.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
