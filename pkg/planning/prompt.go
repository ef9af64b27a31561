package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/nadia/kinara/pkg/action"
	"github.com/nadia/kinara/pkg/goal"
)

const planSystemPrompt = `You are a planning assistant for a personal automation system. Given a goal, produce a concrete plan of 3 to 7 ordered steps that move the user toward it.

Respond with JSON only, in this form:
{
  "name": "short plan name",
  "description": "one-sentence summary",
  "steps": [
    {"order": 1, "name": "what this step does", "action": "<type>", "payload": {}, "depends_on": []}
  ]
}

Each step's "action" must be one of the listed action types. "depends_on" lists the order numbers of steps that must complete first. Keep payloads minimal and concrete.`

// draftSchema is the structural contract generated plans must satisfy before
// normalization.
const draftSchema = `{
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "action"],
        "properties": {
          "order": {"type": "integer"},
          "name": {"type": "string", "minLength": 1},
          "action": {"type": "string"},
          "payload": {"type": "object"},
          "depends_on": {"type": "array", "items": {"type": "integer"}}
        }
      }
    }
  }
}`

// buildPrompt assembles the user prompt for one goal, enriched with personal
// context when a context source is wired.
func (e *Engine) buildPrompt(ctx context.Context, g goal.Goal) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Goal: %s\n", g.Description)
	if g.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", g.Category)
	}
	fmt.Fprintf(&sb, "Priority: %.2f\n", g.Priority)

	sb.WriteString("\nAvailable action types:\n")
	for _, t := range action.AllTypes() {
		fmt.Fprintf(&sb, "- %s\n", t)
	}

	if e.context != nil {
		// Enrichment is best effort. A context failure never blocks planning.
		if topics, err := e.context.WeakTopics(ctx, g.Category, 5); err == nil && len(topics) > 0 {
			sb.WriteString("\nAreas the user has struggled with recently:\n")
			for _, t := range topics {
				fmt.Fprintf(&sb, "- %s\n", t)
			}
		}
		if prefs, err := e.context.Preferences(ctx, g.Category); err == nil && len(prefs) > 0 {
			sb.WriteString("\nUser preferences to respect:\n")
			for _, p := range prefs {
				fmt.Fprintf(&sb, "- %s\n", p)
			}
		}
	}

	sb.WriteString("\nProduce the plan now.")
	return sb.String()
}

// extractJSON trims markdown fences and surrounding prose from a model
// response, returning the first top-level JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
