package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nadia/kinara/pkg/action"
	"github.com/nadia/kinara/pkg/reasoning"
	"github.com/nadia/kinara/pkg/store"
)

// outboxMessenger delivers messages by appending them to a JSONL outbox file
// that a companion notification channel drains.
type outboxMessenger struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

func newOutboxMessenger(path string, logger zerolog.Logger) *outboxMessenger {
	return &outboxMessenger{path: path, logger: logger}
}

type outboxEntry struct {
	Recipient string    `json:"recipient,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (o *outboxMessenger) Send(ctx context.Context, recipient, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message body is empty")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open outbox: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(outboxEntry{Recipient: recipient, Body: body, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write outbox: %w", err)
	}

	o.logger.Info().Str("recipient", recipient).Int("bytes", len(body)).Msg("Message queued in outbox")
	return nil
}

// logRecaller answers recall queries from the execution log.
type logRecaller struct {
	store *store.Store
}

func (r *logRecaller) Recall(ctx context.Context, query string) (string, error) {
	entries, err := r.store.SearchLog(ctx, query, 10)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "nothing recorded about: " + query, nil
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Action, e.Summary)
	}
	return sb.String(), nil
}

// modelSearcher answers search queries with the local model. It is a
// knowledge lookup, not a live web search; swap in a real search backend by
// replacing this in the executor wiring.
type modelSearcher struct {
	provider reasoning.Provider
}

func (s *modelSearcher) Search(ctx context.Context, query string) (string, error) {
	resp, err := s.provider.Generate(ctx, reasoning.Request{
		SystemPrompt: "Answer the query concisely from general knowledge. If you do not know, say so.",
		Messages:     []reasoning.Message{{Role: "user", Content: query}},
		MaxTokens:    1024,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// registerActions populates the action catalogue the dispatcher selects from.
func (d *Daemon) registerActions(messenger *outboxMessenger, recaller *logRecaller) {
	must := func(err error) {
		if err != nil {
			// Registration only fails on programmer error (bad schema, dup name).
			panic(err)
		}
	}

	must(d.catalog.Register(action.Definition{
		Name:        "send_message",
		Description: "Send a message to the user or a named recipient",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"recipient": map[string]interface{}{"type": "string"},
				"body":      map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"body"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			recipient, _ := params["recipient"].(string)
			body, _ := params["body"].(string)
			if err := messenger.Send(ctx, recipient, body); err != nil {
				return nil, err
			}
			return "message queued", nil
		},
	}))

	must(d.catalog.Register(action.Definition{
		Name:        "recall_memory",
		Description: "Look up what the system previously did or learned about a topic",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"query"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			return recaller.Recall(ctx, query)
		},
	}))

	must(d.catalog.Register(action.Definition{
		Name:        "record_goal_activity",
		Description: "Mark a goal as recently worked on so it is not re-planned",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"goal_id": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"goal_id"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			goalID, _ := params["goal_id"].(string)
			if err := d.goals.TouchActivity(ctx, goalID, time.Now()); err != nil {
				return nil, err
			}
			return "activity recorded", nil
		},
	}))

	must(d.catalog.Register(action.Definition{
		Name:        "get_plan_status",
		Description: "Summarize current plans and their progress",
		Schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			summary, err := d.store.Summary(ctx, 5)
			if err != nil {
				return nil, err
			}
			return summary, nil
		},
	}))
}
