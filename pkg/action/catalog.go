// Package action holds the closed action-type vocabulary and the catalogue of
// executable capabilities the dispatcher draws from.
package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Handler is the function signature for catalogue action execution.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Definition describes one executable capability.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema"`
	Handler     Handler                `json:"-"`
}

// Result is the outcome of one catalogue action execution.
type Result struct {
	Success  bool          `json:"success"`
	Output   interface{}   `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Catalog manages the set of available actions.
type Catalog struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewCatalog creates an empty catalogue.
func NewCatalog(logger zerolog.Logger) *Catalog {
	return &Catalog{
		defs:    make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// Register adds an action to the catalogue, compiling its parameter schema.
func (c *Catalog) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("action name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("action %s: handler is required", def.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.defs[def.Name]; exists {
		return fmt.Errorf("action %s already registered", def.Name)
	}

	if def.Schema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Schema))
		if err != nil {
			return fmt.Errorf("action %s: invalid schema: %w", def.Name, err)
		}
		c.schemas[def.Name] = schema
	}

	c.defs[def.Name] = &def
	c.logger.Debug().Str("action", def.Name).Msg("Action registered")
	return nil
}

// List returns all registered actions sorted by name.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		defs = append(defs, *d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Get returns the definition for a named action, or nil if unknown.
func (c *Catalog) Get(name string) *Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defs[name]
}

// Execute runs a named action after validating its parameters against the
// registered schema. Errors are folded into the Result; Execute itself never
// panics outward.
func (c *Catalog) Execute(ctx context.Context, name string, params map[string]interface{}) Result {
	start := time.Now()

	c.mu.RLock()
	def := c.defs[name]
	schema := c.schemas[name]
	c.mu.RUnlock()

	if def == nil {
		return Result{Error: fmt.Sprintf("unknown action: %s", name), Duration: time.Since(start)}
	}

	if schema != nil {
		if params == nil {
			params = map[string]interface{}{}
		}
		validation, err := schema.Validate(gojsonschema.NewGoLoader(params))
		if err != nil {
			return Result{Error: fmt.Sprintf("parameter validation failed: %v", err), Duration: time.Since(start)}
		}
		if !validation.Valid() {
			return Result{Error: fmt.Sprintf("invalid parameters: %v", validation.Errors()), Duration: time.Since(start)}
		}
	}

	output, err := c.runHandler(ctx, def, params)
	duration := time.Since(start)

	if err != nil {
		c.logger.Warn().Str("action", name).Err(err).Dur("duration", duration).Msg("Action failed")
		return Result{Error: err.Error(), Duration: duration}
	}

	c.logger.Debug().Str("action", name).Dur("duration", duration).Msg("Action executed")
	return Result{Success: true, Output: output, Duration: duration}
}

// runHandler isolates handler panics so a misbehaving action cannot take the
// engine down.
func (c *Catalog) runHandler(ctx context.Context, def *Definition, params map[string]interface{}) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", def.Name, r)
		}
	}()
	return def.Handler(ctx, params)
}
