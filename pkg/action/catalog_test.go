package action

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return params["text"], nil
}

func TestRegisterAndExecute(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.Register(Definition{
		Name:        "echo",
		Description: "echo text back",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"text"},
		},
		Handler: echoHandler,
	}))

	result := catalog.Execute(context.Background(), "echo", map[string]interface{}{"text": "hello"})
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Output)
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
}

func TestExecuteValidatesParameters(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.Register(Definition{
		Name: "echo",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"text"},
		},
		Handler: echoHandler,
	}))

	t.Run("missing required parameter", func(t *testing.T) {
		result := catalog.Execute(context.Background(), "echo", map[string]interface{}{})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "invalid parameters")
	})

	t.Run("wrong type", func(t *testing.T) {
		result := catalog.Execute(context.Background(), "echo", map[string]interface{}{"text": 42})
		assert.False(t, result.Success)
	})

	t.Run("nil params treated as empty object", func(t *testing.T) {
		result := catalog.Execute(context.Background(), "echo", nil)
		assert.False(t, result.Success)
	})
}

func TestExecuteUnknownAction(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())
	result := catalog.Execute(context.Background(), "nope", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown action")
}

func TestExecuteFoldsHandlerError(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.Register(Definition{
		Name: "boom",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("backend down")
		},
	}))

	result := catalog.Execute(context.Background(), "boom", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "backend down", result.Error)
}

func TestExecuteRecoversHandlerPanic(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.Register(Definition{
		Name: "panic",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("unexpected state")
		},
	}))

	result := catalog.Execute(context.Background(), "panic", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.Register(Definition{Name: "echo", Handler: echoHandler}))
	assert.Error(t, catalog.Register(Definition{Name: "echo", Handler: echoHandler}))
}

func TestRegisterRejectsMissingHandler(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())
	assert.Error(t, catalog.Register(Definition{Name: "echo"}))
	assert.Error(t, catalog.Register(Definition{Handler: echoHandler}))
}

func TestListSorted(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, catalog.Register(Definition{Name: name, Handler: echoHandler}))
	}
	defs := catalog.List()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "mid", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)
}
