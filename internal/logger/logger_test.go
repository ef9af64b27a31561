package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kinara.log")
	log, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)
	defer log.Close()

	zl := log.Zerolog()
	zl.Info().Str("key", "value").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), `"key":"value"`)
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinara.log")
	log, err := New(Config{Level: "warn", File: path})
	require.NoError(t, err)
	defer log.Close()

	zl := log.Zerolog()
	zl.Info().Msg("ignored")
	zl.Warn().Msg("kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ignored")
	assert.Contains(t, string(data), "kept")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "chatty"})
	require.NoError(t, err)
	defer log.Close()
	assert.Equal(t, "info", log.Zerolog().GetLevel().String())
}
