package dispatch

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalationAfterThreshold(t *testing.T) {
	cache, err := NewEscalationCache(16, 3, 32)
	require.NoError(t, err)

	intent := "book the usual table"
	assert.False(t, cache.ShouldEscalate(intent))

	cache.RecordFailure(intent)
	cache.RecordFailure(intent)
	assert.False(t, cache.ShouldEscalate(intent), "below threshold")

	cache.RecordFailure(intent)
	assert.True(t, cache.ShouldEscalate(intent))
}

func TestEscalationClearedBySuccess(t *testing.T) {
	cache, err := NewEscalationCache(16, 2, 32)
	require.NoError(t, err)

	intent := "book the usual table"
	cache.RecordFailure(intent)
	cache.RecordFailure(intent)
	require.True(t, cache.ShouldEscalate(intent))

	cache.RecordSuccess(intent)
	assert.False(t, cache.ShouldEscalate(intent))
}

func TestEscalationGroupsByPrefix(t *testing.T) {
	cache, err := NewEscalationCache(16, 2, 16)
	require.NoError(t, err)

	// Same 16-char prefix, different tails.
	cache.RecordFailure("schedule dinner with Ana on friday")
	cache.RecordFailure("schedule dinner with Ben tomorrow")

	assert.True(t, cache.ShouldEscalate("schedule dinner somewhere nice"))
	assert.False(t, cache.ShouldEscalate("completely unrelated request"))
}

func TestEscalationCacheBounded(t *testing.T) {
	cache, err := NewEscalationCache(2, 1, 64)
	require.NoError(t, err)

	cache.RecordFailure("intent one")
	cache.RecordFailure("intent two")
	cache.RecordFailure("intent three") // evicts the oldest entry

	assert.False(t, cache.ShouldEscalate("intent one"))
	assert.True(t, cache.ShouldEscalate("intent three"))
}

func TestEscalationNormalizesCase(t *testing.T) {
	cache, err := NewEscalationCache(16, 1, 32)
	require.NoError(t, err)

	cache.RecordFailure("  Book The Usual Table  ")
	assert.True(t, cache.ShouldEscalate("book the usual table"))
	assert.True(t, cache.ShouldEscalate(strings.ToUpper("book the usual table")))
}

func TestEscalationKeyStaysValidUTF8(t *testing.T) {
	cache, err := NewEscalationCache(16, 1, 11)
	require.NoError(t, err)

	// A naive byte slice at 11 would split the second "é" (bytes 10-11).
	intent := "réserver équipe réunion demain"
	key := cache.key(intent)
	assert.True(t, utf8.ValidString(key), "key %q is not valid UTF-8", key)
	assert.LessOrEqual(t, len(key), 11)

	cache.RecordFailure(intent)
	assert.True(t, cache.ShouldEscalate(intent))
}
