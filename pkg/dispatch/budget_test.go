package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

type memBudgetStore struct {
	counts  map[string]int
	failing bool
}

func newMemBudgetStore() *memBudgetStore {
	return &memBudgetStore{counts: make(map[string]int)}
}

func (m *memBudgetStore) DispatchCount(ctx context.Context, day string) (int, error) {
	if m.failing {
		return 0, fmt.Errorf("store unavailable")
	}
	return m.counts[day], nil
}

func (m *memBudgetStore) IncrementDispatchCount(ctx context.Context, day string) error {
	if m.failing {
		return fmt.Errorf("store unavailable")
	}
	m.counts[day]++
	return nil
}

func TestBudgetEnforcesDailyCap(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)}
	budget := NewBudget(newMemBudgetStore(), clock, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := budget.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok, "acquire %d should succeed", i+1)
	}

	ok, err := budget.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "cap reached")

	remaining, err := budget.Remaining(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestBudgetResetsOnNewDay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 27, 23, 59, 0, 0, time.UTC)}
	budget := NewBudget(newMemBudgetStore(), clock, 1)
	ctx := context.Background()

	ok, err := budget.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = budget.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Midnight passes.
	clock.now = clock.now.Add(2 * time.Minute)

	ok, err = budget.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "new calendar day starts a fresh budget")
}

func TestBudgetStoreFailure(t *testing.T) {
	store := newMemBudgetStore()
	store.failing = true
	budget := NewBudget(store, &fakeClock{now: time.Now()}, 5)

	ok, err := budget.TryAcquire(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestBudgetSetLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)}
	budget := NewBudget(newMemBudgetStore(), clock, 2)
	ctx := context.Background()

	ok, err := budget.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Lowering the cap below today's spend blocks further acquires.
	budget.SetLimit(1)
	ok, err = budget.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, budget.Limit())

	budget.SetLimit(5)
	ok, err = budget.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
