package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock abstracts time for budget accounting so tests can control the
// calendar day.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// BudgetStore persists the per-day remote dispatch counter.
type BudgetStore interface {
	DispatchCount(ctx context.Context, day string) (int, error)
	IncrementDispatchCount(ctx context.Context, day string) error
}

// Budget caps remote-tier dispatches per calendar day. The counter resets
// implicitly when the day key changes. All access is serialized so the cap
// stays accurate if dispatchers ever run concurrently.
type Budget struct {
	mu    sync.Mutex
	store BudgetStore
	clock Clock
	limit int
}

// NewBudget creates a budget with the given daily cap.
func NewBudget(store BudgetStore, clock Clock, limit int) *Budget {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Budget{store: store, clock: clock, limit: limit}
}

// TryAcquire consumes one remote dispatch from today's budget. It returns
// false when the cap is already reached.
func (b *Budget) TryAcquire(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	day := b.day()
	count, err := b.store.DispatchCount(ctx, day)
	if err != nil {
		return false, fmt.Errorf("failed to read budget: %w", err)
	}
	if count >= b.limit {
		return false, nil
	}
	if err := b.store.IncrementDispatchCount(ctx, day); err != nil {
		return false, fmt.Errorf("failed to charge budget: %w", err)
	}
	return true, nil
}

// Remaining returns how many remote dispatches are left today.
func (b *Budget) Remaining(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count, err := b.store.DispatchCount(ctx, b.day())
	if err != nil {
		return 0, fmt.Errorf("failed to read budget: %w", err)
	}
	remaining := b.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Limit returns the configured daily cap.
func (b *Budget) Limit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit
}

// SetLimit changes the daily cap at runtime (config hot reload). Lowering it
// below today's spend stops further remote dispatches without refunding any.
func (b *Budget) SetLimit(limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limit = limit
}

func (b *Budget) day() string {
	return b.clock.Now().Format("2006-01-02")
}
