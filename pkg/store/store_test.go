package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia/kinara/pkg/action"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func makePlan(id, goalID string, priority float64) *Plan {
	return &Plan{
		ID:       id,
		GoalID:   goalID,
		Name:     "plan " + id,
		Status:   PlanStatusPending,
		Priority: priority,
	}
}

func makeSteps(planID string, n int) []Step {
	steps := make([]Step, n)
	for i := range steps {
		steps[i] = Step{
			ID:     planID + "-s" + string(rune('a'+i)),
			PlanID: planID,
			Order:  i + 1,
			Name:   "step",
			Action: action.TypeReason,
			Status: StepStatusPending,
		}
	}
	return steps
}

func TestCreatePlanAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	plan := makePlan("p1", "g1", 0.8)
	steps := makeSteps("p1", 3)
	steps[1].DependsOn = []string{steps[0].ID}
	steps[1].Payload = map[string]interface{}{"query": "weather"}

	require.NoError(t, st.CreatePlan(ctx, plan, steps))

	got, err := st.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GoalID)
	assert.Equal(t, 3, got.TotalSteps)
	assert.Equal(t, 0, got.CompletedSteps)
	assert.Equal(t, PlanStatusPending, got.Status)

	loaded, err := st.StepsForPlan(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, []string{steps[0].ID}, loaded[1].DependsOn)
	assert.Equal(t, "weather", loaded[1].Payload["query"])
}

func TestCreatePlanRejectsEmptySteps(t *testing.T) {
	st := newTestStore(t)
	err := st.CreatePlan(context.Background(), makePlan("p1", "g1", 0.5), nil)
	assert.Error(t, err)
}

func TestCreatePlanIsAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	plan := makePlan("p1", "g1", 0.5)
	steps := makeSteps("p1", 2)
	steps[1].ID = steps[0].ID // duplicate key forces the second insert to fail

	require.Error(t, st.CreatePlan(ctx, plan, steps))

	count, err := st.CountPlans(ctx, PlanStatusPending)
	require.NoError(t, err)
	assert.Zero(t, count, "failed creation must leave no plan behind")
}

func TestPlansByStatusOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePlan(ctx, makePlan("low", "g1", 0.2), makeSteps("low", 1)))
	require.NoError(t, st.CreatePlan(ctx, makePlan("high", "g2", 0.9), makeSteps("high", 1)))
	require.NoError(t, st.CreatePlan(ctx, makePlan("mid", "g3", 0.5), makeSteps("mid", 1)))

	plans, err := st.PlansByStatus(ctx, PlanStatusPending)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "high", plans[0].ID)
	assert.Equal(t, "mid", plans[1].ID)
	assert.Equal(t, "low", plans[2].ID)
}

func TestHasLivePlan(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePlan(ctx, makePlan("p1", "g1", 0.5), makeSteps("p1", 1)))

	live, err := st.HasLivePlan(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, live)

	// Terminal and paused plans do not count as live.
	require.NoError(t, st.UpdatePlanStatus(ctx, "p1", PlanStatusCompleted))
	live, err = st.HasLivePlan(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, live)

	live, err = st.HasLivePlan(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestRefreshPlanProgress(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	plan := makePlan("p1", "g1", 0.5)
	steps := makeSteps("p1", 3)
	require.NoError(t, st.CreatePlan(ctx, plan, steps))

	loaded, err := st.StepsForPlan(ctx, "p1")
	require.NoError(t, err)
	now := time.Now()
	loaded[0].Status = StepStatusCompleted
	loaded[0].CompletedAt = &now
	require.NoError(t, st.UpdateStep(ctx, &loaded[0]))

	completed, err := st.RefreshPlanProgress(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	got, err := st.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedSteps)
}

func TestUpdateStepRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePlan(ctx, makePlan("p1", "g1", 0.5), makeSteps("p1", 1)))
	steps, err := st.StepsForPlan(ctx, "p1")
	require.NoError(t, err)

	started := time.Now().Add(-time.Minute)
	done := time.Now()
	steps[0].Status = StepStatusFailed
	steps[0].RetryCount = 3
	steps[0].Result = "boom"
	steps[0].StartedAt = &started
	steps[0].CompletedAt = &done
	require.NoError(t, st.UpdateStep(ctx, &steps[0]))

	reloaded, err := st.StepsForPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, StepStatusFailed, reloaded[0].Status)
	assert.Equal(t, 3, reloaded[0].RetryCount)
	assert.Equal(t, "boom", reloaded[0].Result)
	require.NotNil(t, reloaded[0].StartedAt)
	require.NotNil(t, reloaded[0].CompletedAt)
}

func TestExecutionLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePlan(ctx, makePlan("p1", "g1", 0.5), makeSteps("p1", 1)))

	for i, success := range []bool{false, true} {
		require.NoError(t, st.AppendLog(ctx, &LogEntry{
			ID:        []string{"l1", "l2"}[i],
			PlanID:    "p1",
			StepID:    "p1-sa",
			Action:    action.TypeSearch,
			Success:   success,
			Summary:   "attempt",
			Duration:  125 * time.Millisecond,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	byStep, err := st.LogForStep(ctx, "p1-sa")
	require.NoError(t, err)
	require.Len(t, byStep, 2)
	assert.False(t, byStep[0].Success, "oldest first")
	assert.True(t, byStep[1].Success)
	assert.Equal(t, 125*time.Millisecond, byStep[0].Duration)

	byPlan, err := st.LogForPlan(ctx, "p1", 1)
	require.NoError(t, err)
	require.Len(t, byPlan, 1)
	assert.Equal(t, "l2", byPlan[0].ID, "newest first")
}

func TestSearchLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendLog(ctx, &LogEntry{
		ID: "l1", PlanID: "p1", StepID: "s1",
		Action: action.TypeSearch, Success: true, Summary: "found spanish podcast list",
	}))
	require.NoError(t, st.AppendLog(ctx, &LogEntry{
		ID: "l2", PlanID: "p1", StepID: "s2",
		Action: action.TypeMessage, Success: true, Summary: "sent weekly digest",
	}))

	hits, err := st.SearchLog(ctx, "spanish", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "l1", hits[0].ID)
}

func TestDispatchBudgetCounter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	count, err := st.DispatchCount(ctx, "2026-08-27")
	require.NoError(t, err)
	assert.Zero(t, count, "unknown day starts at zero")

	for i := 0; i < 3; i++ {
		require.NoError(t, st.IncrementDispatchCount(ctx, "2026-08-27"))
	}
	count, err = st.DispatchCount(ctx, "2026-08-27")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Other days are independent.
	count, err = st.DispatchCount(ctx, "2026-08-28")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSummary(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePlan(ctx, makePlan("p1", "g1", 0.5), makeSteps("p1", 1)))
	require.NoError(t, st.CreatePlan(ctx, makePlan("p2", "g2", 0.5), makeSteps("p2", 1)))
	require.NoError(t, st.UpdatePlanStatus(ctx, "p2", PlanStatusActive))

	summary, err := st.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, 1, summary.Active)
	assert.Len(t, summary.RecentPlans, 2)
}
