package planning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia/kinara/pkg/action"
	"github.com/nadia/kinara/pkg/goal"
	"github.com/nadia/kinara/pkg/reasoning"
	"github.com/nadia/kinara/pkg/store"
)

type fakeGoalSource struct {
	goals    []goal.Goal
	recent   map[string]bool
	goalsErr error
}

func (f *fakeGoalSource) ActiveGoals(ctx context.Context) ([]goal.Goal, error) {
	return f.goals, f.goalsErr
}

func (f *fakeGoalSource) HasRecentActivity(ctx context.Context, g goal.Goal, since time.Time) (bool, error) {
	return f.recent[g.ID], nil
}

type fakeContextSource struct {
	topics []string
	prefs  []string
}

func (f *fakeContextSource) WeakTopics(ctx context.Context, category string, limit int) ([]string, error) {
	return f.topics, nil
}

func (f *fakeContextSource) Preferences(ctx context.Context, category string) ([]string, error) {
	return f.prefs, nil
}

type fakeProvider struct {
	content string
	err     error
	calls   int
	lastReq reasoning.Request
}

func (f *fakeProvider) Generate(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &reasoning.Response{Content: f.content}, nil
}

func (f *fakeProvider) Tier() reasoning.Tier { return reasoning.TierLocal }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestEngine(t *testing.T, st *store.Store, goals goal.Source, provider reasoning.Provider) *Engine {
	t.Helper()
	e, err := New(st, goals, nil, provider, zerolog.Nop(), DefaultConfig())
	require.NoError(t, err)
	return e
}

const validPlanJSON = `{
	"name": "Spanish refresh",
	"description": "Get back into daily practice",
	"steps": [
		{"order": 1, "name": "Find a beginner podcast", "action": "search", "payload": {"query": "spanish podcast"}, "depends_on": []},
		{"order": 2, "name": "Pick an episode", "action": "reason", "depends_on": [1]},
		{"order": 3, "name": "Send me the plan", "action": "message", "depends_on": [2]}
	]
}`

func TestDetectPlannableGoals(t *testing.T) {
	st := newTestStore(t)
	src := &fakeGoalSource{
		goals: []goal.Goal{
			{ID: "g-low", Description: "read more", Priority: 0.3, Active: true},
			{ID: "g-high", Description: "learn spanish", Priority: 0.9, Active: true},
			{ID: "g-recent", Description: "exercise", Priority: 0.8, Active: true},
			{ID: "g-inactive", Description: "old goal", Priority: 1.0, Active: false},
		},
		recent: map[string]bool{"g-recent": true},
	}
	e := newTestEngine(t, st, src, &fakeProvider{})

	candidates, err := e.DetectPlannableGoals(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "g-high", candidates[0].ID, "ordered by priority descending")
	assert.Equal(t, "g-low", candidates[1].ID)
}

func TestDetectSkipsGoalsWithLivePlans(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreatePlan(context.Background(),
		&store.Plan{ID: "p1", GoalID: "g1", Name: "existing", Status: store.PlanStatusActive},
		[]store.Step{{ID: "s1", PlanID: "p1", Order: 1, Name: "x", Action: action.TypeReason, Status: store.StepStatusPending}},
	))
	src := &fakeGoalSource{goals: []goal.Goal{{ID: "g1", Description: "learn spanish", Priority: 0.9, Active: true}}}
	e := newTestEngine(t, st, src, &fakeProvider{})

	candidates, err := e.DetectPlannableGoals(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestGeneratePlanParsesAndValidates(t *testing.T) {
	st := newTestStore(t)
	provider := &fakeProvider{content: "Here is your plan:\n```json\n" + validPlanJSON + "\n```"}
	e := newTestEngine(t, st, &fakeGoalSource{}, provider)

	draft, err := e.GeneratePlan(context.Background(), goal.Goal{ID: "g1", Description: "learn spanish", Priority: 0.9})
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "Spanish refresh", draft.Name)
	require.Len(t, draft.Steps, 3)
	assert.Equal(t, 1, provider.calls)
}

func TestGeneratePlanSkipsWhenCapacityFull(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("p%d", i)
		require.NoError(t, st.CreatePlan(ctx,
			&store.Plan{ID: id, GoalID: "g" + id, Name: "plan", Status: store.PlanStatusPending},
			[]store.Step{{ID: id + "-s", PlanID: id, Order: 1, Name: "x", Action: action.TypeReason, Status: store.StepStatusPending}},
		))
	}
	provider := &fakeProvider{content: validPlanJSON}
	e := newTestEngine(t, st, &fakeGoalSource{}, provider)

	draft, err := e.GeneratePlan(ctx, goal.Goal{ID: "g-new", Description: "learn spanish"})
	require.NoError(t, err)
	assert.Nil(t, draft)
	assert.Zero(t, provider.calls, "no generation call when no slot is free")
}

func TestGeneratePlanPausedPlansFreeCapacity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("p%d", i)
		require.NoError(t, st.CreatePlan(ctx,
			&store.Plan{ID: id, GoalID: "g" + id, Name: "plan", Status: store.PlanStatusPending},
			[]store.Step{{ID: id + "-s", PlanID: id, Order: 1, Name: "x", Action: action.TypeReason, Status: store.StepStatusPending}},
		))
	}
	require.NoError(t, st.UpdatePlanStatus(ctx, "p0", store.PlanStatusPaused))

	provider := &fakeProvider{content: validPlanJSON}
	e := newTestEngine(t, st, &fakeGoalSource{}, provider)

	draft, err := e.GeneratePlan(ctx, goal.Goal{ID: "g-new", Description: "learn spanish"})
	require.NoError(t, err)
	assert.NotNil(t, draft, "paused plans do not count against the cap")
}

func TestGeneratePlanSwallowsProviderFailure(t *testing.T) {
	st := newTestStore(t)
	provider := &fakeProvider{err: fmt.Errorf("connection refused")}
	e := newTestEngine(t, st, &fakeGoalSource{}, provider)

	draft, err := e.GeneratePlan(context.Background(), goal.Goal{ID: "g1", Description: "learn spanish"})
	require.NoError(t, err, "provider failure is silent and non-fatal")
	assert.Nil(t, draft)
}

func TestGeneratePlanRejectsMalformedOutput(t *testing.T) {
	st := newTestStore(t)
	for _, content := range []string{
		"I cannot help with that.",
		`{"name": "x"}`,
		`{"name": "x", "steps": []}`,
	} {
		provider := &fakeProvider{content: content}
		e := newTestEngine(t, st, &fakeGoalSource{}, provider)
		draft, err := e.GeneratePlan(context.Background(), goal.Goal{ID: "g1", Description: "d"})
		require.NoError(t, err)
		assert.Nil(t, draft, "content %q should be rejected", content)
	}
}

func TestValidateDraft(t *testing.T) {
	e := newTestEngine(t, newTestStore(t), &fakeGoalSource{}, &fakeProvider{})

	t.Run("rejects too many steps", func(t *testing.T) {
		draft := &Draft{Name: "big"}
		for i := 0; i < 9; i++ {
			draft.Steps = append(draft.Steps, DraftStep{Order: i + 1, Name: "s", Action: "reason"})
		}
		assert.False(t, e.ValidateDraft(draft))
	})

	t.Run("rejects empty plan name", func(t *testing.T) {
		assert.False(t, e.ValidateDraft(&Draft{Steps: []DraftStep{{Name: "s", Action: "reason"}}}))
	})

	t.Run("rejects unnamed step", func(t *testing.T) {
		assert.False(t, e.ValidateDraft(&Draft{Name: "p", Steps: []DraftStep{{Action: "reason"}}}))
	})

	t.Run("coerces unknown action to reason", func(t *testing.T) {
		draft := &Draft{Name: "p", Steps: []DraftStep{{Name: "deploy it", Action: "deploy"}}}
		require.True(t, e.ValidateDraft(draft))
		assert.Equal(t, string(action.TypeReason), draft.Steps[0].Action)
	})

	t.Run("renumbers steps sequentially", func(t *testing.T) {
		draft := &Draft{Name: "p", Steps: []DraftStep{
			{Order: 5, Name: "a", Action: "reason"},
			{Order: 2, Name: "b", Action: "search"},
			{Order: 99, Name: "c", Action: "message"},
		}}
		require.True(t, e.ValidateDraft(draft))
		for i, s := range draft.Steps {
			assert.Equal(t, i+1, s.Order)
		}
	})

	t.Run("translates dependencies to the new numbering", func(t *testing.T) {
		draft := &Draft{Name: "p", Steps: []DraftStep{
			{Order: 2, Name: "a", Action: "search"},
			{Order: 4, Name: "b", Action: "reason", DependsOn: []int{2}},
			{Order: 6, Name: "c", Action: "message", DependsOn: []int{4}},
		}}
		require.True(t, e.ValidateDraft(draft))
		assert.Empty(t, draft.Steps[0].DependsOn)
		assert.Equal(t, []int{1}, draft.Steps[1].DependsOn)
		assert.Equal(t, []int{2}, draft.Steps[2].DependsOn)
	})

	t.Run("drops self references", func(t *testing.T) {
		draft := &Draft{Name: "p", Steps: []DraftStep{
			{Order: 1, Name: "a", Action: "reason", DependsOn: []int{1}},
		}}
		require.True(t, e.ValidateDraft(draft))
		assert.Empty(t, draft.Steps[0].DependsOn)
	})

	t.Run("rejects dangling dependency references", func(t *testing.T) {
		draft := &Draft{Name: "p", Steps: []DraftStep{
			{Order: 1, Name: "a", Action: "reason"},
			{Order: 2, Name: "b", Action: "reason", DependsOn: []int{7}},
		}}
		assert.False(t, e.ValidateDraft(draft))
	})

	t.Run("rejects duplicate order numbers", func(t *testing.T) {
		draft := &Draft{Name: "p", Steps: []DraftStep{
			{Order: 1, Name: "a", Action: "reason"},
			{Order: 1, Name: "b", Action: "reason"},
		}}
		assert.False(t, e.ValidateDraft(draft))
	})

	t.Run("rejects dependency cycles", func(t *testing.T) {
		draft := &Draft{Name: "p", Steps: []DraftStep{
			{Order: 1, Name: "a", Action: "reason", DependsOn: []int{2}},
			{Order: 2, Name: "b", Action: "reason", DependsOn: []int{1}},
		}}
		assert.False(t, e.ValidateDraft(draft))
	})

	t.Run("rejects cycles reachable only through a chain", func(t *testing.T) {
		draft := &Draft{Name: "p", Steps: []DraftStep{
			{Order: 1, Name: "a", Action: "reason", DependsOn: []int{3}},
			{Order: 2, Name: "b", Action: "reason", DependsOn: []int{1}},
			{Order: 3, Name: "c", Action: "reason", DependsOn: []int{2}},
		}}
		assert.False(t, e.ValidateDraft(draft))
	})
}

func TestSavePlanMapsDependencies(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, &fakeGoalSource{}, &fakeProvider{})
	ctx := context.Background()

	draft := &Draft{
		Name: "Spanish refresh",
		Steps: []DraftStep{
			{Order: 1, Name: "find", Action: "search"},
			{Order: 2, Name: "pick", Action: "reason", DependsOn: []int{1}},
			{Order: 3, Name: "tell me", Action: "message", DependsOn: []int{1, 2}},
		},
	}
	require.True(t, e.ValidateDraft(draft))

	planID, err := e.SavePlan(ctx, goal.Goal{ID: "g1", Priority: 0.7}, draft)
	require.NoError(t, err)

	plan, err := st.GetPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, store.PlanStatusPending, plan.Status)
	assert.Equal(t, 0.7, plan.Priority)
	assert.Equal(t, 3, plan.TotalSteps)

	steps, err := st.StepsForPlan(ctx, planID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Empty(t, steps[0].DependsOn)
	assert.Equal(t, []string{steps[0].ID}, steps[1].DependsOn)
	assert.ElementsMatch(t, []string{steps[0].ID, steps[1].ID}, steps[2].DependsOn)
}

func TestSavePlanPreservesDependenciesAfterRenumbering(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, &fakeGoalSource{}, &fakeProvider{})
	ctx := context.Background()

	// A generator asserting sparse order numbers must not lose its edges when
	// the validator renumbers the steps 1..N.
	draft := &Draft{
		Name: "sparse orders",
		Steps: []DraftStep{
			{Order: 2, Name: "find", Action: "search"},
			{Order: 4, Name: "pick", Action: "reason", DependsOn: []int{2}},
			{Order: 6, Name: "tell me", Action: "message", DependsOn: []int{4}},
		},
	}
	require.True(t, e.ValidateDraft(draft))

	planID, err := e.SavePlan(ctx, goal.Goal{ID: "g1", Priority: 0.7}, draft)
	require.NoError(t, err)

	steps, err := st.StepsForPlan(ctx, planID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Empty(t, steps[0].DependsOn)
	assert.Equal(t, []string{steps[0].ID}, steps[1].DependsOn)
	assert.Equal(t, []string{steps[1].ID}, steps[2].DependsOn)
}

func TestRunOncePlansHighestPriorityGoals(t *testing.T) {
	st := newTestStore(t)
	src := &fakeGoalSource{goals: []goal.Goal{
		{ID: "g1", Description: "learn spanish", Priority: 0.9, Active: true},
		{ID: "g2", Description: "read more", Priority: 0.5, Active: true},
	}}
	provider := &fakeProvider{content: validPlanJSON}
	e := newTestEngine(t, st, src, provider)

	created, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	for _, goalID := range []string{"g1", "g2"} {
		live, err := st.HasLivePlan(context.Background(), goalID)
		require.NoError(t, err)
		assert.True(t, live)
	}
}

func TestBuildPromptIncludesContext(t *testing.T) {
	st := newTestStore(t)
	ctxSrc := &fakeContextSource{topics: []string{"past tense"}, prefs: []string{"mornings only"}}
	e, err := New(st, &fakeGoalSource{}, ctxSrc, &fakeProvider{}, zerolog.Nop(), DefaultConfig())
	require.NoError(t, err)

	prompt := e.buildPrompt(context.Background(), goal.Goal{ID: "g1", Description: "learn spanish", Category: "learning"})
	assert.Contains(t, prompt, "learn spanish")
	assert.Contains(t, prompt, "past tense")
	assert.Contains(t, prompt, "mornings only")
	for _, at := range action.AllTypes() {
		assert.Contains(t, prompt, string(at))
	}
}
