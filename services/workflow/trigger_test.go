package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTriggerRepo struct {
	mu        sync.Mutex
	workflows []*Workflow
	listErr   error
	updateErr error
	updated   map[string][]Trigger
}

func (r *fakeTriggerRepo) ListActive(context.Context) ([]*Workflow, error) {
	return r.workflows, r.listErr
}

func (r *fakeTriggerRepo) UpdateTriggers(_ context.Context, id string, triggers []Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updated == nil {
		r.updated = make(map[string][]Trigger)
	}
	r.updated[id] = triggers
	return r.updateErr
}

type runCall struct {
	workflowID string
	variables  map[string]any
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []runCall
	fail  bool
}

func (r *fakeRunner) Execute(_ context.Context, wf *Workflow, variables map[string]any) (*ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{workflowID: wf.ID, variables: variables})
	status := StatusCompleted
	if r.fail {
		status = StatusFailed
	}
	return &ExecutionResult{WorkflowID: wf.ID, Status: status, Success: !r.fail}, nil
}

func (r *fakeRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		ids = append(ids, c.workflowID)
	}
	sort.Strings(ids)
	return ids
}

func ago(d time.Duration) *time.Time {
	t := fixedNow.Add(-d)
	return &t
}

func newTestEvaluator(repo *fakeTriggerRepo, runner *fakeRunner) *TriggerEvaluator {
	e := NewTriggerEvaluator(repo, runner, 2)
	e.now = fixedClock
	return e
}

func TestShouldFire(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		want    bool
	}{
		{"never executed", Trigger{Type: TriggerSchedule, Cron: "0 9 * * *"}, true},
		{"no cron, 30 minutes ago", Trigger{Type: TriggerSchedule, LastExecuted: ago(30 * time.Minute)}, false},
		{"no cron, 2 hours ago", Trigger{Type: TriggerSchedule, LastExecuted: ago(2 * time.Hour)}, true},
		{"hourly cron, ran this hour", Trigger{Cron: "0 * * * *", LastExecuted: ago(30 * time.Minute)}, false},
		{"hourly cron, missed an hour", Trigger{Cron: "0 * * * *", LastExecuted: ago(2 * time.Hour)}, true},
		{"daily word, ran yesterday", Trigger{Cron: "daily", LastExecuted: ago(13 * time.Hour)}, true},
		{"daily word, ran after midnight", Trigger{Cron: "daily", LastExecuted: ago(12 * time.Hour)}, false},
		{"descriptor", Trigger{Cron: "@weekly", LastExecuted: ago(24 * time.Hour)}, false},
		// 09:00 in New York is 13:00 UTC, still ahead of 12:50 UTC.
		{"timezone not yet due", Trigger{Cron: "0 9 * * *", Timezone: "America/New_York", LastExecuted: ago(20 * time.Hour)}, false},
		{"timezone due", Trigger{Cron: "0 8 * * *", Timezone: "America/New_York", LastExecuted: ago(20 * time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ShouldFire(tt.trigger, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldFire_Invalid(t *testing.T) {
	_, err := ShouldFire(Trigger{Cron: "every tuesday", LastExecuted: ago(time.Hour)}, fixedNow)
	assert.Error(t, err)

	_, err = ShouldFire(Trigger{Cron: "0 9 * * *", Timezone: "Nowhere/Land", LastExecuted: ago(time.Hour)}, fixedNow)
	assert.Error(t, err)
}

func TestRunSchedules(t *testing.T) {
	repo := &fakeTriggerRepo{workflows: []*Workflow{
		{ID: "recent", Triggers: []Trigger{{ID: "t1", Type: TriggerSchedule, LastExecuted: ago(30 * time.Minute)}}},
		{ID: "stale", Triggers: []Trigger{
			{ID: "t1", Type: TriggerSchedule, LastExecuted: ago(2 * time.Hour)},
			{ID: "t2", Type: TriggerEvent, EventType: "deal.won"},
		}},
		{ID: "fresh", Triggers: []Trigger{{ID: "t1", Type: TriggerSchedule, Cron: "daily"}}},
		{ID: "events-only", Triggers: []Trigger{{ID: "t1", Type: TriggerEvent, EventType: "lead.created"}}},
	}}
	runner := &fakeRunner{}

	results, err := newTestEvaluator(repo, runner).RunSchedules(context.Background())

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"fresh", "stale"}, runner.ran())

	require.Contains(t, repo.updated, "stale")
	stale := repo.updated["stale"]
	require.NotNil(t, stale[0].LastExecuted)
	assert.True(t, stale[0].LastExecuted.Equal(fixedNow))
	assert.Nil(t, stale[1].LastExecuted)
	assert.True(t, repo.updated["fresh"][0].LastExecuted.Equal(fixedNow))
	assert.NotContains(t, repo.updated, "recent")

	// the workflow's own copy is left alone
	assert.True(t, repo.workflows[1].Triggers[0].LastExecuted.Equal(fixedNow.Add(-2*time.Hour)))
}

func TestRunSchedules_FiresOncePerWorkflow(t *testing.T) {
	repo := &fakeTriggerRepo{workflows: []*Workflow{
		{ID: "twice", Triggers: []Trigger{
			{ID: "morning", Type: TriggerSchedule, Cron: "0 9 * * *"},
			{ID: "noon", Type: TriggerSchedule, Cron: "0 12 * * *"},
		}},
	}}
	runner := &fakeRunner{}

	_, err := newTestEvaluator(repo, runner).RunSchedules(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"twice"}, runner.ran())
	for _, tr := range repo.updated["twice"] {
		assert.NotNil(t, tr.LastExecuted)
	}
	assert.Equal(t, "schedule", runner.calls[0].variables["triggerType"])
}

func TestRunSchedules_StampsFailedRuns(t *testing.T) {
	repo := &fakeTriggerRepo{workflows: []*Workflow{
		{ID: "broken", Triggers: []Trigger{{Type: TriggerSchedule}}},
	}}
	runner := &fakeRunner{fail: true}

	results, err := newTestEvaluator(repo, runner).RunSchedules(context.Background())

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.NotNil(t, repo.updated["broken"][0].LastExecuted)
}

func TestRunSchedules_SkipsInvalidCron(t *testing.T) {
	repo := &fakeTriggerRepo{workflows: []*Workflow{
		{ID: "bad", Triggers: []Trigger{{Type: TriggerSchedule, Cron: "sometimes", LastExecuted: ago(time.Hour)}}},
	}}
	runner := &fakeRunner{}

	results, err := newTestEvaluator(repo, runner).RunSchedules(context.Background())

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, runner.calls)
}

func TestRunSchedules_Errors(t *testing.T) {
	runner := &fakeRunner{}

	_, err := newTestEvaluator(&fakeTriggerRepo{listErr: errors.New("db down")}, runner).RunSchedules(context.Background())
	assert.ErrorContains(t, err, "db down")

	repo := &fakeTriggerRepo{
		workflows: []*Workflow{{ID: "wf", Triggers: []Trigger{{Type: TriggerSchedule}}}},
		updateErr: errors.New("write failed"),
	}
	results, err := newTestEvaluator(repo, runner).RunSchedules(context.Background())
	assert.ErrorContains(t, err, "write failed")
	assert.Len(t, results, 1)
}

func TestHandleEvent(t *testing.T) {
	repo := &fakeTriggerRepo{workflows: []*Workflow{
		{ID: "any-lead", Triggers: []Trigger{{Type: TriggerEvent, EventType: "lead.created"}}},
		{ID: "enterprise-lead", Triggers: []Trigger{{
			Type: TriggerEvent, EventType: "lead.created",
			Conditions: map[string]any{"lead.segment": "enterprise", "lead.score": 80},
		}}},
		{ID: "smb-lead", Triggers: []Trigger{{
			Type: TriggerEvent, EventType: "lead.created",
			Conditions: map[string]any{"lead.segment": "smb"},
		}}},
		{ID: "deal-won", Triggers: []Trigger{{Type: TriggerEvent, EventType: "deal.won"}}},
		{ID: "scheduled", Triggers: []Trigger{{Type: TriggerSchedule}}},
	}}
	runner := &fakeRunner{}
	data := map[string]any{"lead": map[string]any{"segment": "enterprise", "score": 80.0}}

	results, err := newTestEvaluator(repo, runner).HandleEvent(context.Background(), "lead.created", data)

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"any-lead", "enterprise-lead"}, runner.ran())
	for _, c := range runner.calls {
		assert.Equal(t, "lead.created", c.variables["eventType"])
		assert.Equal(t, data["lead"], c.variables["lead"])
	}
	assert.NotContains(t, data, "eventType")
}

func TestHandleEvent_KeepsPayloadEventType(t *testing.T) {
	repo := &fakeTriggerRepo{workflows: []*Workflow{
		{ID: "wf", Triggers: []Trigger{{Type: TriggerEvent, EventType: "deal.won"}}},
	}}
	runner := &fakeRunner{}

	_, err := newTestEvaluator(repo, runner).HandleEvent(context.Background(), "deal.won", map[string]any{"eventType": "custom"})

	require.NoError(t, err)
	assert.Equal(t, "custom", runner.calls[0].variables["eventType"])
}

func TestHandleWebhook(t *testing.T) {
	repo := &fakeTriggerRepo{workflows: []*Workflow{
		{ID: "open", Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "form-submit"}}},
		{ID: "secured", Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "billing", Secret: "s3cret"}}},
	}}

	t.Run("no secret needed", func(t *testing.T) {
		runner := &fakeRunner{}
		results, err := newTestEvaluator(repo, runner).HandleWebhook(context.Background(), "form-submit", "", map[string]any{"email": "a@example.com"})
		require.NoError(t, err)
		assert.Len(t, results, 1)
		assert.Equal(t, "a@example.com", runner.calls[0].variables["email"])
		assert.Equal(t, "webhook", runner.calls[0].variables["triggerType"])
	})

	t.Run("correct secret", func(t *testing.T) {
		runner := &fakeRunner{}
		results, err := newTestEvaluator(repo, runner).HandleWebhook(context.Background(), "billing", "s3cret", nil)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("wrong secret", func(t *testing.T) {
		runner := &fakeRunner{}
		_, err := newTestEvaluator(repo, runner).HandleWebhook(context.Background(), "billing", "guess", nil)
		assert.ErrorIs(t, err, ErrUnauthorizedWebhook)
		assert.Empty(t, runner.calls)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		runner := &fakeRunner{}
		results, err := newTestEvaluator(repo, runner).HandleWebhook(context.Background(), "nope", "", nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestHandleWebhook_SharedEndpoint(t *testing.T) {
	repo := &fakeTriggerRepo{workflows: []*Workflow{
		{ID: "a", Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "hook", Secret: "s1"}}},
		{ID: "b", Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "hook", Secret: "s2"}}},
		{ID: "open", Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "public"}}},
		{ID: "guarded", Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "public", Secret: "s3"}}},
	}}

	tests := []struct {
		name     string
		endpoint string
		secret   string
		want     []string
		wantErr  error
	}{
		{"second secret", "hook", "s2", []string{"b"}, nil},
		{"first secret", "hook", "s1", []string{"a"}, nil},
		{"no secret matches", "hook", "s3", nil, ErrUnauthorizedWebhook},
		{"open workflow still runs", "public", "", []string{"open"}, nil},
		{"both accept", "public", "s3", []string{"guarded", "open"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			results, err := newTestEvaluator(repo, runner).HandleWebhook(context.Background(), tt.endpoint, tt.secret, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, runner.calls)
				return
			}
			require.NoError(t, err)
			assert.Len(t, results, len(tt.want))
			assert.Equal(t, tt.want, runner.ran())
		})
	}
}
