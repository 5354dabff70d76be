package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-io/conveyor/internal/conditions"
	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/expressions"
	"github.com/arclight-io/conveyor/internal/resolver"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu       sync.Mutex
	steps    map[string][]*store.WorkflowStep
	runs     map[string]*store.WorkflowRun
	runSteps []*store.WorkflowRunStep
	seq      int64
}

func newMemStore() *memStore {
	return &memStore{
		steps: make(map[string][]*store.WorkflowStep),
		runs:  make(map[string]*store.WorkflowRun),
	}
}

func (m *memStore) ListSteps(_ context.Context, workflowID string) ([]*store.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.WorkflowStep(nil), m.steps[workflowID]...), nil
}

func (m *memStore) CreateRun(_ context.Context, run *store.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *run
	m.runs[run.ID] = &clone
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*store.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "run not found: "+id)
	}
	clone := *run
	return &clone, nil
}

func (m *memStore) UpdateRun(_ context.Context, id string, update store.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return schema.NewError(schema.ErrCodeNotFound, "run not found: "+id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Context != nil {
		run.Context = update.Context
	}
	if update.Cursor != nil {
		run.Cursor = *update.Cursor
	}
	if update.ResumeAt != nil {
		run.ResumeAt = update.ResumeAt
	}
	if update.ClearResumeAt {
		run.ResumeAt = nil
	}
	if update.ErrorMessage != nil {
		run.ErrorMessage = *update.ErrorMessage
	}
	if update.CompletedAt != nil {
		run.CompletedAt = update.CompletedAt
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) AppendRunStep(_ context.Context, rs *store.WorkflowRunStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	rs.ID = m.seq
	rs.Sequence = m.seq
	clone := *rs
	m.runSteps = append(m.runSteps, &clone)
	return nil
}

func (m *memStore) stepsForRun(runID string) []*store.WorkflowRunStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.WorkflowRunStep
	for _, rs := range m.runSteps {
		if rs.RunID == runID {
			out = append(out, rs)
		}
	}
	return out
}

// fakeSink records delivered messages; onDeliver runs before recording.
type fakeSink struct {
	mu        sync.Mutex
	delivered []executors.Message
	fail      bool
	onDeliver func()
}

func (f *fakeSink) Deliver(_ context.Context, _ string, msg executors.Message) error {
	f.mu.Lock()
	cb := f.onDeliver
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("sink unavailable")
	}
	f.delivered = append(f.delivered, msg)
	return nil
}

func (f *fakeSink) CreateChannel(_ context.Context, _ string, name string, _ []string) (string, error) {
	return "ch-" + name, nil
}

func (f *fakeSink) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

type fakeEntities struct {
	fail    bool
	created int
}

func (f *fakeEntities) Create(_ context.Context, _ string, kind string, data map[string]any) (*executors.EntityRecord, error) {
	if f.fail {
		return nil, fmt.Errorf("persistence down")
	}
	f.created++
	raw, _ := json.Marshal(data)
	return &executors.EntityRecord{ID: fmt.Sprintf("%s-%d", kind, f.created), Kind: kind, Data: raw}, nil
}

func (f *fakeEntities) Update(_ context.Context, _ string, kind, id string, data map[string]any) (*executors.EntityRecord, error) {
	if f.fail {
		return nil, fmt.Errorf("persistence down")
	}
	raw, _ := json.Marshal(data)
	return &executors.EntityRecord{ID: id, Kind: kind, Data: raw}, nil
}

type fakeGen struct{}

func (fakeGen) Generate(_ context.Context, prompt string, _ map[string]any) (string, error) {
	return "generated: " + prompt, nil
}

type testRig struct {
	engine *Engine
	store  *memStore
	sink   *fakeSink
	ents   *fakeEntities
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	ms := newMemStore()
	sink := &fakeSink{}
	ents := &fakeEntities{}

	reg := executors.NewRegistry()
	require.NoError(t, executors.RegisterBuiltins(reg, sink, ents, fakeGen{}, executors.WebhookConfig{}))

	res := resolver.New(nil)
	engines, err := expressions.NewRegistry()
	require.NoError(t, err)
	eval := conditions.New(res, engines)

	return &testRig{
		engine: New(ms, reg, res, eval, Config{}),
		store:  ms,
		sink:   sink,
		ents:   ents,
	}
}

func (r *testRig) workflow(steps ...*store.WorkflowStep) *store.Workflow {
	wf := &store.Workflow{
		ID:          "wf-1",
		OrgID:       "org-1",
		Name:        "test workflow",
		TriggerType: schema.TriggerManual,
		Active:      true,
	}
	for _, s := range steps {
		s.WorkflowID = wf.ID
	}
	r.store.steps[wf.ID] = steps
	return wf
}

func actionStep(order int, action schema.ActionType, config string) *store.WorkflowStep {
	return &store.WorkflowStep{
		ID:         fmt.Sprintf("s-%d", order),
		StepOrder:  order,
		Type:       schema.StepTypeAction,
		ActionType: action,
		Config:     json.RawMessage(config),
	}
}

func conditionStep(order int, config string, elseGoto *int) *store.WorkflowStep {
	return &store.WorkflowStep{
		ID:           fmt.Sprintf("s-%d", order),
		StepOrder:    order,
		Type:         schema.StepTypeCondition,
		Config:       json.RawMessage(config),
		ElseGotoStep: elseGoto,
	}
}

func delayStep(order int, config string) *store.WorkflowStep {
	return &store.WorkflowStep{
		ID:        fmt.Sprintf("s-%d", order),
		StepOrder: order,
		Type:      schema.StepTypeDelay,
		Config:    json.RawMessage(config),
	}
}

func intPtr(i int) *int { return &i }

const emailConfig = `{"to":"a@x.com","body":"hi"}`

func TestZeroStepsCompletesImmediately(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow()

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, map[string]any{"trigger": map[string]any{"event_type": "noop"}})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Empty(t, rig.store.stepsForRun(run.ID))

	// No context delta beyond the seed.
	var runCtx map[string]any
	require.NoError(t, json.Unmarshal(run.Context, &runCtx))
	assert.Len(t, runCtx, 1)
}

func TestStepsExecuteInAscendingOrder(t *testing.T) {
	rig := newTestRig(t)
	// Inserted out of order: step_order is the sole sequencing authority.
	wf := rig.workflow(
		actionStep(3, schema.ActionSendEmail, emailConfig),
		actionStep(1, schema.ActionSendEmail, emailConfig),
		actionStep(2, schema.ActionSendEmail, emailConfig),
	)

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	recorded := rig.store.stepsForRun(run.ID)
	require.Len(t, recorded, 3)
	for i, rs := range recorded {
		assert.Equal(t, i+1, rs.StepOrder)
		assert.Equal(t, schema.RunStepSuccess, rs.Status)
	}
	assert.Equal(t, 3, rig.sink.deliveredCount())
}

func TestConditionFalseFallsThrough(t *testing.T) {
	rig := newTestRig(t)
	// No else_goto_step: false still proceeds to the next sequential step.
	wf := rig.workflow(
		conditionStep(1, `{"field":"task.status","operator":"equals","value":"done"}`, nil),
		actionStep(2, schema.ActionSendEmail, emailConfig),
	)

	seed := map[string]any{"task": map[string]any{"status": "open"}}
	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, seed)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, rig.sink.deliveredCount())

	recorded := rig.store.stepsForRun(run.ID)
	require.Len(t, recorded, 2)
	assert.Equal(t, schema.RunStepSuccess, recorded[0].Status)
	var out map[string]any
	require.NoError(t, json.Unmarshal(recorded[0].Output, &out))
	assert.Equal(t, false, out["result"])
}

func TestConditionFalseJumpsToElseGoto(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		conditionStep(1, `{"field":"task.status","operator":"equals","value":"done"}`, intPtr(4)),
		actionStep(2, schema.ActionSendEmail, emailConfig),
		actionStep(3, schema.ActionSendEmail, emailConfig),
		actionStep(4, schema.ActionSendSlack, `{"channel":"#x","message":"jumped"}`),
	)

	seed := map[string]any{"task": map[string]any{"status": "open"}}
	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, seed)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	// Only the slack message at step 4 was delivered.
	require.Equal(t, 1, rig.sink.deliveredCount())
	assert.Equal(t, "slack", rig.sink.delivered[0].Kind)

	// Bypassed steps 2 and 3 are accounted for as skipped.
	recorded := rig.store.stepsForRun(run.ID)
	require.Len(t, recorded, 4)
	assert.Equal(t, schema.RunStepSkipped, recorded[1].Status)
	assert.Equal(t, schema.RunStepSkipped, recorded[2].Status)
	assert.Equal(t, schema.RunStepSuccess, recorded[3].Status)
}

func TestDanglingElseGotoFailsRunWithStepRecord(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		conditionStep(1, `{"field":"task.status","operator":"equals","value":"done"}`, intPtr(9)),
		actionStep(2, schema.ActionSendEmail, emailConfig),
	)

	seed := map[string]any{"task": map[string]any{"status": "open"}}
	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, seed)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "else_goto_step 9")

	// The condition step itself lands in the step log as failed; nothing
	// after it executed.
	recorded := rig.store.stepsForRun(run.ID)
	require.Len(t, recorded, 1)
	assert.Equal(t, 1, recorded[0].StepOrder)
	assert.Equal(t, schema.RunStepFailed, recorded[0].Status)
	assert.Contains(t, recorded[0].Error, "else_goto_step 9")
	assert.Equal(t, 0, rig.sink.deliveredCount())
}

func TestConditionTrueAdvances(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		conditionStep(1, `{"field":"task.status","operator":"equals","value":"done"}`, intPtr(3)),
		actionStep(2, schema.ActionSendEmail, emailConfig),
	)

	seed := map[string]any{"task": map[string]any{"status": "done"}}
	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, seed)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, rig.sink.deliveredCount())
}

func TestBestEffortFailureContinues(t *testing.T) {
	rig := newTestRig(t)
	rig.sink.fail = true
	wf := rig.workflow(
		actionStep(1, schema.ActionSendEmail, emailConfig),
		actionStep(2, schema.ActionCreateTask, `{"title":"follow up"}`),
	)

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	recorded := rig.store.stepsForRun(run.ID)
	require.Len(t, recorded, 2)
	assert.Equal(t, schema.RunStepFailed, recorded[0].Status)
	assert.NotEmpty(t, recorded[0].Error)
	assert.Equal(t, schema.RunStepSuccess, recorded[1].Status)
	assert.Equal(t, 1, rig.ents.created)
}

func TestFatalFailureHaltsRun(t *testing.T) {
	rig := newTestRig(t)
	rig.ents.fail = true
	wf := rig.workflow(
		actionStep(1, schema.ActionCreateTask, `{"title":"follow up"}`),
		actionStep(2, schema.ActionSendEmail, emailConfig),
	)

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)
	require.NotNil(t, run.CompletedAt)

	// Step 2 never executed.
	recorded := rig.store.stepsForRun(run.ID)
	require.Len(t, recorded, 1)
	assert.Equal(t, schema.RunStepFailed, recorded[0].Status)
	assert.Equal(t, 0, rig.sink.deliveredCount())
}

func TestUnknownOperatorIsFatal(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		conditionStep(1, `{"field":"task.status","operator":"~=","value":"done"}`, nil),
		actionStep(2, schema.ActionSendEmail, emailConfig),
	)

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "operator")
	assert.Equal(t, 0, rig.sink.deliveredCount())
}

func TestDuplicateStepOrderRejectedBeforeRun(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		actionStep(1, schema.ActionSendEmail, emailConfig),
		actionStep(1, schema.ActionSendSlack, `{"channel":"#x","message":"m"}`),
	)

	_, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.Error(t, err)
	cvErr := err.(*schema.ConveyorError)
	assert.Equal(t, schema.ErrCodeValidation, cvErr.Code)

	// Rejected synchronously: no run record, no side effects.
	assert.Empty(t, rig.store.runs)
	assert.Equal(t, 0, rig.sink.deliveredCount())
}

func TestDelaySuspendsAndResumesFromPersistedState(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		actionStep(1, schema.ActionSendEmail, emailConfig),
		delayStep(2, `{"delay_value":5,"delay_type":"minutes"}`),
		actionStep(3, schema.ActionSendSlack, `{"channel":"#x","message":"after delay"}`),
	)

	before := time.Now().UTC()
	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusWaiting, run.Status)
	assert.Equal(t, 3, run.Cursor)
	require.NotNil(t, run.ResumeAt)
	assert.WithinDuration(t, before.Add(5*time.Minute), *run.ResumeAt, 5*time.Second)
	assert.Equal(t, 1, rig.sink.deliveredCount())

	// The suspension is fully persisted.
	stored, err := rig.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusWaiting, stored.Status)
	assert.Equal(t, 3, stored.Cursor)
	require.NotNil(t, stored.ResumeAt)

	// Resume from persisted state alone: run id is all the caller holds.
	resumed, err := rig.engine.ResumeRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, resumed.Status)
	assert.Nil(t, resumed.ResumeAt)
	assert.Equal(t, 2, rig.sink.deliveredCount())
	assert.Equal(t, "slack", rig.sink.delivered[1].Kind)

	// Step 1 was not re-executed after resume.
	recorded := rig.store.stepsForRun(run.ID)
	require.Len(t, recorded, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{recorded[0].StepOrder, recorded[1].StepOrder, recorded[2].StepOrder})
}

func TestResumeRejectsTerminalRun(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(actionStep(1, schema.ActionSendEmail, emailConfig))

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, schema.RunStatusCompleted, run.Status)

	_, err = rig.engine.ResumeRun(context.Background(), run.ID)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, err.(*schema.ConveyorError).Code)
}

func TestResumeRunningRunRecoversAfterCrash(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		actionStep(1, schema.ActionSendEmail, emailConfig),
		actionStep(2, schema.ActionSendSlack, `{"channel":"#x","message":"m"}`),
	)

	// Simulate a process that died after checkpointing step 1.
	run := &store.WorkflowRun{
		ID:         "run-crashed",
		WorkflowID: wf.ID,
		OrgID:      wf.OrgID,
		Status:     schema.RunStatusRunning,
		Context:    json.RawMessage(`{"step_1":{"sent":true}}`),
		Cursor:     2,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, rig.store.CreateRun(context.Background(), run))

	resumed, err := rig.engine.ResumeRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, resumed.Status)

	// Only step 2 ran.
	require.Equal(t, 1, rig.sink.deliveredCount())
	assert.Equal(t, "slack", rig.sink.delivered[0].Kind)
}

func TestCancelWaitingRun(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		delayStep(1, `{"delay_value":1,"delay_type":"hours"}`),
		actionStep(2, schema.ActionSendEmail, emailConfig),
	)

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, schema.RunStatusWaiting, run.Status)

	require.NoError(t, rig.engine.Cancel(context.Background(), run.ID))

	stored, err := rig.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCancelled, stored.Status)
	assert.Nil(t, stored.ResumeAt)

	// A cancelled run is terminal: resume refuses, cancel refuses twice.
	_, err = rig.engine.ResumeRun(context.Background(), run.ID)
	require.Error(t, err)
	err = rig.engine.Cancel(context.Background(), run.ID)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, err.(*schema.ConveyorError).Code)
}

func TestCancellationCheckedAtStepBoundary(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		actionStep(1, schema.ActionSendEmail, emailConfig),
		actionStep(2, schema.ActionSendSlack, `{"channel":"#x","message":"m"}`),
	)

	// Cancel the run from inside step 1's delivery; step 2 must not execute.
	var once sync.Once
	rig.sink.onDeliver = func() {
		once.Do(func() {
			rig.store.mu.Lock()
			for _, r := range rig.store.runs {
				r.Status = schema.RunStatusCancelled
			}
			rig.store.mu.Unlock()
		})
	}

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCancelled, run.Status)
	assert.Equal(t, 1, rig.sink.deliveredCount())
}

func TestEntityOutputMergedIntoNamespace(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		actionStep(1, schema.ActionCreateTask, `{"title":"Fix bug"}`),
		actionStep(2, schema.ActionSendEmail, `{"to":"a@x.com","body":"created {{task.title}} as {{task.task_id}}"}`),
	)

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	require.Equal(t, 1, rig.sink.deliveredCount())
	assert.Equal(t, "created Fix bug as task-1", rig.sink.delivered[0].Body)

	// Output also lands under the ad hoc step namespace.
	var runCtx map[string]any
	require.NoError(t, json.Unmarshal(run.Context, &runCtx))
	assert.Contains(t, runCtx, "step_1")
	assert.Contains(t, runCtx, "task")
}

func TestStepOutputsVisibleToLaterSteps(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		actionStep(1, schema.ActionAIGenerate, `{"prompt":"Summarize {{trigger.event_type}}","output_key":"summary"}`),
		actionStep(2, schema.ActionSendEmail, `{"to":"a@x.com","body":"{{step_1.summary}}"}`),
	)

	seed := map[string]any{"trigger": map[string]any{"event_type": "deal_won"}}
	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, seed)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	require.Equal(t, 1, rig.sink.deliveredCount())
	assert.Equal(t, "generated: Summarize deal_won", rig.sink.delivered[0].Body)
}

func TestBackwardJumpBoundedByVisitBudget(t *testing.T) {
	rig := newTestRig(t)
	// A condition that is always false and jumps back to itself.
	wf := rig.workflow(
		conditionStep(1, `{"field":"task.status","operator":"equals","value":"done"}`, intPtr(1)),
	)

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "visit budget")
}

func TestExpressionConditionSteersBranch(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		conditionStep(1, `{"expression":"trigger.amount > 1000.0","lang":"cel"}`, intPtr(3)),
		actionStep(2, schema.ActionSendSlack, `{"channel":"#big","message":"big deal"}`),
		actionStep(3, schema.ActionSendEmail, emailConfig),
	)

	seed := map[string]any{"trigger": map[string]any{"amount": 5000.0}}
	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, seed)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	// True branch: both steps run.
	assert.Equal(t, 2, rig.sink.deliveredCount())
}

func TestContextCheckpointedAfterEveryStep(t *testing.T) {
	rig := newTestRig(t)
	wf := rig.workflow(
		actionStep(1, schema.ActionCreateTask, `{"title":"t"}`),
		delayStep(2, `{"delay_value":10,"delay_type":"minutes"}`),
	)

	run, err := rig.engine.ExecuteWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, schema.RunStatusWaiting, run.Status)

	// The persisted run already carries step 1's output.
	stored, err := rig.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	var runCtx map[string]any
	require.NoError(t, json.Unmarshal(stored.Context, &runCtx))
	assert.Contains(t, runCtx, "step_1")
	assert.Contains(t, runCtx, "task")
}
