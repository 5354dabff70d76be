package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arclight-io/conveyor/internal/conditions"
	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/logging"
	"github.com/arclight-io/conveyor/internal/resolver"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/internal/streaming"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// visitBudgetFactor bounds step visits per run segment so a backward
// else_goto_step cannot loop a run forever: budget = factor * len(steps).
const visitBudgetFactor = 64

// Store is the slice of the persistence layer the engine needs.
// Satisfied by store.Store.
type Store interface {
	ListSteps(ctx context.Context, workflowID string) ([]*store.WorkflowStep, error)
	CreateRun(ctx context.Context, run *store.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*store.WorkflowRun, error)
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
	AppendRunStep(ctx context.Context, rs *store.WorkflowRunStep) error
}

// Config holds the engine's optional collaborators.
type Config struct {
	Hub    streaming.EventHub // nil = no run event stream
	Logger *slog.Logger       // nil = slog.Default()
}

// Engine drives the run state machine: sequencing, branching, delay
// suspension, error capture, and per-step persistence. Executor and
// evaluator errors are captured inside the run record; Engine methods
// return a Go error only for pre-run configuration and store failures.
type Engine struct {
	store      Store
	registry   *executors.Registry
	resolver   *resolver.Resolver
	conditions *conditions.Evaluator
	hub        streaming.EventHub
	logger     *slog.Logger
}

// New creates an Engine.
func New(s Store, reg *executors.Registry, res *resolver.Resolver, eval *conditions.Evaluator, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      s,
		registry:   reg,
		resolver:   res,
		conditions: eval,
		hub:        cfg.Hub,
		logger:     logger,
	}
}

// ExecuteWorkflow starts a new run of the given workflow with the given
// seeded context and drives it to completion, failure, or the first
// delay suspension. The returned run carries the terminal (or waiting)
// status; step failures never surface as a returned error.
func (e *Engine) ExecuteWorkflow(ctx context.Context, wf *store.Workflow, seed map[string]any) (*store.WorkflowRun, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	steps, err := e.loadSteps(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	if seed == nil {
		seed = make(map[string]any)
	}

	cursor := 0
	if len(steps) > 0 {
		cursor = steps[0].StepOrder
	}

	run := &store.WorkflowRun{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		OrgID:      wf.OrgID,
		Status:     schema.RunStatusRunning,
		Context:    encodeContext(seed),
		Cursor:     cursor,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	ctx = logging.WithIDs(ctx, run.ID, run.WorkflowID, run.OrgID)
	e.publish(ctx, run, 0, schema.EventRunStarted, map[string]any{"workflow_name": wf.Name})

	return e.runLoop(ctx, run, steps, seed)
}

// ResumeRun continues a suspended run from its persisted cursor. It
// accepts waiting runs whose resume time elapsed and running runs whose
// process died mid-step (crash recovery). The resumed run is driven the
// same way as a fresh one.
func (e *Engine) ResumeRun(ctx context.Context, runID string) (*store.WorkflowRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunStatusWaiting && run.Status != schema.RunStatusRunning {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot resume run in status %s", run.Status).
			WithDetails(map[string]any{"run_id": runID})
	}

	steps, err := e.loadSteps(ctx, run.WorkflowID)
	if err != nil {
		return nil, err
	}

	runCtx, err := decodeContext(run.Context)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "resume run %s: %s", runID, err.Error()).WithCause(err)
	}

	ctx = logging.WithIDs(ctx, run.ID, run.WorkflowID, run.OrgID)

	if run.Status == schema.RunStatusWaiting {
		running := schema.RunStatusRunning
		if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{
			Status:        &running,
			ClearResumeAt: true,
		}); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "resume run %s: %s", runID, err.Error()).WithCause(err)
		}
		run.Status = running
		run.ResumeAt = nil
		e.publish(ctx, run, 0, schema.EventRunResumed, map[string]any{"cursor": run.Cursor})
	}

	return e.runLoop(ctx, run, steps, runCtx)
}

// Cancel marks a run cancelled. The run loop notices at the next step
// boundary; cancellation is cooperative, never preemptive mid-step.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !isValidRunTransition(run.Status, schema.RunStatusCancelled) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot cancel run in status %s", run.Status).
			WithDetails(map[string]any{"run_id": runID})
	}

	cancelled := schema.RunStatusCancelled
	now := time.Now().UTC()
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:        &cancelled,
		CompletedAt:   &now,
		ClearResumeAt: true,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "cancel run %s: %s", runID, err.Error()).WithCause(err)
	}

	run.Status = cancelled
	e.publish(logging.WithIDs(ctx, run.ID, run.WorkflowID, run.OrgID), run, 0, schema.EventRunCancelled, nil)
	return nil
}

// loadSteps fetches a workflow's steps and rejects ambiguous ordering
// before any run starts.
func (e *Engine) loadSteps(ctx context.Context, workflowID string) ([]*store.WorkflowStep, error) {
	steps, err := e.store.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list steps: %s", err.Error()).WithCause(err)
	}

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if seen[s.StepOrder] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"duplicate step_order %d in workflow %s", s.StepOrder, workflowID).
				WithStep(s.StepOrder)
		}
		seen[s.StepOrder] = true
	}
	return steps, nil
}

// runLoop is the cursor state machine. It executes steps in step_order
// until completion, a fatal failure, a delay suspension, or external
// cancellation, persisting context and cursor after every step.
func (e *Engine) runLoop(ctx context.Context, run *store.WorkflowRun, steps []*store.WorkflowStep, runCtx map[string]any) (*store.WorkflowRun, error) {
	logger := logging.LogWith(ctx, e.logger)

	if len(steps) == 0 {
		e.completeRun(ctx, run, runCtx)
		return run, nil
	}

	budget := visitBudgetFactor * len(steps)
	visits := 0
	pos := positionForCursor(steps, run.Cursor)

	for {
		// Cooperative cancellation: re-read run status at every step boundary.
		if latest, err := e.store.GetRun(ctx, run.ID); err == nil && latest.Status == schema.RunStatusCancelled {
			logger.InfoContext(ctx, "run cancelled, halting execution")
			run.Status = schema.RunStatusCancelled
			run.CompletedAt = latest.CompletedAt
			return run, nil
		}

		if pos >= len(steps) {
			e.completeRun(ctx, run, runCtx)
			return run, nil
		}

		visits++
		if visits > budget {
			e.failRun(ctx, run, runCtx, schema.NewErrorf(schema.ErrCodeExecution,
				"step visit budget exceeded after %d visits (cyclic else_goto_step?)", visits-1))
			return run, nil
		}

		step := steps[pos]
		var next int

		switch step.Type {
		case schema.StepTypeCondition:
			jump, fatal := e.execCondition(ctx, run, steps, pos, runCtx)
			if fatal != nil {
				e.failRun(ctx, run, runCtx, fatal)
				return run, nil
			}
			next = jump

		case schema.StepTypeDelay:
			suspended, fatal := e.execDelay(ctx, run, steps, pos, runCtx)
			if fatal != nil {
				e.failRun(ctx, run, runCtx, fatal)
				return run, nil
			}
			if suspended {
				return run, nil
			}
			next = pos + 1

		case schema.StepTypeAction:
			fatal := e.execAction(ctx, run, step, runCtx)
			if fatal != nil {
				e.failRun(ctx, run, runCtx, fatal)
				return run, nil
			}
			next = pos + 1

		default:
			e.failRun(ctx, run, runCtx, schema.NewErrorf(schema.ErrCodeExecution,
				"unknown step type %q at step %d", step.Type, step.StepOrder).WithStep(step.StepOrder))
			return run, nil
		}

		pos = next
		e.checkpoint(ctx, run, steps, pos, runCtx)
	}
}

// execCondition evaluates a condition step and returns the next
// position. False with else_goto_step jumps; false without falls
// through to the next sequential step.
func (e *Engine) execCondition(ctx context.Context, run *store.WorkflowRun, steps []*store.WorkflowStep, pos int, runCtx map[string]any) (int, *schema.ConveyorError) {
	step := steps[pos]

	cond, err := schema.ParseCondition(step.Config)
	if err != nil {
		cvErr := schema.NewErrorf(schema.ErrCodeCondition,
			"step %d: malformed condition: %s", step.StepOrder, err.Error()).WithStep(step.StepOrder)
		e.recordStep(ctx, run, step, schema.RunStepFailed, step.Config, nil, cvErr.Error(), 0)
		return 0, cvErr
	}

	result, err := e.conditions.Evaluate(ctx, cond, runCtx)
	if err != nil {
		// Unknown operator or broken expression: cannot safely guess the branch.
		cvErr := asConveyorError(err, schema.ErrCodeCondition).WithStep(step.StepOrder)
		e.recordStep(ctx, run, step, schema.RunStepFailed, step.Config, nil, cvErr.Error(), 0)
		return 0, cvErr
	}

	output, _ := json.Marshal(map[string]any{"result": result})

	if result || step.ElseGotoStep == nil {
		e.recordStep(ctx, run, step, schema.RunStepSuccess, step.Config, output, "", 0)
		e.publish(ctx, run, step.StepOrder, schema.EventConditionEvaluated, map[string]any{"result": result})
		return pos + 1, nil
	}

	// The jump target has to resolve before the step can count as
	// succeeded; a dangling target fails the condition step itself.
	target := *step.ElseGotoStep
	ti := positionOfOrder(steps, target)
	if ti < 0 {
		cvErr := schema.NewErrorf(schema.ErrCodeExecution,
			"step %d: else_goto_step %d does not exist", step.StepOrder, target).WithStep(step.StepOrder)
		e.recordStep(ctx, run, step, schema.RunStepFailed, step.Config, output, cvErr.Error(), 0)
		e.publish(ctx, run, step.StepOrder, schema.EventStepFailed, map[string]any{"error": cvErr.Error()})
		return 0, cvErr
	}

	e.recordStep(ctx, run, step, schema.RunStepSuccess, step.Config, output, "", 0)
	e.publish(ctx, run, step.StepOrder, schema.EventConditionEvaluated, map[string]any{"result": result})

	// Steps bypassed by a forward jump are recorded as skipped so every
	// step of a completed run is accounted for.
	for i := pos + 1; i < ti; i++ {
		e.recordStep(ctx, run, steps[i], schema.RunStepSkipped, nil, nil, "", 0)
		e.publish(ctx, run, steps[i].StepOrder, schema.EventStepSkipped, nil)
	}
	return ti, nil
}

// execDelay suspends the run at a delay step: status waiting, cursor at
// the following step, resume_at persisted. Resumption is derived purely
// from that persisted state, never from in-memory timers.
func (e *Engine) execDelay(ctx context.Context, run *store.WorkflowRun, steps []*store.WorkflowStep, pos int, runCtx map[string]any) (bool, *schema.ConveyorError) {
	step := steps[pos]

	delay, err := schema.ParseDelay(step.Config)
	if err != nil {
		cvErr := schema.NewErrorf(schema.ErrCodeExecution,
			"step %d: malformed delay config: %s", step.StepOrder, err.Error()).WithStep(step.StepOrder)
		e.recordStep(ctx, run, step, schema.RunStepFailed, step.Config, nil, cvErr.Error(), 0)
		return false, cvErr
	}
	dur, err := delay.Duration()
	if err != nil {
		cvErr := schema.NewErrorf(schema.ErrCodeExecution,
			"step %d: %s", step.StepOrder, err.Error()).WithStep(step.StepOrder)
		e.recordStep(ctx, run, step, schema.RunStepFailed, step.Config, nil, cvErr.Error(), 0)
		return false, cvErr
	}

	resumeAt := time.Now().UTC().Add(dur)
	nextCursor := step.StepOrder + 1
	if pos+1 < len(steps) {
		nextCursor = steps[pos+1].StepOrder
	}

	output, _ := json.Marshal(map[string]any{
		"resume_at": resumeAt.Format(time.RFC3339),
		"delay_ms":  dur.Milliseconds(),
	})
	e.recordStep(ctx, run, step, schema.RunStepSuccess, step.Config, output, "", 0)

	waiting := schema.RunStatusWaiting
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:   &waiting,
		Context:  encodeContext(runCtx),
		Cursor:   &nextCursor,
		ResumeAt: &resumeAt,
	}); err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStore,
			"step %d: persist delay suspension: %s", step.StepOrder, err.Error()).
			WithStep(step.StepOrder).WithCause(err)
	}

	run.Status = waiting
	run.Cursor = nextCursor
	run.ResumeAt = &resumeAt
	run.Context = encodeContext(runCtx)

	e.publish(ctx, run, step.StepOrder, schema.EventDelayScheduled, map[string]any{"resume_at": resumeAt.Format(time.RFC3339)})
	e.publish(ctx, run, step.StepOrder, schema.EventRunWaiting, nil)
	return true, nil
}

// execAction resolves the step config against the run context,
// dispatches to the matching executor, records the run step, and merges
// the output into context. Returns a non-nil error only when the
// failure policy for the action kind is fatal.
func (e *Engine) execAction(ctx context.Context, run *store.WorkflowRun, step *store.WorkflowStep, runCtx map[string]any) *schema.ConveyorError {
	logger := logging.LogWith(ctx, e.logger)

	exec, err := e.registry.Get(step.ActionType)
	if err != nil {
		cvErr := asConveyorError(err, schema.ErrCodeExecution).WithStep(step.StepOrder)
		e.recordStep(ctx, run, step, schema.RunStepFailed, step.Config, nil, cvErr.Error(), 0)
		return cvErr
	}

	resolved, err := e.resolver.ResolveRawConfig(ctx, step.Config, runCtx)
	if err != nil {
		cvErr := schema.NewErrorf(schema.ErrCodeExecution,
			"step %d: malformed config: %s", step.StepOrder, err.Error()).WithStep(step.StepOrder)
		e.recordStep(ctx, run, step, schema.RunStepFailed, step.Config, nil, cvErr.Error(), 0)
		return cvErr
	}
	inputRaw, _ := json.Marshal(resolved)

	start := time.Now()
	out, execErr := exec.Execute(ctx, executors.Input{
		Config:  resolved,
		Context: runCtx,
		OrgID:   run.OrgID,
	})
	durMs := time.Since(start).Milliseconds()

	if execErr != nil {
		e.recordStep(ctx, run, step, schema.RunStepFailed, inputRaw, nil, execErr.Error(), durMs)
		e.publish(ctx, run, step.StepOrder, schema.EventStepFailed, map[string]any{"error": execErr.Error()})

		if isBestEffort(step.ActionType) {
			logger.WarnContext(ctx, "best-effort step failed, continuing",
				slog.Int("step_order", step.StepOrder),
				slog.String("action_type", string(step.ActionType)),
				slog.String("error", execErr.Error()))
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeStepFailed,
			"step %d (%s): %s", step.StepOrder, step.ActionType, execErr.Error()).
			WithStep(step.StepOrder).WithCause(execErr)
	}

	var outData map[string]any
	if out != nil {
		outData = out.Data
	}
	outRaw, _ := json.Marshal(outData)
	e.recordStep(ctx, run, step, schema.RunStepSuccess, inputRaw, outRaw, "", durMs)
	e.publish(ctx, run, step.StepOrder, schema.EventStepSucceeded, nil)

	mergeStepOutput(runCtx, step.StepOrder, outData)
	mergeEntityOutput(runCtx, entityNamespace(step.ActionType), outData)
	return nil
}

// checkpoint persists context and cursor after a step so a crash
// mid-run leaves an inspectable, resumable trail.
func (e *Engine) checkpoint(ctx context.Context, run *store.WorkflowRun, steps []*store.WorkflowStep, pos int, runCtx map[string]any) {
	cursor := steps[len(steps)-1].StepOrder + 1
	if pos < len(steps) {
		cursor = steps[pos].StepOrder
	}

	raw := encodeContext(runCtx)
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Context: raw,
		Cursor:  &cursor,
	}); err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "checkpoint failed",
			slog.String("error", err.Error()))
		return
	}
	run.Context = raw
	run.Cursor = cursor
}

func (e *Engine) completeRun(ctx context.Context, run *store.WorkflowRun, runCtx map[string]any) {
	now := time.Now().UTC()
	completed := schema.RunStatusCompleted
	raw := encodeContext(runCtx)
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:        &completed,
		Context:       raw,
		CompletedAt:   &now,
		ClearResumeAt: true,
	}); err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "persist run completion failed",
			slog.String("error", err.Error()))
	}
	run.Status = completed
	run.Context = raw
	run.CompletedAt = &now
	e.publish(ctx, run, 0, schema.EventRunCompleted, nil)
}

func (e *Engine) failRun(ctx context.Context, run *store.WorkflowRun, runCtx map[string]any, cvErr *schema.ConveyorError) {
	now := time.Now().UTC()
	failed := schema.RunStatusFailed
	msg := cvErr.Error()
	raw := encodeContext(runCtx)
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:        &failed,
		Context:       raw,
		ErrorMessage:  &msg,
		CompletedAt:   &now,
		ClearResumeAt: true,
	}); err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "persist run failure failed",
			slog.String("error", err.Error()))
	}
	run.Status = failed
	run.Context = raw
	run.ErrorMessage = msg
	run.CompletedAt = &now
	e.publish(ctx, run, cvErr.StepOrder, schema.EventRunFailed, map[string]any{"error": msg})
}

// recordStep appends one entry to the run's append-only step log.
// Persistence failures here are logged, not fatal: the audit trail must
// never take down the run it is auditing.
func (e *Engine) recordStep(ctx context.Context, run *store.WorkflowRun, step *store.WorkflowStep, status schema.RunStepStatus, input, output json.RawMessage, errMsg string, durMs int64) {
	rs := &store.WorkflowRunStep{
		RunID:      run.ID,
		StepOrder:  step.StepOrder,
		Type:       step.Type,
		ActionType: step.ActionType,
		Status:     status,
		Input:      input,
		Output:     output,
		Error:      errMsg,
		DurationMs: durMs,
		Timestamp:  time.Now().UTC(),
	}
	if err := e.store.AppendRunStep(ctx, rs); err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "append run step failed",
			slog.Int("step_order", step.StepOrder),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) publish(ctx context.Context, run *store.WorkflowRun, stepOrder int, eventType string, payload any) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Publish(ctx, streaming.RunEvent{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		StepOrder:  stepOrder,
		EventType:  eventType,
		Payload:    payload,
	})
}

// positionForCursor returns the index of the first step whose order is
// at or beyond the cursor.
func positionForCursor(steps []*store.WorkflowStep, cursor int) int {
	for i, s := range steps {
		if s.StepOrder >= cursor {
			return i
		}
	}
	return len(steps)
}

func positionOfOrder(steps []*store.WorkflowStep, order int) int {
	for i, s := range steps {
		if s.StepOrder == order {
			return i
		}
	}
	return -1
}

func asConveyorError(err error, fallbackCode string) *schema.ConveyorError {
	if cvErr, ok := err.(*schema.ConveyorError); ok {
		return cvErr
	}
	return schema.NewError(fallbackCode, err.Error()).WithCause(err)
}
