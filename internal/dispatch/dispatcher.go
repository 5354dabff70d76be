package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/arclight-io/conveyor/internal/logging"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// TriggerSignal is an inbound trigger: a runtime event, a schedule
// tick, a webhook invocation, or an explicit manual-run request.
type TriggerSignal struct {
	Type  schema.TriggerType
	OrgID string

	// Event triggers.
	EventType  string
	Entity     map[string]any
	EntityKind string // context namespace for Entity; inferred from EventType when empty

	// Schedule ticks.
	Tick time.Time

	// Webhook invocations.
	Binding string
	Payload map[string]any // webhook body or manual test_data

	// Targeted dispatch (manual runs, scheduler ticks for one workflow).
	WorkflowID string
}

// Runner is the engine entry point the dispatcher hands matches to.
type Runner interface {
	ExecuteWorkflow(ctx context.Context, wf *store.Workflow, seed map[string]any) (*store.WorkflowRun, error)
}

// WorkflowSource lists candidate workflows and records launch times.
// Satisfied by store.Store.
type WorkflowSource interface {
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update store.WorkflowUpdate) error
}

// Dispatcher matches inbound trigger signals against active workflows
// and launches one engine run per match. Matches for one signal run
// independently and never share context.
type Dispatcher struct {
	source WorkflowSource
	runner Runner
	pool   *WorkerPool
	logger *slog.Logger
}

// New creates a Dispatcher running matches through a pool of the given size.
func New(source WorkflowSource, runner Runner, poolSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		source: source,
		runner: runner,
		pool:   NewWorkerPool(poolSize),
		logger: logger,
	}
}

// Dispatch launches a run for every active workflow matching the
// signal, asynchronously through the worker pool. It returns the
// matched workflows; run outcomes are observed via the run records.
func (d *Dispatcher) Dispatch(ctx context.Context, sig TriggerSignal) ([]*store.Workflow, error) {
	matches, err := d.match(ctx, sig)
	if err != nil {
		return nil, err
	}

	for _, wf := range matches {
		wf := wf
		seed := seedContext(sig)
		if err := d.pool.Submit(ctx, func(runCtx context.Context) error {
			return d.launch(runCtx, wf, seed)
		}); err != nil {
			d.logger.ErrorContext(ctx, "dispatch submit failed",
				slog.String("workflow_id", wf.ID),
				slog.String("error", err.Error()))
		}
	}
	return matches, nil
}

// DispatchSync launches matching workflows inline and returns their
// runs. Used by manual test runs, where the operator inspects the run
// detail in the response.
func (d *Dispatcher) DispatchSync(ctx context.Context, sig TriggerSignal) ([]*store.WorkflowRun, error) {
	matches, err := d.match(ctx, sig)
	if err != nil {
		return nil, err
	}

	runs := make([]*store.WorkflowRun, 0, len(matches))
	for _, wf := range matches {
		run, err := d.runner.ExecuteWorkflow(ctx, wf, seedContext(sig))
		if err != nil {
			return runs, err
		}
		d.touchLastRun(ctx, wf.ID)
		runs = append(runs, run)
	}
	return runs, nil
}

// Shutdown drains the worker pool.
func (d *Dispatcher) Shutdown() {
	d.pool.Shutdown()
}

// Metrics exposes the pool metrics snapshot.
func (d *Dispatcher) Metrics() PoolMetrics {
	return d.pool.Metrics()
}

func (d *Dispatcher) launch(ctx context.Context, wf *store.Workflow, seed map[string]any) error {
	run, err := d.runner.ExecuteWorkflow(ctx, wf, seed)
	if err != nil {
		d.logger.ErrorContext(ctx, "workflow launch failed",
			slog.String("workflow_id", wf.ID),
			slog.String("error", err.Error()))
		return err
	}
	d.touchLastRun(ctx, wf.ID)

	logger := logging.LogWith(logging.WithIDs(ctx, run.ID, wf.ID, wf.OrgID), d.logger)
	logger.InfoContext(ctx, "run finished", slog.String("status", string(run.Status)))
	return nil
}

func (d *Dispatcher) touchLastRun(ctx context.Context, workflowID string) {
	now := time.Now().UTC()
	if err := d.source.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{LastRunAt: &now}); err != nil {
		d.logger.WarnContext(ctx, "update last_run_at failed",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) match(ctx context.Context, sig TriggerSignal) ([]*store.Workflow, error) {
	active := true
	triggerType := sig.Type
	candidates, err := d.source.ListWorkflows(ctx, store.WorkflowFilter{
		OrgID:       sig.OrgID,
		TriggerType: &triggerType,
		Active:      &active,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list workflows: %s", err.Error()).WithCause(err)
	}

	var matches []*store.Workflow
	for _, wf := range candidates {
		if matchesSignal(wf, sig) {
			matches = append(matches, wf)
		}
	}
	return matches, nil
}

func matchesSignal(wf *store.Workflow, sig TriggerSignal) bool {
	if sig.WorkflowID != "" && wf.ID != sig.WorkflowID {
		return false
	}

	switch sig.Type {
	case schema.TriggerEvent:
		for _, et := range wf.TriggerConfig.EventTypes {
			if et == sig.EventType {
				return true
			}
		}
		return false
	case schema.TriggerWebhook:
		return wf.TriggerConfig.Binding == sig.Binding
	case schema.TriggerSchedule:
		// Due-ness is the scheduler's judgement; a schedule signal is
		// always targeted at a specific workflow.
		return sig.WorkflowID != ""
	case schema.TriggerManual:
		return sig.WorkflowID != ""
	default:
		return false
	}
}

// seedContext builds a fresh run context for one signal: the trigger
// namespace holds the signal payload, and an event's entity snapshot is
// mirrored under its entity namespace so templates can read
// {{task.title}} directly.
func seedContext(sig TriggerSignal) map[string]any {
	trigger := map[string]any{
		"type":            string(sig.Type),
		"organization_id": sig.OrgID,
	}

	// Each match gets its own deep copy: the engine merges entity
	// outputs into namespace maps in place, and runs never share context.
	entity := copyMap(sig.Entity)
	payload := copyMap(sig.Payload)

	switch sig.Type {
	case schema.TriggerEvent:
		trigger["event_type"] = sig.EventType
		if entity != nil {
			trigger["entity"] = entity
		}
	case schema.TriggerSchedule:
		tick := sig.Tick
		if tick.IsZero() {
			tick = time.Now().UTC()
		}
		trigger["schedule_tick"] = tick.Format(time.RFC3339)
	case schema.TriggerWebhook:
		trigger["binding"] = sig.Binding
		if payload != nil {
			trigger["body"] = payload
		}
	case schema.TriggerManual:
		if payload != nil {
			trigger["test_data"] = payload
		}
	}

	seed := map[string]any{"trigger": trigger}

	if kind := entityKind(sig); kind != "" && entity != nil {
		seed[kind] = copyMap(sig.Entity)
	}

	// Manual test data doubles as pre-seeded namespaces so test runs can
	// exercise the same templates as real triggers.
	if sig.Type == schema.TriggerManual {
		for k, v := range copyMap(sig.Payload) {
			if _, exists := seed[k]; !exists {
				seed[k] = v
			}
		}
	}

	return seed
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return copyValue(m).(map[string]any)
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = copyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = copyValue(vv)
		}
		return out
	default:
		return v
	}
}

func entityKind(sig TriggerSignal) string {
	if sig.EntityKind != "" {
		return sig.EntityKind
	}
	// "task_completed" → "task"; conventional event naming.
	if sig.Type == schema.TriggerEvent && sig.EventType != "" {
		if kind, _, ok := strings.Cut(sig.EventType, "_"); ok {
			return kind
		}
	}
	return ""
}
