package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arclight-io/conveyor/internal/dispatch"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultDueRunBatch  = 100
)

// RunResumer resumes a suspended run from its persisted state.
// Satisfied by the engine.
type RunResumer interface {
	ResumeRun(ctx context.Context, runID string) (*store.WorkflowRun, error)
}

// TriggerDispatcher fires a trigger signal. Satisfied by the dispatcher.
type TriggerDispatcher interface {
	Dispatch(ctx context.Context, sig dispatch.TriggerSignal) ([]*store.Workflow, error)
}

// Store is the slice of the persistence layer the scheduler needs.
// Satisfied by store.Store.
type Store interface {
	ListDueRuns(ctx context.Context, now time.Time, limit int) ([]*store.WorkflowRun, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update store.WorkflowUpdate) error
}

// Config holds scheduler tuning knobs.
type Config struct {
	PollInterval time.Duration // default 30s
	DueRunBatch  int           // max delayed runs resumed per tick, default 100
	Logger       *slog.Logger
}

// Scheduler is the time-driven half of the system: it resumes runs
// whose delay elapsed and fires schedule-triggered workflows whose
// next_run_at is due. Resumability is derived purely from persisted
// state, so a restart loses nothing.
type Scheduler struct {
	store      Store
	resumer    RunResumer
	dispatcher TriggerDispatcher
	parser     cron.Parser
	interval   time.Duration
	batch      int
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // run/workflow IDs currently executing (dedup)
}

// New creates a Scheduler.
func New(s Store, resumer RunResumer, dispatcher TriggerDispatcher, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DueRunBatch <= 0 {
		cfg.DueRunBatch = defaultDueRunBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		store:      s,
		resumer:    resumer,
		dispatcher: dispatcher,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval:   cfg.PollInterval,
		batch:      cfg.DueRunBatch,
		logger:     cfg.Logger,
		inflight:   make(map[string]struct{}),
	}
}

// Start launches the background polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("poll_interval", s.interval))
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: resume due delayed runs, then fire due
// schedule workflows. Exported so tests and the CLI can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	s.resumeDueRuns(ctx, now)
	s.fireDueSchedules(ctx, now)
}

// resumeDueRuns picks up waiting runs whose resume_at elapsed.
func (s *Scheduler) resumeDueRuns(ctx context.Context, now time.Time) {
	due, err := s.store.ListDueRuns(ctx, now, s.batch)
	if err != nil {
		s.logger.Error("list due runs failed", slog.String("error", err.Error()))
		return
	}

	for _, run := range due {
		if !s.tryAcquire("run:" + run.ID) {
			continue // already resuming (dedup)
		}
		resumed, err := s.resumer.ResumeRun(ctx, run.ID)
		s.release("run:" + run.ID)
		if err != nil {
			s.logger.Error("resume run failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("resumed delayed run",
			slog.String("run_id", run.ID),
			slog.String("status", string(resumed.Status)))
	}
}

// fireDueSchedules dispatches schedule-triggered workflows whose
// next_run_at is at or before now, then recomputes next_run_at. A
// workflow without next_run_at (newly activated) is initialized without
// firing.
func (s *Scheduler) fireDueSchedules(ctx context.Context, now time.Time) {
	active := true
	scheduleType := schema.TriggerSchedule
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		TriggerType: &scheduleType,
		Active:      &active,
	})
	if err != nil {
		s.logger.Error("list schedule workflows failed", slog.String("error", err.Error()))
		return
	}

	for _, wf := range workflows {
		if wf.TriggerConfig.Cron == "" {
			continue
		}

		if wf.NextRunAt == nil {
			if err := s.scheduleNext(ctx, wf, now); err != nil {
				s.logger.Error("initialize next_run_at failed",
					slog.String("workflow_id", wf.ID),
					slog.String("error", err.Error()))
			}
			continue
		}
		if wf.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire("wf:" + wf.ID) {
			continue
		}

		_, err := s.dispatcher.Dispatch(ctx, dispatch.TriggerSignal{
			Type:       schema.TriggerSchedule,
			OrgID:      wf.OrgID,
			WorkflowID: wf.ID,
			Tick:       now,
		})
		if err != nil {
			s.logger.Error("schedule dispatch failed",
				slog.String("workflow_id", wf.ID),
				slog.String("error", err.Error()))
		}
		if err := s.scheduleNext(ctx, wf, now); err != nil {
			s.logger.Error("recompute next_run_at failed",
				slog.String("workflow_id", wf.ID),
				slog.String("error", err.Error()))
		}
		s.release("wf:" + wf.ID)
	}
}

// RecoverMissed fires overdue schedule workflows once at startup, so a
// restart does not silently drop ticks that elapsed while down. Delayed
// runs need no recovery pass: ListDueRuns finds them on the first tick.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	now := time.Now().UTC()
	s.fireDueSchedules(ctx, now)
	return nil
}

// NextRun computes the next run time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

func (s *Scheduler) scheduleNext(ctx context.Context, wf *store.Workflow, from time.Time) error {
	next, err := s.NextRun(wf.TriggerConfig.Cron, from)
	if err != nil {
		return err
	}
	return s.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{NextRunAt: &next})
}

func (s *Scheduler) tryAcquire(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[key]; ok {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}
