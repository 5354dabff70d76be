package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/arclight-io/conveyor/internal/dispatch"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// --- Trigger intake ---

func (s *Server) handleEventTrigger(c echo.Context) error {
	var body struct {
		OrgID      string         `json:"organization_id"`
		EventType  string         `json:"event_type"`
		Entity     map[string]any `json:"entity"`
		EntityKind string         `json:"entity_kind"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid JSON: "+err.Error())
	}
	if body.EventType == "" {
		return badRequest(c, "event_type is required")
	}

	matches, err := s.deps.Intake.Dispatch(c.Request().Context(), dispatch.TriggerSignal{
		Type:       schema.TriggerEvent,
		OrgID:      body.OrgID,
		EventType:  body.EventType,
		Entity:     body.Entity,
		EntityKind: body.EntityKind,
	})
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"matched":      len(matches),
		"workflow_ids": workflowIDs(matches),
	})
}

func (s *Server) handleWebhook(c echo.Context) error {
	binding := c.Param("binding")

	var payload map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		return badRequest(c, "invalid JSON body: "+err.Error())
	}

	matches, err := s.deps.Intake.Dispatch(c.Request().Context(), dispatch.TriggerSignal{
		Type:    schema.TriggerWebhook,
		Binding: binding,
		Payload: payload,
	})
	if err != nil {
		return fail(c, err)
	}
	if len(matches) == 0 {
		return fail(c, schema.NewErrorf(schema.ErrCodeNotFound, "no active workflow bound to %q", binding))
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"matched":      len(matches),
		"workflow_ids": workflowIDs(matches),
	})
}

func (s *Server) handleTestRun(c echo.Context) error {
	id := c.Param("id")

	var body struct {
		TestData map[string]any `json:"test_data"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid JSON: "+err.Error())
	}

	ctx := c.Request().Context()
	wf, err := s.deps.Store.GetWorkflow(ctx, id)
	if err != nil {
		return fail(c, err)
	}

	runs, err := s.deps.Intake.DispatchSync(ctx, dispatch.TriggerSignal{
		Type:       schema.TriggerManual,
		OrgID:      wf.OrgID,
		WorkflowID: wf.ID,
		Payload:    body.TestData,
	})
	if err != nil {
		return fail(c, err)
	}
	if len(runs) == 0 {
		return fail(c, schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %q did not launch; is it active?", id))
	}

	return c.JSON(http.StatusOK, s.runDetail(c, runs[0]))
}

// --- Workflow management ---

type stepRequest struct {
	StepOrder    int               `json:"step_order"`
	Type         schema.StepType   `json:"step_type"`
	ActionType   schema.ActionType `json:"action_type,omitempty"`
	Config       json.RawMessage   `json:"config,omitempty"`
	ElseGotoStep *int              `json:"else_goto_step,omitempty"`
}

type workflowRequest struct {
	OrgID         string               `json:"organization_id"`
	Name          string               `json:"name"`
	Description   string               `json:"description,omitempty"`
	TriggerType   schema.TriggerType   `json:"trigger_type"`
	TriggerConfig schema.TriggerConfig `json:"trigger_config"`
	Active        bool                 `json:"active"`
	Steps         []stepRequest        `json:"steps,omitempty"`
}

func (r *workflowRequest) build() (*store.Workflow, []*store.WorkflowStep) {
	now := time.Now().UTC()
	wf := &store.Workflow{
		ID:            uuid.NewString(),
		OrgID:         r.OrgID,
		Name:          r.Name,
		Description:   r.Description,
		TriggerType:   r.TriggerType,
		TriggerConfig: r.TriggerConfig,
		Active:        r.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	steps := make([]*store.WorkflowStep, 0, len(r.Steps))
	for _, sr := range r.Steps {
		steps = append(steps, &store.WorkflowStep{
			ID:           uuid.NewString(),
			WorkflowID:   wf.ID,
			StepOrder:    sr.StepOrder,
			Type:         sr.Type,
			ActionType:   sr.ActionType,
			Config:       sr.Config,
			ElseGotoStep: sr.ElseGotoStep,
			CreatedAt:    now,
		})
	}
	return wf, steps
}

func (s *Server) handleCreateWorkflow(c echo.Context) error {
	var body workflowRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid JSON: "+err.Error())
	}

	wf, steps := body.build()
	result := s.deps.Validator.ValidateWorkflow(wf, steps)
	if !result.Valid() {
		return c.JSON(http.StatusBadRequest, result)
	}

	ctx := c.Request().Context()
	if err := s.deps.Store.CreateWorkflow(ctx, wf); err != nil {
		return fail(c, err)
	}
	for _, step := range steps {
		if err := s.deps.Store.CreateStep(ctx, step); err != nil {
			return fail(c, err)
		}
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"workflow": wf,
		"steps":    steps,
		"warnings": result.Warnings,
	})
}

func (s *Server) handleValidateWorkflow(c echo.Context) error {
	var body workflowRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid JSON: "+err.Error())
	}

	wf, steps := body.build()
	return c.JSON(http.StatusOK, s.deps.Validator.ValidateActivation(wf, steps))
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	filter := store.WorkflowFilter{
		OrgID:  c.QueryParam("organization_id"),
		Limit:  intQuery(c, "limit"),
		Offset: intQuery(c, "offset"),
	}
	if raw := c.QueryParam("trigger_type"); raw != "" {
		tt := schema.TriggerType(raw)
		filter.TriggerType = &tt
	}
	if raw := c.QueryParam("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}

	workflows, err := s.deps.Store.ListWorkflows(c.Request().Context(), filter)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	wf, err := s.deps.Store.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	steps, err := s.deps.Store.ListSteps(ctx, wf.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"workflow": wf, "steps": steps})
}

func (s *Server) handleDeleteWorkflow(c echo.Context) error {
	if err := s.deps.Store.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleActivateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	wf, err := s.deps.Store.GetWorkflow(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	steps, err := s.deps.Store.ListSteps(ctx, id)
	if err != nil {
		return fail(c, err)
	}

	result := s.deps.Validator.ValidateActivation(wf, steps)
	if !result.Valid() {
		return c.JSON(http.StatusBadRequest, result)
	}

	active := true
	if err := s.deps.Store.UpdateWorkflow(ctx, id, store.WorkflowUpdate{Active: &active}); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "active": true, "warnings": result.Warnings})
}

func (s *Server) handleDeactivateWorkflow(c echo.Context) error {
	active := false
	id := c.Param("id")
	if err := s.deps.Store.UpdateWorkflow(c.Request().Context(), id, store.WorkflowUpdate{Active: &active}); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "active": false})
}

// --- Run inspection ---

func (s *Server) handleListRuns(c echo.Context) error {
	filter := store.RunFilter{
		WorkflowID: c.QueryParam("workflow_id"),
		OrgID:      c.QueryParam("organization_id"),
		Limit:      intQuery(c, "limit"),
		Offset:     intQuery(c, "offset"),
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := schema.RunStatus(raw)
		filter.Status = &status
	}

	runs, err := s.deps.Store.ListRuns(c.Request().Context(), filter)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.deps.Store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s.runDetail(c, run))
}

func (s *Server) handleCancelRun(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := s.deps.Runs.Cancel(ctx, id); err != nil {
		return fail(c, err)
	}
	run, err := s.deps.Store.GetRun(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s.runDetail(c, run))
}

func (s *Server) handleListActions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"actions": s.deps.Registry.List()})
}

// runDetail joins a run with its step log. A step-log read failure
// degrades to the bare run rather than failing the request.
func (s *Server) runDetail(c echo.Context, run *store.WorkflowRun) map[string]any {
	detail := map[string]any{"run": run}
	steps, err := s.deps.Store.ListRunSteps(c.Request().Context(), run.ID)
	if err != nil {
		s.deps.Logger.Warn("list run steps failed", "run_id", run.ID, "error", err.Error())
		return detail
	}
	detail["steps"] = steps
	return detail
}

func workflowIDs(workflows []*store.Workflow) []string {
	ids := make([]string, 0, len(workflows))
	for _, wf := range workflows {
		ids = append(ids, wf.ID)
	}
	return ids
}

func intQuery(c echo.Context, name string) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
