package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/arclight-io/conveyor/internal/dispatch"
	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/internal/streaming"
	"github.com/arclight-io/conveyor/internal/validation"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// TriggerIntake accepts inbound trigger signals. Satisfied by the dispatcher.
type TriggerIntake interface {
	Dispatch(ctx context.Context, sig dispatch.TriggerSignal) ([]*store.Workflow, error)
	DispatchSync(ctx context.Context, sig dispatch.TriggerSignal) ([]*store.WorkflowRun, error)
}

// RunController is the slice of the engine the API needs. Satisfied by
// the engine.
type RunController interface {
	Cancel(ctx context.Context, runID string) error
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Store     store.Store
	Intake    TriggerIntake
	Runs      RunController
	Validator *validation.Validator
	Hub       streaming.EventHub
	Registry  *executors.Registry
	Logger    *slog.Logger
}

// Server is the HTTP surface: trigger intake (events, webhooks, manual
// test runs), workflow management, run inspection, and SSE run streams.
type Server struct {
	deps Deps
	echo *echo.Echo
}

// NewServer creates a Server with all routes registered.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{deps: deps, echo: e}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.echo.Group("/v1")

	// Trigger intake.
	v1.POST("/triggers/event", s.handleEventTrigger)
	v1.POST("/hooks/:binding", s.handleWebhook)

	// Workflow management.
	v1.POST("/workflows", s.handleCreateWorkflow)
	v1.GET("/workflows", s.handleListWorkflows)
	v1.GET("/workflows/:id", s.handleGetWorkflow)
	v1.DELETE("/workflows/:id", s.handleDeleteWorkflow)
	v1.POST("/workflows/validate", s.handleValidateWorkflow)
	v1.POST("/workflows/:id/activate", s.handleActivateWorkflow)
	v1.POST("/workflows/:id/deactivate", s.handleDeactivateWorkflow)
	v1.POST("/workflows/:id/test-run", s.handleTestRun)

	// Run inspection.
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/cancel", s.handleCancelRun)
	v1.GET("/runs/:id/stream", s.handleRunStream)

	// Action catalog.
	v1.GET("/actions", s.handleListActions)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler returns the http.Handler for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving on addr and blocks until Shutdown.
func (s *Server) Start(addr string) error {
	s.deps.Logger.Info("api server starting", slog.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// fail maps a domain error to its HTTP status and renders the error body.
func fail(c echo.Context, err error) error {
	var cvErr *schema.ConveyorError
	if !errors.As(err, &cvErr) {
		cvErr = schema.NewError(schema.ErrCodeExecution, err.Error())
	}

	var body errorBody
	body.Error.Code = cvErr.Code
	body.Error.Message = cvErr.Message
	body.Error.Details = cvErr.Details

	return c.JSON(statusFor(cvErr.Code), body)
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c echo.Context, message string) error {
	return fail(c, schema.NewError(schema.ErrCodeValidation, message))
}
