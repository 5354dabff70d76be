package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/expressions"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/internal/validation"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// workflowFile is the on-disk shape accepted by `conveyor validate`:
// one workflow definition plus its steps.
type workflowFile struct {
	Name          string               `json:"name"`
	Description   string               `json:"description,omitempty"`
	TriggerType   schema.TriggerType   `json:"trigger_type"`
	TriggerConfig schema.TriggerConfig `json:"trigger_config"`
	Steps         []struct {
		StepOrder    int               `json:"step_order"`
		Type         schema.StepType   `json:"step_type"`
		ActionType   schema.ActionType `json:"action_type,omitempty"`
		Config       json.RawMessage   `json:"config,omitempty"`
		ElseGotoStep *int              `json:"else_goto_step,omitempty"`
	} `json:"steps"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Validate a workflow definition file without persisting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			var file workflowFile
			if err := json.Unmarshal(raw, &file); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			registry := executors.NewRegistry()
			if err := executors.RegisterBuiltins(registry, nil, nil, nil, executors.WebhookConfig{}); err != nil {
				return fmt.Errorf("register executors: %w", err)
			}
			engines, err := expressions.NewRegistry()
			if err != nil {
				return fmt.Errorf("init expression engines: %w", err)
			}
			validator, err := validation.New(registry, engines)
			if err != nil {
				return fmt.Errorf("init validator: %w", err)
			}

			wf := &store.Workflow{
				Name:          file.Name,
				Description:   file.Description,
				TriggerType:   file.TriggerType,
				TriggerConfig: file.TriggerConfig,
			}
			steps := make([]*store.WorkflowStep, 0, len(file.Steps))
			for _, s := range file.Steps {
				steps = append(steps, &store.WorkflowStep{
					StepOrder:    s.StepOrder,
					Type:         s.Type,
					ActionType:   s.ActionType,
					Config:       s.Config,
					ElseGotoStep: s.ElseGotoStep,
				})
			}

			result := validator.ValidateActivation(wf, steps)
			for _, issue := range result.Errors {
				fmt.Printf("ERROR  %s: %s (%s)\n", issue.Path, issue.Message, issue.Code)
			}
			for _, issue := range result.Warnings {
				fmt.Printf("WARN   %s: %s (%s)\n", issue.Path, issue.Message, issue.Code)
			}
			if !result.Valid() {
				return fmt.Errorf("%d validation error(s)", len(result.Errors))
			}
			fmt.Println("workflow is valid")
			return nil
		},
	}
}
