package validation

import (
	"fmt"

	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// checkStepSemantics runs the cross-step checks that no per-step schema
// can express: step_order uniqueness and else_goto_step targeting.
func checkStepSemantics(steps []*store.WorkflowStep) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	orders := make(map[int]int, len(steps)) // step_order -> first index
	for i, step := range steps {
		if first, dup := orders[step.StepOrder]; dup {
			result.AddError(fmt.Sprintf("steps[%d].step_order", i), CodeDuplicateOrder,
				fmt.Sprintf("step_order %d already used by steps[%d]", step.StepOrder, first))
			continue
		}
		orders[step.StepOrder] = i
	}

	for i, step := range steps {
		if step.ElseGotoStep == nil {
			continue
		}
		path := fmt.Sprintf("steps[%d].else_goto_step", i)

		if step.Type != schema.StepTypeCondition {
			result.AddError(path, CodeMisplacedGoto,
				fmt.Sprintf("else_goto_step is only valid on condition steps, found on %q step", string(step.Type)))
			continue
		}
		target := *step.ElseGotoStep
		if _, ok := orders[target]; !ok {
			result.AddError(path, CodeDanglingGoto,
				fmt.Sprintf("else_goto_step %d does not reference an existing step_order", target))
			continue
		}
		if target == step.StepOrder {
			result.AddWarning(path, CodeSelfReferenceGoto,
				fmt.Sprintf("else_goto_step %d targets its own step; a persistently false condition loops until the run's visit budget trips", target))
		} else if target < step.StepOrder {
			result.AddWarning(path, CodeBackwardGoto,
				fmt.Sprintf("else_goto_step %d jumps backwards; make sure the loop terminates", target))
		}
	}

	return result
}
