package engine

import "github.com/arclight-io/conveyor/pkg/schema"

// bestEffortActions are the action kinds whose failure is recorded on
// the run step but does not halt the run. A failed notification should
// not abort a whole automation. Every other kind is fatal: subsequent
// steps may assume the entity exists or the output is present.
var bestEffortActions = map[schema.ActionType]bool{
	schema.ActionSendEmail:          true,
	schema.ActionSendNotification:   true,
	schema.ActionSendSlack:          true,
	schema.ActionCreateSlackChannel: true,
}

func isBestEffort(t schema.ActionType) bool {
	return bestEffortActions[t]
}

// entityNamespace maps entity-producing action kinds to the run-context
// namespace their output is merged into, so later steps can reference
// {{task.title}} rather than {{step_3.title}}.
func entityNamespace(t schema.ActionType) string {
	switch t {
	case schema.ActionCreateTask, schema.ActionUpdateTask:
		return "task"
	case schema.ActionCreateProject:
		return "project"
	default:
		return ""
	}
}
