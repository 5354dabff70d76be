package executors

import (
	"context"
	"encoding/json"

	"github.com/arclight-io/conveyor/pkg/schema"
)

// --- JSON Schemas ---

const sendEmailInputSchema = `{
  "type": "object",
  "properties": {
    "to": {"type": "string"},
    "subject": {"type": "string"},
    "body": {"type": "string"}
  },
  "required": ["to", "body"]
}`

const sendNotificationInputSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "string"},
    "title": {"type": "string"},
    "message": {"type": "string"}
  },
  "required": ["user_id", "message"]
}`

const sendSlackInputSchema = `{
  "type": "object",
  "properties": {
    "channel": {"type": "string"},
    "message": {"type": "string"}
  },
  "required": ["channel", "message"]
}`

const createSlackChannelInputSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "members": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["name"]
}`

// --- SendEmailExecutor ---

// SendEmailExecutor implements the "send_email" action.
type SendEmailExecutor struct {
	sink NotificationSink
}

// NewSendEmailExecutor creates a send_email executor.
func NewSendEmailExecutor(sink NotificationSink) *SendEmailExecutor {
	return &SendEmailExecutor{sink: sink}
}

func (e *SendEmailExecutor) Name() schema.ActionType { return schema.ActionSendEmail }

func (e *SendEmailExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Send an email to a recipient resolved from the run context.",
		InputSchema: json.RawMessage(sendEmailInputSchema),
	}
}

func (e *SendEmailExecutor) Validate(config map[string]any) error {
	if stringParam(config, "to", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "send_email: missing required param 'to'")
	}
	if stringParam(config, "body", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "send_email: missing required param 'body'")
	}
	return nil
}

func (e *SendEmailExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	msg := Message{
		Kind:    "email",
		To:      stringParam(input.Config, "to", ""),
		Subject: stringParam(input.Config, "subject", ""),
		Body:    stringParam(input.Config, "body", ""),
	}
	if err := e.sink.Deliver(ctx, input.OrgID, msg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDelivery, "send_email: %s", err.Error()).WithCause(err)
	}

	return &Output{Data: map[string]any{"sent": true, "to": msg.To}}, nil
}

// --- SendNotificationExecutor ---

// SendNotificationExecutor implements the "send_notification" action
// (in-app notification to a user).
type SendNotificationExecutor struct {
	sink NotificationSink
}

// NewSendNotificationExecutor creates a send_notification executor.
func NewSendNotificationExecutor(sink NotificationSink) *SendNotificationExecutor {
	return &SendNotificationExecutor{sink: sink}
}

func (e *SendNotificationExecutor) Name() schema.ActionType { return schema.ActionSendNotification }

func (e *SendNotificationExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Send an in-app notification to a user.",
		InputSchema: json.RawMessage(sendNotificationInputSchema),
	}
}

func (e *SendNotificationExecutor) Validate(config map[string]any) error {
	if stringParam(config, "user_id", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "send_notification: missing required param 'user_id'")
	}
	if stringParam(config, "message", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "send_notification: missing required param 'message'")
	}
	return nil
}

func (e *SendNotificationExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	msg := Message{
		Kind:    "notification",
		To:      stringParam(input.Config, "user_id", ""),
		Subject: stringParam(input.Config, "title", ""),
		Body:    stringParam(input.Config, "message", ""),
	}
	if err := e.sink.Deliver(ctx, input.OrgID, msg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDelivery, "send_notification: %s", err.Error()).WithCause(err)
	}

	return &Output{Data: map[string]any{"sent": true, "user_id": msg.To}}, nil
}

// --- SendSlackExecutor ---

// SendSlackExecutor implements the "send_slack" action.
type SendSlackExecutor struct {
	sink NotificationSink
}

// NewSendSlackExecutor creates a send_slack executor.
func NewSendSlackExecutor(sink NotificationSink) *SendSlackExecutor {
	return &SendSlackExecutor{sink: sink}
}

func (e *SendSlackExecutor) Name() schema.ActionType { return schema.ActionSendSlack }

func (e *SendSlackExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Post a message to a chat channel.",
		InputSchema: json.RawMessage(sendSlackInputSchema),
	}
}

func (e *SendSlackExecutor) Validate(config map[string]any) error {
	if stringParam(config, "channel", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "send_slack: missing required param 'channel'")
	}
	if stringParam(config, "message", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "send_slack: missing required param 'message'")
	}
	return nil
}

func (e *SendSlackExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	msg := Message{
		Kind:    "slack",
		Channel: stringParam(input.Config, "channel", ""),
		Body:    stringParam(input.Config, "message", ""),
	}
	if err := e.sink.Deliver(ctx, input.OrgID, msg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDelivery, "send_slack: %s", err.Error()).WithCause(err)
	}

	return &Output{Data: map[string]any{"sent": true, "channel": msg.Channel}}, nil
}

// --- CreateSlackChannelExecutor ---

// CreateSlackChannelExecutor implements the "create_slack_channel" action.
type CreateSlackChannelExecutor struct {
	sink NotificationSink
}

// NewCreateSlackChannelExecutor creates a create_slack_channel executor.
func NewCreateSlackChannelExecutor(sink NotificationSink) *CreateSlackChannelExecutor {
	return &CreateSlackChannelExecutor{sink: sink}
}

func (e *CreateSlackChannelExecutor) Name() schema.ActionType {
	return schema.ActionCreateSlackChannel
}

func (e *CreateSlackChannelExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Create a chat channel and invite the given members.",
		InputSchema: json.RawMessage(createSlackChannelInputSchema),
	}
}

func (e *CreateSlackChannelExecutor) Validate(config map[string]any) error {
	if stringParam(config, "name", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "create_slack_channel: missing required param 'name'")
	}
	return nil
}

func (e *CreateSlackChannelExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	var members []string
	if raw, ok := input.Config["members"].([]any); ok {
		for _, m := range raw {
			if s, ok := m.(string); ok {
				members = append(members, s)
			}
		}
	}

	name := stringParam(input.Config, "name", "")
	channelID, err := e.sink.CreateChannel(ctx, input.OrgID, name, members)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDelivery, "create_slack_channel: %s", err.Error()).WithCause(err)
	}

	return &Output{Data: map[string]any{"channel_id": channelID, "name": name}}, nil
}
