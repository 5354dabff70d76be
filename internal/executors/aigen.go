package executors

import (
	"context"
	"encoding/json"

	"github.com/arclight-io/conveyor/pkg/schema"
)

const aiGenerateInputSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string"},
    "output_field": {"type": "string", "default": "text"},
    "output_key": {"type": "string"},
    "options": {"type": "object"}
  },
  "required": ["prompt"]
}`

// AIGenerateExecutor implements the "ai_generate" action: a prompt (usually
// template-resolved from run context) goes to the configured Generator and
// the produced text lands in the step output under output_field.
type AIGenerateExecutor struct {
	gen Generator
}

// NewAIGenerateExecutor creates an ai_generate executor.
func NewAIGenerateExecutor(gen Generator) *AIGenerateExecutor {
	return &AIGenerateExecutor{gen: gen}
}

func (e *AIGenerateExecutor) Name() schema.ActionType { return schema.ActionAIGenerate }

func (e *AIGenerateExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Generate text from a resolved prompt via the configured model endpoint.",
		InputSchema: json.RawMessage(aiGenerateInputSchema),
	}
}

func (e *AIGenerateExecutor) Validate(config map[string]any) error {
	if stringParam(config, "prompt", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "ai_generate: missing required param 'prompt'")
	}
	return nil
}

func (e *AIGenerateExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	prompt := stringParam(input.Config, "prompt", "")
	opts := mapParam(input.Config, "options")

	text, err := e.gen.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "ai_generate: %s", err.Error()).WithCause(err)
	}

	// output_field names where the text lands; output_key is accepted
	// as a legacy alias.
	key := stringParam(input.Config, "output_field", "")
	if key == "" {
		key = stringParam(input.Config, "output_key", "text")
	}
	return &Output{Data: map[string]any{key: text}}, nil
}
