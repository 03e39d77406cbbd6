package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

// AnthropicPromptFactory calls the Anthropic Messages API with a fixed
// prompt template, substituting "{{input}}" with the value of its "input"
// label. Results are cached across runs as long as the template's content
// hash is unchanged.
type AnthropicPromptFactory struct {
	Type string
}

func (f *AnthropicPromptFactory) TypeID() string {
	if f.Type != "" {
		return f.Type
	}
	return "steps.anthropic-prompt"
}

func (f *AnthropicPromptFactory) InputLabels() []string                             { return []string{"input"} }
func (f *AnthropicPromptFactory) AcceptsWildcard() bool                             { return false }
func (f *AnthropicPromptFactory) DataFormat() string                                { return "json" }
func (f *AnthropicPromptFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }

func (f *AnthropicPromptFactory) NewInstance(config map[string]any, logger *slog.Logger) (pipeline.StepInstance, error) {
	apiKey, err := stringConfig(config, "api_key")
	if err != nil {
		return nil, err
	}
	model, err := stringConfig(config, "model")
	if err != nil {
		model = "claude-sonnet-4-5-20250929"
	}
	template, err := stringConfig(config, "prompt_template")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &anthropicPromptInstance{apiKey: apiKey, model: model, template: template, logger: logger}, nil
}

type anthropicPromptInstance struct {
	apiKey, model, template string
	logger                  *slog.Logger
}

func (i *anthropicPromptInstance) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	input := fmt.Sprintf("%v", inputs["input"])
	prompt := strings.ReplaceAll(i.template, "{{input}}", input)

	client := anthropicsdk.NewClient(option.WithAPIKey(i.apiKey))
	resp, err := client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(i.model),
		MaxTokens: 4096,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("steps: anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			text += b.Text
		}
	}
	i.logger.Debug("anthropic prompt step completed", "model", i.model, "response_len", len(text))
	return map[string]any{"text": text}, nil
}

func (i *anthropicPromptInstance) CheckpointMetadata() (any, error) {
	return stepMetadata{ContentHash: contentHash(i.template)}, nil
}

func (i *anthropicPromptInstance) CheckpointIsValid(metadata any) bool {
	return metadataHashMatches(metadata, contentHash(i.template))
}
