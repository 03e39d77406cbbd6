package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

// OpenAIPromptFactory is OpenAI's counterpart to AnthropicPromptFactory:
// same fixed-template-plus-substitution shape, same content-hash-based
// checkpoint validity, different wire client.
type OpenAIPromptFactory struct {
	Type string
}

func (f *OpenAIPromptFactory) TypeID() string {
	if f.Type != "" {
		return f.Type
	}
	return "steps.openai-prompt"
}

func (f *OpenAIPromptFactory) InputLabels() []string                             { return []string{"input"} }
func (f *OpenAIPromptFactory) AcceptsWildcard() bool                             { return false }
func (f *OpenAIPromptFactory) DataFormat() string                                { return "json" }
func (f *OpenAIPromptFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }

func (f *OpenAIPromptFactory) NewInstance(config map[string]any, logger *slog.Logger) (pipeline.StepInstance, error) {
	apiKey, err := stringConfig(config, "api_key")
	if err != nil {
		return nil, err
	}
	model, err := stringConfig(config, "model")
	if err != nil {
		model = "gpt-4o"
	}
	template, err := stringConfig(config, "prompt_template")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &openAIPromptInstance{apiKey: apiKey, model: model, template: template, logger: logger}, nil
}

type openAIPromptInstance struct {
	apiKey, model, template string
	logger                  *slog.Logger
}

func (i *openAIPromptInstance) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	input := fmt.Sprintf("%v", inputs["input"])
	prompt := strings.ReplaceAll(i.template, "{{input}}", input)

	client := openaisdk.NewClient(option.WithAPIKey(i.apiKey))
	resp, err := client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(i.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("steps: openai chat.completions.new: %w", err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	i.logger.Debug("openai prompt step completed", "model", i.model, "response_len", len(text))
	return map[string]any{"text": text}, nil
}

func (i *openAIPromptInstance) CheckpointMetadata() (any, error) {
	return stepMetadata{ContentHash: contentHash(i.template)}, nil
}

func (i *openAIPromptInstance) CheckpointIsValid(metadata any) bool {
	return metadataHashMatches(metadata, contentHash(i.template))
}
