package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

// GoogleEmbeddingFactory calls Google's Gemini embedding endpoint on its
// "text" input label. Unlike the prompt steps, its cache key is the model
// name rather than a prompt template: embedding is a pure function of
// (model, input text), and the input text's own identity is already what
// the cross-run matcher keys reuse on.
type GoogleEmbeddingFactory struct {
	Type string
}

func (f *GoogleEmbeddingFactory) TypeID() string {
	if f.Type != "" {
		return f.Type
	}
	return "steps.google-embedding"
}

func (f *GoogleEmbeddingFactory) InputLabels() []string                             { return []string{"text"} }
func (f *GoogleEmbeddingFactory) AcceptsWildcard() bool                             { return false }
func (f *GoogleEmbeddingFactory) DataFormat() string                                { return "gob" }
func (f *GoogleEmbeddingFactory) AcceptsUpstream(pipeline.StepFactory, string) bool { return true }

func (f *GoogleEmbeddingFactory) NewInstance(config map[string]any, logger *slog.Logger) (pipeline.StepInstance, error) {
	apiKey, err := stringConfig(config, "api_key")
	if err != nil {
		return nil, err
	}
	model, err := stringConfig(config, "model")
	if err != nil {
		model = "embedding-001"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &googleEmbeddingInstance{apiKey: apiKey, model: model, logger: logger}, nil
}

type googleEmbeddingInstance struct {
	apiKey, model string
	logger        *slog.Logger
}

func (i *googleEmbeddingInstance) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	text := fmt.Sprintf("%v", inputs["text"])

	client, err := genai.NewClient(ctx, option.WithAPIKey(i.apiKey))
	if err != nil {
		return nil, fmt.Errorf("steps: genai new client: %w", err)
	}
	defer client.Close()

	embModel := client.EmbeddingModel(i.model)
	resp, err := embModel.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("steps: genai embed content: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("steps: genai returned no embedding")
	}

	i.logger.Debug("google embedding step completed", "model", i.model, "dims", len(resp.Embedding.Values))
	return resp.Embedding.Values, nil
}

func (i *googleEmbeddingInstance) CheckpointMetadata() (any, error) {
	return stepMetadata{ContentHash: contentHash(i.model)}, nil
}

func (i *googleEmbeddingInstance) CheckpointIsValid(metadata any) bool {
	return metadataHashMatches(metadata, contentHash(i.model))
}
