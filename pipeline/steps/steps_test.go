package steps

import "testing"

func TestContentHashIsStableAndSensitiveToContent(t *testing.T) {
	a := contentHash("summarize: {{input}}")
	b := contentHash("summarize: {{input}}")
	c := contentHash("translate: {{input}}")

	if a != b {
		t.Fatalf("expected identical content to hash identically")
	}
	if a == c {
		t.Fatalf("expected different content to hash differently")
	}
}

func TestMetadataHashMatches(t *testing.T) {
	hash := contentHash("prompt")

	if !metadataHashMatches(map[string]any{"content_hash": hash}, hash) {
		t.Fatalf("expected a matching hash to report valid")
	}
	if metadataHashMatches(map[string]any{"content_hash": "stale"}, hash) {
		t.Fatalf("expected a stale hash to report invalid")
	}
	if metadataHashMatches(nil, hash) {
		t.Fatalf("expected nil metadata (no prior checkpoint) to report invalid")
	}
	if metadataHashMatches("not-a-map", hash) {
		t.Fatalf("expected a malformed metadata shape to report invalid rather than panic")
	}
}

func TestStringConfig(t *testing.T) {
	cfg := map[string]any{"model": "gpt-4o", "max_tokens": 4096}

	got, err := stringConfig(cfg, "model")
	if err != nil || got != "gpt-4o" {
		t.Fatalf("expected model=gpt-4o, got %q err=%v", got, err)
	}
	if _, err := stringConfig(cfg, "missing"); err == nil {
		t.Fatalf("expected an error for a missing key")
	}
	if _, err := stringConfig(cfg, "max_tokens"); err == nil {
		t.Fatalf("expected an error for a non-string value")
	}
}

func TestAnthropicPromptFactoryRejectsMissingConfig(t *testing.T) {
	f := &AnthropicPromptFactory{}
	if _, err := f.NewInstance(map[string]any{}, nil); err == nil {
		t.Fatalf("expected an error when api_key/prompt_template are missing")
	}
}

func TestOpenAIPromptFactoryDefaultsModel(t *testing.T) {
	f := &OpenAIPromptFactory{}
	inst, err := f.NewInstance(map[string]any{"api_key": "k", "prompt_template": "t"}, nil)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	oi, ok := inst.(*openAIPromptInstance)
	if !ok || oi.model != "gpt-4o" {
		t.Fatalf("expected default model gpt-4o, got %+v", inst)
	}
}

func TestGoogleEmbeddingFactoryTypeIDDefaultsAndOverrides(t *testing.T) {
	f := &GoogleEmbeddingFactory{}
	if f.TypeID() != "steps.google-embedding" {
		t.Fatalf("unexpected default TypeID: %s", f.TypeID())
	}
	f2 := &GoogleEmbeddingFactory{Type: "custom"}
	if f2.TypeID() != "custom" {
		t.Fatalf("expected override to take effect, got %s", f2.TypeID())
	}
}
