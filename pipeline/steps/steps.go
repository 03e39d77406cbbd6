// Package steps provides reference StepFactory/StepInstance implementations
// over three LLM provider SDKs, each a home for a dependency the core
// packages never need to import directly. Callers are free to ignore this
// package entirely and supply their own step implementations instead.
package steps

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// contentHash is the content-addressed cache key every step in this
// package gates reuse on: a prompt step hashes its template, an embedding
// step hashes its model name, and the step is reusable across runs for as
// long as that hash is unchanged, the same way the original's
// function-source hash gated reuse of a pure function step.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// stringConfig reads a required string field out of a step's config map.
func stringConfig(config map[string]any, key string) (string, error) {
	v, ok := config[key]
	if !ok {
		return "", fmt.Errorf("steps: missing required config key %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("steps: config key %q must be a string, got %T", key, v)
	}
	return s, nil
}

// stepMetadata is what CheckpointMetadata records for every step in this
// package.
type stepMetadata struct {
	ContentHash string `json:"content_hash"`
}

func metadataHashMatches(metadata any, hash string) bool {
	m, ok := metadata.(map[string]any)
	if !ok {
		return false
	}
	stored, ok := m["content_hash"].(string)
	return ok && stored == hash
}
