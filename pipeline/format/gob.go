package format

import (
	"bytes"
	"encoding/gob"
)

// gobCodec is for steps whose result is a Go-native value not worth making
// human-readable, e.g. embedding vectors (pipeline/steps.GoogleEmbeddingFactory).
//
// gob requires every concrete type that might flow through the any-typed
// Encode/Decode pair to be registered up front.
func init() {
	gob.Register([]float64{})
	gob.Register([]float32{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

type gobCodec struct{}

func (gobCodec) Name() string      { return "gob" }
func (gobCodec) Extension() string { return ".gob" }

func (gobCodec) Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Decode(data []byte) (any, error) {
	var value any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
