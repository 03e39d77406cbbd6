// Package format provides the pluggable serialization codecs a step's
// DataFormat name resolves to. It has no dependency on package pipeline so
// that pipeline/store can depend on both without a cycle.
package format

import (
	"fmt"
	"sync"
)

// Codec encodes and decodes a single checkpointed value.
type Codec interface {
	// Name is the registry key steps reference via StepFactory.DataFormat.
	Name() string
	// Extension is the filename suffix this codec's files are stored under.
	Extension() string
	Encode(value any) ([]byte, error)
	// Decode populates a new value of the codec's own choosing and returns
	// it; callers type-assert the result to whatever their step expects.
	Decode(data []byte) (any, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Codec)
)

// Register adds codec to the global registry under codec.Name(). Intended
// to be called from package init functions.
func Register(codec Codec) {
	mu.Lock()
	defer mu.Unlock()
	registry[codec.Name()] = codec
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	mu.RLock()
	defer mu.RUnlock()
	codec, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("format: no codec registered for %q", name)
	}
	return codec, nil
}

func init() {
	Register(jsonCodec{})
	Register(gobCodec{})
	Register(yamlCodec{})
}
