package format

import "gopkg.in/yaml.v3"

// yamlCodec exists for steps whose checkpointed result doubles as
// operator-facing config or review output.
type yamlCodec struct{}

func (yamlCodec) Name() string      { return "yaml" }
func (yamlCodec) Extension() string { return ".yaml" }

func (yamlCodec) Encode(value any) ([]byte, error) {
	return yaml.Marshal(value)
}

func (yamlCodec) Decode(data []byte) (any, error) {
	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
