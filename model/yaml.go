package model

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseYAML builds a model from the YAML representation of its definition.
//
// Unknown fields are rejected.
func ParseYAML(data []byte) (*Model, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Definition
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("unable to parse process model: %w", err)
	}

	return New(d)
}

// LoadYAMLFile builds a model from a YAML file.
func LoadYAMLFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseYAML(data)
}

// MarshalYAML returns the model's definition.
func (m *Model) MarshalYAML() (interface{}, error) {
	return m.Definition(), nil
}

// UnmarshalYAML builds the model from the YAML representation of a
// definition.
func (m *Model) UnmarshalYAML(value *yaml.Node) error {
	var d Definition
	if err := value.Decode(&d); err != nil {
		return err
	}

	x, err := New(d)
	if err != nil {
		return err
	}

	*m = *x

	return nil
}
