package model

import (
	"github.com/google/uuid"
)

// Definition is the serializable representation of a model.
//
// A definition is turned into a validated, immutable Model by New().
type Definition struct {
	UUID  uuid.UUID        `json:"uuid" yaml:"uuid"`
	Name  string           `json:"name" yaml:"name"`
	Owner string           `json:"owner,omitempty" yaml:"owner,omitempty"`
	Nodes []NodeDefinition `json:"nodes" yaml:"nodes"`
}

// NodeDefinition is the serializable representation of a single node.
type NodeDefinition struct {
	ID         string   `json:"id" yaml:"id"`
	Kind       Kind     `json:"kind" yaml:"kind"`
	Successors []string `json:"successors,omitempty" yaml:"successors,omitempty"`

	// Endpoint, Operation and AutoStart apply to activity nodes only.
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`
	AutoStart bool   `json:"auto_start,omitempty" yaml:"auto_start,omitempty"`

	// Min and Max apply to join nodes only. A zero value defaults to the
	// number of predecessors.
	Min int `json:"min,omitempty" yaml:"min,omitempty"`
	Max int `json:"max,omitempty" yaml:"max,omitempty"`
}
