package model

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/procman/procman/persistence"
)

// Model is a validated process model.
//
// A model is immutable once constructed, other than the handle assigned to it
// when it is stored.
type Model struct {
	handle persistence.Handle

	uuid  uuid.UUID
	name  string
	owner string
	nodes []Node
	byID  map[string]Node

	starts   []*StartNode
	endCount int
}

// New returns a model built from d.
//
// It returns a *ValidationError if d does not describe a well-formed model. If
// d has no UUID, a random one is generated.
func New(d Definition) (*Model, error) {
	m := &Model{
		uuid:  d.UUID,
		name:  d.Name,
		owner: d.Owner,
		byID:  map[string]Node{},
	}

	if m.uuid == uuid.Nil {
		m.uuid = uuid.New()
	}

	if err := m.build(d.Nodes); err != nil {
		return nil, err
	}

	return m, nil
}

// MustNew returns a model built from d, or panics if d is invalid.
func MustNew(d Definition) *Model {
	m, err := New(d)
	if err != nil {
		panic(err)
	}

	return m
}

// Handle returns the model's handle, or zero if it has not been stored.
func (m *Model) Handle() persistence.Handle {
	return m.handle
}

// SetHandle sets the model's handle.
func (m *Model) SetHandle(h persistence.Handle) {
	m.handle = h
}

// UUID returns the model's UUID, which is stable across versions of the
// model.
func (m *Model) UUID() uuid.UUID {
	return m.uuid
}

// Name returns the human-readable name of the model.
func (m *Model) Name() string {
	return m.name
}

// Owner returns the name of the principal that owns the model.
func (m *Model) Owner() string {
	return m.owner
}

// WithOwner returns a copy of the model owned by the given principal.
func (m *Model) WithOwner(owner string) *Model {
	c := *m
	c.owner = owner
	return &c
}

// Nodes returns the model's nodes in definition order.
func (m *Model) Nodes() []Node {
	return m.nodes
}

// Node returns the node with the given ID.
func (m *Model) Node(id string) (Node, bool) {
	n, ok := m.byID[id]
	return n, ok
}

// StartNodes returns the model's start nodes in definition order.
func (m *Model) StartNodes() []*StartNode {
	return m.starts
}

// EndNodeCount returns the number of end nodes in the model.
func (m *Model) EndNodeCount() int {
	return m.endCount
}

// Definition returns the serializable representation of the model.
func (m *Model) Definition() Definition {
	d := Definition{
		UUID:  m.uuid,
		Name:  m.name,
		Owner: m.owner,
	}

	for _, n := range m.nodes {
		d.Nodes = append(d.Nodes, n.definition())
	}

	return d
}

// MarshalJSON returns the JSON representation of the model's definition.
func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Definition())
}

// UnmarshalJSON builds the model from the JSON representation of a
// definition.
func (m *Model) UnmarshalJSON(data []byte) error {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}

	x, err := New(d)
	if err != nil {
		return err
	}

	*m = *x

	return nil
}
