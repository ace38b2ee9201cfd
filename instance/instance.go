package instance

import (
	"github.com/google/uuid"
	"github.com/procman/procman/payload"
	"github.com/procman/procman/persistence"
)

// ProcessInstance is the execution of a process model.
type ProcessInstance struct {
	handle persistence.Handle

	// UUID identifies the instance across start requests. Two requests to
	// start an instance with the same UUID produce a single instance.
	UUID uuid.UUID `json:"uuid"`

	// Model is the handle of the model being executed.
	Model persistence.Handle `json:"model"`

	Owner string `json:"owner,omitempty"`
	Name  string `json:"name,omitempty"`
	State State  `json:"state"`

	// Active, Finished and Results partition the instance's node instances.
	// Active holds the in-flight heads of each branch, Finished holds
	// non-end node instances that have stopped, and Results holds completed
	// end node instances.
	Active   persistence.HandleSet `json:"active,omitempty"`
	Finished persistence.HandleSet `json:"finished,omitempty"`
	Results  persistence.HandleSet `json:"results,omitempty"`

	// Joins maps the ID of each join node that has some, but not yet
	// enough, completed predecessors to its pending node instance.
	Joins map[string]persistence.Handle `json:"joins,omitempty"`

	// FiredJoins maps the ID of each join node that has fired to its node
	// instance, so that late arrivals are recorded against it.
	FiredJoins map[string]persistence.Handle `json:"fired_joins,omitempty"`

	Inputs  []payload.Fragment `json:"inputs,omitempty"`
	Outputs []payload.Fragment `json:"outputs,omitempty"`
}

// Handle returns the instance's handle.
func (i *ProcessInstance) Handle() persistence.Handle {
	return i.handle
}

// SetHandle sets the instance's handle.
func (i *ProcessInstance) SetHandle(h persistence.Handle) {
	i.handle = h
}

// Clone returns a deep copy of the instance.
func (i *ProcessInstance) Clone() *ProcessInstance {
	c := *i
	c.Active = i.Active.Clone()
	c.Finished = i.Finished.Clone()
	c.Results = i.Results.Clone()
	c.Joins = cloneMap(i.Joins)
	c.FiredJoins = cloneMap(i.FiredJoins)
	c.Inputs = payload.Clone(i.Inputs)
	c.Outputs = payload.Clone(i.Outputs)
	return &c
}

// NodeInstances returns the handles of all of the instance's node instances,
// in ascending order.
func (i *ProcessInstance) NodeInstances() persistence.HandleSet {
	all := i.Active.Clone()

	for _, h := range i.Finished {
		all.Add(h)
	}

	for _, h := range i.Results {
		all.Add(h)
	}

	return all
}

func cloneMap(m map[string]persistence.Handle) map[string]persistence.Handle {
	if m == nil {
		return nil
	}

	c := make(map[string]persistence.Handle, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}
