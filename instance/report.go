package instance

import (
	"context"

	"github.com/procman/procman/persistence"
)

// Report is a snapshot of an instance and all of its node instances, used
// for status reporting.
type Report struct {
	Handle   persistence.Handle `json:"handle"`
	Instance *ProcessInstance   `json:"instance"`
	Nodes    []NodeReport       `json:"nodes,omitempty"`
}

// NodeReport is the part of a Report that describes a single node instance.
type NodeReport struct {
	Handle persistence.Handle `json:"handle"`
	*NodeInstance
}

// NewReport builds a report of inst, loading its node instances from nodes.
func NewReport(
	ctx context.Context,
	tx persistence.Transaction,
	nodes persistence.HandleMap[*NodeInstance],
	inst *ProcessInstance,
) (*Report, error) {
	r := &Report{
		Handle:   inst.Handle(),
		Instance: inst.Clone(),
	}

	for _, h := range inst.NodeInstances() {
		n, ok, err := nodes.Get(ctx, tx, h)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, NotFoundError{"node instance", h}
		}

		r.Nodes = append(r.Nodes, NodeReport{h, n})
	}

	return r, nil
}
