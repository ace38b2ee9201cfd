package security

import (
	"fmt"
)

// Permission is a capability that a principal may hold.
type Permission string

const (
	// AddModel permits adding process models.
	AddModel Permission = "model.add"

	// ReadModel permits reading a process model.
	ReadModel Permission = "model.read"

	// UpdateModel permits replacing a process model.
	UpdateModel Permission = "model.update"

	// RemoveModel permits removing a process model.
	RemoveModel Permission = "model.remove"

	// StartInstance permits starting an instance of a process model.
	StartInstance Permission = "instance.start"

	// ReadInstance permits reading a process instance and its node instances.
	ReadInstance Permission = "instance.read"

	// CancelInstance permits cancelling a process instance.
	CancelInstance Permission = "instance.cancel"

	// CancelAll permits cancelling every process instance at once.
	CancelAll Permission = "instance.cancel-all"

	// TickleInstance permits re-driving a process instance.
	TickleInstance Permission = "instance.tickle"

	// UpdateTask permits changing the state of a node instance.
	UpdateTask Permission = "task.update"
)

// Principal is the identity on whose behalf an engine operation is performed.
type Principal struct {
	Name  string
	Roles []string
}

// HasRole returns true if p has the given role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}

	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}

	return false
}

func (p *Principal) String() string {
	if p == nil {
		return "<anonymous>"
	}

	return p.Name
}

// Provider decides whether a principal holds a permission.
//
// owner is the name of the principal that owns the resource being accessed,
// or empty if the permission does not relate to an existing resource.
type Provider interface {
	// EnsurePermission returns a *PermissionDeniedError if p does not hold
	// perm.
	EnsurePermission(perm Permission, p *Principal, owner string) error

	// HasPermission returns true if p holds perm.
	HasPermission(perm Permission, p *Principal, owner string) bool
}

// PermissionDeniedError indicates that a principal does not hold a required
// permission.
type PermissionDeniedError struct {
	Principal  string
	Permission Permission
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf(
		"permission denied: %s does not hold the %s permission",
		e.Principal,
		e.Permission,
	)
}

// PermitAll is a Provider that grants every permission to every principal.
var PermitAll Provider = permitAll{}

type permitAll struct{}

func (permitAll) EnsurePermission(Permission, *Principal, string) error { return nil }
func (permitAll) HasPermission(Permission, *Principal, string) bool     { return true }
