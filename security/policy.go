package security

// Policy is a Provider that grants permissions based on resource ownership
// and role membership.
type Policy struct {
	// AdminRole, if non-empty, is a role that holds every permission.
	AdminRole string

	// OwnerPermissions are the permissions a principal holds over the
	// resources it owns.
	OwnerPermissions []Permission

	// Grants maps each permission to the roles that hold it, regardless of
	// ownership.
	Grants map[Permission][]string
}

// DefaultOwnerPermissions is the set of permissions a principal typically
// holds over its own resources.
var DefaultOwnerPermissions = []Permission{
	ReadModel,
	UpdateModel,
	RemoveModel,
	StartInstance,
	ReadInstance,
	CancelInstance,
	TickleInstance,
	UpdateTask,
}

// EnsurePermission returns a *PermissionDeniedError if p does not hold perm.
func (pol *Policy) EnsurePermission(perm Permission, p *Principal, owner string) error {
	if pol.HasPermission(perm, p, owner) {
		return nil
	}

	return &PermissionDeniedError{
		Principal:  p.String(),
		Permission: perm,
	}
}

// HasPermission returns true if p holds perm.
func (pol *Policy) HasPermission(perm Permission, p *Principal, owner string) bool {
	if p == nil {
		return false
	}

	if pol.AdminRole != "" && p.HasRole(pol.AdminRole) {
		return true
	}

	if owner != "" && owner == p.Name {
		for _, x := range pol.OwnerPermissions {
			if x == perm {
				return true
			}
		}
	}

	for _, r := range pol.Grants[perm] {
		if p.HasRole(r) {
			return true
		}
	}

	return false
}
