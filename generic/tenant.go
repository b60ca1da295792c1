package generic

import "context"

// =============================================================================
// TENANT - Who a unit of work is confined to
// =============================================================================

// Tenant is the organisation scope of one unit of work. A platform
// administrator bypasses the organisation predicate and may leave
// OrganisationID empty.
type Tenant struct {
	OrganisationID OrganisationID
	PlatformAdmin  bool
}

// ForOrganisation returns the ordinary, confined tenant for org.
func ForOrganisation(org OrganisationID) Tenant {
	return Tenant{OrganisationID: org}
}

// AdminTenant returns a tenant that bypasses organisation confinement.
func AdminTenant() Tenant {
	return Tenant{PlatformAdmin: true}
}

// Validate rejects an unconfined tenant that is not a platform administrator.
func (t Tenant) Validate() error {
	if !t.PlatformAdmin && t.OrganisationID == "" {
		return Invalid("tenant", "organisation id is required")
	}
	return nil
}

// Allows reports whether rows of org are visible to this tenant.
func (t Tenant) Allows(org OrganisationID) bool {
	return t.PlatformAdmin || t.OrganisationID == org
}

func (t Tenant) String() string {
	if t.PlatformAdmin {
		return "platform-admin(" + string(t.OrganisationID) + ")"
	}
	return string(t.OrganisationID)
}

// =============================================================================
// ACTIVE SCOPE - The transaction a unit of work is running in
// =============================================================================

// The context carries the open transaction of the unit of work that is
// currently running, so that a nested WithTenant call can join it instead of
// opening a second one. It is set only by store implementations.

type scopeKey struct{}

type activeScope struct {
	tenant Tenant
	handle any
}

// WithScope returns a context carrying the open transaction handle for tenant.
func WithScope(ctx context.Context, tenant Tenant, handle any) context.Context {
	return context.WithValue(ctx, scopeKey{}, activeScope{tenant: tenant, handle: handle})
}

// ScopeFrom returns the transaction handle and tenant of the enclosing unit
// of work, if any.
func ScopeFrom(ctx context.Context) (handle any, tenant Tenant, ok bool) {
	s, ok := ctx.Value(scopeKey{}).(activeScope)
	if !ok {
		return nil, Tenant{}, false
	}
	return s.handle, s.tenant, true
}

// JoinScope returns the enclosing transaction handle when ctx already runs
// inside a unit of work. It fails with ErrTenantMismatch when the enclosing
// unit of work was opened for a different tenant.
func JoinScope(ctx context.Context, tenant Tenant) (handle any, joined bool, err error) {
	h, active, ok := ScopeFrom(ctx)
	if !ok {
		return nil, false, nil
	}
	if active != tenant {
		return nil, false, ErrTenantMismatch
	}
	return h, true, nil
}
