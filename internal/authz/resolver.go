package authz

import (
	"fmt"
	"sync/atomic"

	"treasury-service/internal/apperrors"
)

// Denial reasons carried in apperrors.Error.Code.
const (
	ReasonPermissionDenied = "permission_denied"
	ReasonOutOfScope       = "out_of_scope"
	ReasonScopeEmpty       = "scope_empty"
)

// Resolver answers authorization questions against a hot-swappable Catalog.
// It holds no other state and is safe for concurrent use.
type Resolver struct {
	catalog atomic.Pointer[Catalog]
}

func NewResolver(catalog *Catalog) *Resolver {
	r := &Resolver{}
	r.catalog.Store(catalog)
	return r
}

// Catalog returns the catalog currently in effect.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog.Load()
}

// Reload swaps in a new catalog. Catalogs older than the current one are refused.
func (r *Resolver) Reload(next *Catalog) error {
	for {
		cur := r.catalog.Load()
		if cur != nil && next.Version() < cur.Version() {
			return fmt.Errorf("catalog version %d is older than active version %d", next.Version(), cur.Version())
		}
		if r.catalog.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Level returns the hierarchy level of role. It must never be used to grant access.
func (r *Resolver) Level(role Role) int {
	return r.catalog.Load().Level(role)
}

// Authorize decides whether p may perform action on resource. A zero target
// is a listing: it succeeds with a possibly empty Filter when the role holds
// the permission. A non-zero target must fall inside the granted scope.
func (r *Resolver) Authorize(p *Principal, res Resource, act Action, target Target) (Filter, error) {
	if p == nil || p.ID == "" {
		return Filter{}, apperrors.Authentication("a verified principal is required")
	}

	scope, ok := r.catalog.Load().Lookup(p.Role, res, act)
	if !ok {
		return Filter{}, apperrors.Authorization(ReasonPermissionDenied,
			fmt.Sprintf("role %s may not %s %s", p.Role, act, res))
	}

	filter := filterFor(p, scope)
	if target.IsZero() {
		return filter, nil
	}

	if filter.Empty() {
		return Filter{}, apperrors.Authorization(ReasonScopeEmpty,
			fmt.Sprintf("role %s has no %s scope assigned for %s", p.Role, scope, res))
	}
	if !filter.Covers(target) {
		return Filter{}, apperrors.Authorization(ReasonOutOfScope,
			fmt.Sprintf("%s %s is outside the %s scope of role %s", res, act, scope, p.Role))
	}
	return filter, nil
}

// Can is Authorize for callers that only need a yes/no answer.
func (r *Resolver) Can(p *Principal, res Resource, act Action, target Target) bool {
	_, err := r.Authorize(p, res, act, target)
	return err == nil
}
