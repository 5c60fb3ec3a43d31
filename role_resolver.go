package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// RoleResolver caches the effective role set of one bound subject, the
// signed-in identity. Fetches for other users never touch the cache.
type RoleResolver struct {
	store   RoleStore
	logger  Logger
	metrics *Metrics

	mu      sync.RWMutex
	subject uuid.UUID
	epoch   uint64
	roles   RoleSet
	grants  []RoleGrant
	loaded  bool
}

// RoleResolverOption customizes a RoleResolver.
type RoleResolverOption func(*RoleResolver)

func WithRoleResolverLogger(logger Logger) RoleResolverOption {
	return func(r *RoleResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRoleResolverMetrics(m *Metrics) RoleResolverOption {
	return func(r *RoleResolver) {
		r.metrics = m
	}
}

func NewRoleResolver(store RoleStore, opts ...RoleResolverOption) *RoleResolver {
	r := &RoleResolver{
		store:  store,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Bind switches the cached subject and empties the cache. Any fetch started
// before Bind is discarded when it resolves.
func (r *RoleResolver) Bind(subject uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subject = subject
	r.epoch++
	r.roles = 0
	r.grants = nil
	r.loaded = false
}

// Clear unbinds the subject; used on sign-out.
func (r *RoleResolver) Clear() {
	r.Bind(uuid.Nil)
}

// Subject returns the bound identity id.
func (r *RoleResolver) Subject() uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subject
}

// FetchRoles queries the store for userID. When userID is the bound subject
// the cached set is replaced (last fetch wins). A store failure yields the
// empty set and is logged, never returned.
func (r *RoleResolver) FetchRoles(ctx context.Context, userID uuid.UUID) RoleSet {
	return EffectiveRoles(r.fetch(ctx, userID))
}

// FetchGrants is FetchRoles returning the raw rows, provisional ones included.
func (r *RoleResolver) FetchGrants(ctx context.Context, userID uuid.UUID) []RoleGrant {
	return r.fetch(ctx, userID)
}

func (r *RoleResolver) fetch(ctx context.Context, userID uuid.UUID) []RoleGrant {
	if userID == uuid.Nil {
		return nil
	}

	r.mu.RLock()
	epoch := r.epoch
	bound := r.subject == userID
	r.mu.RUnlock()

	grants, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		r.logger.Error("role fetch failed, treating as no roles", "user_id", userID, "error", err)
		r.metrics.roleFetch("error")
		grants = nil
	} else {
		r.metrics.roleFetch("ok")
	}

	if !bound {
		return grants
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch || r.subject != userID {
		r.logger.Debug("discarding role fetch for superseded session", "user_id", userID)
		r.metrics.roleFetch("discarded")
		return grants
	}
	r.grants = grants
	r.roles = EffectiveRoles(grants)
	r.loaded = true
	return grants
}

// Grants returns the grants backing the cached set.
func (r *RoleResolver) Grants() []RoleGrant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoleGrant, len(r.grants))
	copy(out, r.grants)
	return out
}

func (r *RoleResolver) Roles() RoleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles
}

// Loaded reports whether a fetch for the bound subject completed, including
// a failed one.
func (r *RoleResolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func (r *RoleResolver) HasRole(role Role) bool {
	return r.Roles().Has(role)
}

func (r *RoleResolver) HasAnyRole(roles ...Role) bool {
	return r.Roles().HasAny(roles...)
}

func (r *RoleResolver) HasAllRoles(roles ...Role) bool {
	return r.Roles().HasAll(roles...)
}

func (r *RoleResolver) CanAccessStationData() bool {
	return CanAccessStationData(r.Roles())
}

func (r *RoleResolver) CanManageUsers() bool {
	return CanManageUsers(r.Roles())
}

func (r *RoleResolver) CanModifyAllReports() bool {
	return CanModifyAllReports(r.Roles())
}

func (r *RoleResolver) CanModifyOwnReportsOnly() bool {
	return CanModifyOwnReportsOnly(r.Roles())
}
