package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// GuardState is the discriminated result of a route guard evaluation.
type GuardState string

const (
	GuardLoading          GuardState = "loading"
	GuardRedirectToSignIn GuardState = "redirect_to_sign_in"
	GuardPendingApproval  GuardState = "pending_approval"
	GuardAccessDenied     GuardState = "access_denied"
	GuardAuthorized       GuardState = "authorized"
)

// MatchMode selects how RequiredRoles are combined.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// RouteRequirement is the data declared for a protected route. No
// RequiredRoles means any authenticated user with at least one role.
type RouteRequirement struct {
	Path          string    `json:"path" koanf:"path"`
	RequiredRoles []Role    `json:"required_roles,omitempty" koanf:"required_roles"`
	Match         MatchMode `json:"match,omitempty" koanf:"match"`
}

// GuardInput is the read-only view of session state a guard evaluates.
type GuardInput struct {
	Initialized   bool
	Authenticated bool
	RolesLoaded   bool
	Roles         RoleSet
}

// GuardDecision is what a transport renders against.
type GuardDecision struct {
	State       GuardState       `json:"state"`
	Requirement RouteRequirement `json:"requirement"`
	Roles       []string         `json:"roles,omitempty"`
}

// Evaluate maps the input onto exactly one GuardState. An empty role set
// always yields GuardPendingApproval, whatever the route requires.
func Evaluate(in GuardInput, req RouteRequirement) GuardState {
	switch {
	case !in.Initialized:
		return GuardLoading
	case !in.Authenticated:
		return GuardRedirectToSignIn
	case !in.RolesLoaded:
		return GuardLoading
	case in.Roles.IsEmpty():
		return GuardPendingApproval
	case !satisfies(in.Roles, req):
		return GuardAccessDenied
	default:
		return GuardAuthorized
	}
}

func satisfies(roles RoleSet, req RouteRequirement) bool {
	if len(req.RequiredRoles) == 0 {
		return true
	}
	if req.Match == MatchAll {
		return roles.HasAll(req.RequiredRoles...)
	}
	return roles.HasAny(req.RequiredRoles...)
}

// GuardSource is the slice of SessionManager a RouteGuard depends on.
type GuardSource interface {
	Snapshot() GuardInput
	RefreshRoles(ctx context.Context) error
}

// RouteGuard evaluates route requirements against a GuardSource.
type RouteGuard struct {
	source  GuardSource
	logger  Logger
	metrics *Metrics
}

// RouteGuardOption customizes a RouteGuard.
type RouteGuardOption func(*RouteGuard)

func WithRouteGuardLogger(logger Logger) RouteGuardOption {
	return func(g *RouteGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithRouteGuardMetrics(m *Metrics) RouteGuardOption {
	return func(g *RouteGuard) {
		g.metrics = m
	}
}

func NewRouteGuard(source GuardSource, opts ...RouteGuardOption) *RouteGuard {
	g := &RouteGuard{
		source: source,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Check evaluates the current snapshot without side effects.
func (g *RouteGuard) Check(req RouteRequirement) GuardDecision {
	return g.decide(g.source.Snapshot(), req)
}

// Mount evaluates req the way a freshly mounted view does: when the user is
// authenticated but the cached roles are empty or not loaded yet, it forces
// a role refetch first so a grant made while the view was open is picked up.
func (g *RouteGuard) Mount(ctx context.Context, req RouteRequirement) GuardDecision {
	in := g.source.Snapshot()
	if in.Initialized && in.Authenticated && (!in.RolesLoaded || in.Roles.IsEmpty()) {
		if err := g.source.RefreshRoles(ctx); err != nil {
			g.logger.Warn("route guard role refresh failed", "path", req.Path, "error", err)
		}
		in = g.source.Snapshot()
	}
	return g.decide(in, req)
}

func (g *RouteGuard) decide(in GuardInput, req RouteRequirement) GuardDecision {
	state := Evaluate(in, req)
	g.metrics.guardDecision(state)
	return GuardDecision{
		State:       state,
		Requirement: req,
		Roles:       in.Roles.Strings(),
	}
}

// RouteTable resolves a request path to its declared requirement.
type RouteTable struct {
	mu     sync.RWMutex
	routes []RouteRequirement
}

func NewRouteTable(routes ...RouteRequirement) *RouteTable {
	t := &RouteTable{}
	for _, r := range routes {
		t.Add(r)
	}
	return t
}

// Add registers or replaces the requirement for r.Path.
func (t *RouteTable) Add(r RouteRequirement) {
	r.Path = normalizeRoutePath(r.Path)
	if r.Match == "" {
		r.Match = MatchAny
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.routes {
		if t.routes[i].Path == r.Path {
			t.routes[i] = r
			return
		}
	}
	t.routes = append(t.routes, r)
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].Path) > len(t.routes[j].Path)
	})
}

// Lookup returns the most specific declared requirement for path. Segment
// prefixes match, so "/admin" covers "/admin/users". Undeclared paths get
// the default requirement.
func (t *RouteTable) Lookup(path string) RouteRequirement {
	path = normalizeRoutePath(path)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if r.Path == path || r.Path == "/" || strings.HasPrefix(path, r.Path+"/") {
			out := r
			out.Path = path
			return out
		}
	}
	return RouteRequirement{Path: path, Match: MatchAny}
}

func (t *RouteTable) Routes() []RouteRequirement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RouteRequirement, len(t.routes))
	copy(out, t.routes)
	return out
}

func normalizeRoutePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
