package routeguard

import (
	"context"
	"strings"

	auth "github.com/evprediag/go-station-auth"
	"github.com/gofiber/fiber/v2"
)

const (
	DefaultSignInPath  = "/sign-in"
	DefaultContextKey  = "principal"
	DefaultCookieName  = "station_session"
	DefaultRetryAfter  = "2"
	headerBearerPrefix = "Bearer "
)

// Config for the route guard middleware.
type Config struct {
	// Filter skips the middleware when it returns true.
	Filter func(*fiber.Ctx) bool
	// Sessions turns the request token into a session. Required.
	Sessions auth.TokenSessionResolver
	// Roles is read on every request to build the caller's principal. Required.
	Roles auth.RoleStore
	// Routes resolves the requirement for the request path. A nil table
	// only requires an authenticated user with some role.
	Routes *auth.RouteTable
	// Ready reports whether the backing stores can answer; false renders
	// the loading state.
	Ready func() bool

	SignInPath string
	CookieName string
	ContextKey string
	RetryAfter string

	Logger  auth.Logger
	Metrics *auth.Metrics
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.SignInPath == "" {
		cfg.SignInPath = DefaultSignInPath
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.RetryAfter == "" {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if cfg.Routes == nil {
		cfg.Routes = auth.NewRouteTable()
	}
	if cfg.Logger == nil {
		cfg.Logger = auth.NopLogger()
	}
	if cfg.Sessions == nil {
		panic("routeguard: Config.Sessions is required")
	}
	if cfg.Roles == nil {
		panic("routeguard: Config.Roles is required")
	}
	return cfg
}

// requestSource is the per-request GuardSource: one token, one role fetch.
type requestSource struct {
	ready    bool
	session  *auth.Session
	resolver *auth.RoleResolver
}

func (s *requestSource) Snapshot() auth.GuardInput {
	in := auth.GuardInput{
		Initialized:   s.ready,
		Authenticated: s.session != nil,
	}
	if s.session != nil {
		in.RolesLoaded = s.resolver.Loaded()
		in.Roles = s.resolver.Roles()
	}
	return in
}

func (s *requestSource) RefreshRoles(ctx context.Context) error {
	if s.session == nil {
		return auth.ErrNotAuthenticated
	}
	s.resolver.FetchGrants(ctx, s.session.UserID())
	return nil
}

// New returns a fiber handler that evaluates the route table against the
// caller and renders every non-authorized GuardState. Roles are fetched on
// every request, so a grant made since the last request applies at once.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		ctx := c.UserContext()
		src := &requestSource{
			ready:    cfg.Ready == nil || cfg.Ready(),
			resolver: auth.NewRoleResolver(cfg.Roles, auth.WithRoleResolverLogger(cfg.Logger), auth.WithRoleResolverMetrics(cfg.Metrics)),
		}

		if src.ready {
			if token := extractToken(c, cfg.CookieName); token != "" {
				session, err := cfg.Sessions.SessionFromToken(ctx, token)
				if err != nil {
					cfg.Logger.Debug("route guard rejected session token", "path", c.Path(), "error", err)
				} else {
					src.session = session
					src.resolver.Bind(session.UserID())
				}
			}
		}

		guard := auth.NewRouteGuard(src, auth.WithRouteGuardLogger(cfg.Logger), auth.WithRouteGuardMetrics(cfg.Metrics))
		decision := guard.Mount(ctx, cfg.Routes.Lookup(c.Path()))

		switch decision.State {
		case auth.GuardAuthorized:
			principal := auth.NewPrincipal(src.session.Identity, src.resolver.Grants())
			c.Locals(cfg.ContextKey, principal)
			c.SetUserContext(auth.WithPrincipal(auth.WithSession(ctx, src.session), principal))
			return c.Next()
		case auth.GuardLoading:
			c.Set(fiber.HeaderRetryAfter, cfg.RetryAfter)
			return c.Status(fiber.StatusServiceUnavailable).JSON(decision)
		case auth.GuardRedirectToSignIn:
			if wantsJSON(c) {
				return c.Status(fiber.StatusUnauthorized).JSON(decision)
			}
			return c.Redirect(cfg.SignInPath, fiber.StatusFound)
		default:
			return c.Status(fiber.StatusForbidden).JSON(decision)
		}
	}
}

// PrincipalFrom returns the principal stored by the middleware.
func PrincipalFrom(c *fiber.Ctx, key ...string) (auth.Principal, bool) {
	k := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	p, ok := c.Locals(k).(auth.Principal)
	return p, ok && !p.IsZero()
}

func extractToken(c *fiber.Ctx, cookieName string) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, headerBearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, headerBearerPrefix))
	}
	return c.Cookies(cookieName)
}

// wantsJSON treats bearer callers and explicit JSON accepts as API clients.
func wantsJSON(c *fiber.Ctx) bool {
	if c.Get(fiber.HeaderAuthorization) != "" {
		return true
	}
	accept := c.Get(fiber.HeaderAccept)
	return strings.Contains(accept, fiber.MIMEApplicationJSON) && !strings.Contains(accept, fiber.MIMETextHTML)
}
