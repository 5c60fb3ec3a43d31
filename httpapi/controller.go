package httpapi

import (
	"context"
	"strings"
	"time"

	auth "github.com/evprediag/go-station-auth"
	"github.com/evprediag/go-station-auth/middleware/routeguard"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ClientFactory returns a fresh IdentityProvider for one request.
type ClientFactory func() auth.IdentityProvider

// resumer is implemented by providers that can rebuild a session from a token.
type resumer interface {
	Resume(ctx context.Context, token string) (*auth.Session, error)
}

// Config wires a Controller.
type Config struct {
	Clients     ClientFactory
	Repo        auth.RepositoryManager
	Workflow    *auth.ApprovalWorkflow
	Submissions *auth.SubmitRegistrationHandler
	// Stations overrides Repo.Stations() for lookups, e.g. with auth.CachedStations.
	Stations       auth.StationStore
	SessionOptions []auth.SessionManagerOption
	RateLimiter    *RateLimiter
	Logger         auth.Logger

	CookieName   string
	CookieSecure bool
}

// Controller exposes the station auth operations over HTTP.
type Controller struct {
	clients      ClientFactory
	repo         auth.RepositoryManager
	workflow     *auth.ApprovalWorkflow
	submissions  *auth.SubmitRegistrationHandler
	stations     auth.StationStore
	sessionOpts  []auth.SessionManagerOption
	limiter      *RateLimiter
	logger       auth.Logger
	cookieName   string
	cookieSecure bool
}

func NewController(cfg Config) *Controller {
	ctrl := &Controller{
		clients:      cfg.Clients,
		repo:         cfg.Repo,
		workflow:     cfg.Workflow,
		submissions:  cfg.Submissions,
		stations:     cfg.Stations,
		sessionOpts:  cfg.SessionOptions,
		limiter:      cfg.RateLimiter,
		logger:       cfg.Logger,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
	}
	if ctrl.stations == nil && ctrl.repo != nil {
		ctrl.stations = ctrl.repo.Stations()
	}
	if ctrl.submissions == nil && ctrl.repo != nil {
		ctrl.submissions = auth.NewSubmitRegistrationHandler(ctrl.repo)
	}
	if ctrl.limiter == nil {
		ctrl.limiter = NewRateLimiter(DefaultRateLimiterConfig())
	}
	if ctrl.logger == nil {
		ctrl.logger = auth.NopLogger()
	}
	if ctrl.cookieName == "" {
		ctrl.cookieName = routeguard.DefaultCookieName
	}
	return ctrl
}

// Register mounts the public routes on r and the protected ones behind guard.
func (ctrl *Controller) Register(r fiber.Router, guard fiber.Handler) {
	r.Post("/auth/sign-in", ctrl.SignIn)
	r.Post("/auth/sign-up", ctrl.SignUp)
	r.Post("/auth/sign-out", ctrl.SignOut)
	r.Post("/registrations", ctrl.limiter.Handler(), ctrl.SubmitRegistration)

	r.Get("/me", guard, ctrl.Me)
	r.Get("/stations/:id", guard, ctrl.GetStation)

	admin := r.Group("/admin", guard)
	admin.Get("/registrations", ctrl.ListRegistrations)
	admin.Post("/registrations/:id/approve", ctrl.ApproveRegistration)
	admin.Post("/registrations/:id/reject", ctrl.RejectRegistration)
	admin.Post("/roles", ctrl.AssignRole)
	admin.Delete("/roles/:id", ctrl.RemoveRole)
	admin.Get("/users/:id/roles", ctrl.UserRoles)
	admin.Get("/promotions", ctrl.PendingPromotions)
	admin.Post("/promotions", ctrl.RequestPromotion)
	admin.Post("/promotions/:id/countersign", ctrl.Countersign)
	admin.Delete("/promotions/:id", ctrl.RejectPromotion)
}

type credentialsPayload struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type sessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	UserID    uuid.UUID       `json:"user_id"`
	Email     string          `json:"email"`
	Roles     []string        `json:"roles"`
	State     auth.GuardState `json:"state"`
	Profile   *auth.Profile   `json:"profile,omitempty"`
}

func (ctrl *Controller) newSessionManager() *auth.SessionManager {
	return auth.NewSessionManager(ctrl.clients(), ctrl.repo.Roles(), ctrl.repo.Profiles(), ctrl.sessionOpts...)
}

func (ctrl *Controller) SignIn(c *fiber.Ctx) error {
	payload := credentialsPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return ctrl.renderError(c, auth.ErrBadPayload)
	}

	ctx := c.UserContext()
	sm := ctrl.newSessionManager()
	defer sm.Close()
	if err := sm.Initialize(ctx); err != nil {
		return ctrl.renderError(c, err)
	}

	session, err := sm.SignIn(ctx, payload.Email, payload.Password)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return ctrl.renderSession(c, fiber.StatusOK, sm, session)
}

func (ctrl *Controller) SignUp(c *fiber.Ctx) error {
	payload := credentialsPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return ctrl.renderError(c, auth.ErrBadPayload)
	}

	ctx := c.UserContext()
	sm := ctrl.newSessionManager()
	defer sm.Close()
	if err := sm.Initialize(ctx); err != nil {
		return ctrl.renderError(c, err)
	}

	session, err := sm.SignUp(ctx, payload.Email, payload.Password, payload.Metadata)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	if session == nil {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"state": "verification_pending"})
	}
	return ctrl.renderSession(c, fiber.StatusCreated, sm, session)
}

// SignOut clears the session cookie. When the provider can resume the
// token, the sign out goes through the session manager, which has the
// provider revoke the token so neither the cookie nor a copied bearer
// header authenticates again.
func (ctrl *Controller) SignOut(c *fiber.Ctx) error {
	token := ctrl.requestToken(c)
	ctrl.clearCookie(c)

	if token == "" {
		return c.SendStatus(fiber.StatusNoContent)
	}

	ctx := c.UserContext()
	client := ctrl.clients()
	res, ok := client.(resumer)
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if _, err := res.Resume(ctx, token); err != nil {
		ctrl.logger.Debug("sign out with unusable token", "error", err)
		return c.SendStatus(fiber.StatusNoContent)
	}

	sm := auth.NewSessionManager(client, ctrl.repo.Roles(), ctrl.repo.Profiles(), ctrl.sessionOpts...)
	defer sm.Close()
	if err := sm.Initialize(ctx); err != nil {
		return ctrl.renderError(c, err)
	}
	if err := sm.SignOut(ctx); err != nil {
		return ctrl.renderError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (ctrl *Controller) renderSession(c *fiber.Ctx, status int, sm *auth.SessionManager, session *auth.Session) error {
	c.Cookie(&fiber.Cookie{
		Name:     ctrl.cookieName,
		Value:    session.Token,
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		Secure:   ctrl.cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.Status(status).JSON(sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		UserID:    session.UserID(),
		Email:     session.Identity.Email,
		Roles:     sm.Roles().Strings(),
		State:     auth.Evaluate(sm.Snapshot(), auth.RouteRequirement{}),
		Profile:   sm.Profile(),
	})
}

func (ctrl *Controller) clearCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     ctrl.cookieName,
		Value:    "",
		Expires:  time.Now().Add(-24 * time.Hour),
		HTTPOnly: true,
		Secure:   ctrl.cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (ctrl *Controller) requestToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Cookies(ctrl.cookieName)
}

func (ctrl *Controller) SubmitRegistration(c *fiber.Ctx) error {
	msg := auth.SubmitRegistrationMessage{}
	if err := c.BodyParser(&msg); err != nil {
		return ctrl.renderError(c, auth.ErrBadPayload)
	}

	req, err := ctrl.submissions.Submit(c.UserContext(), msg)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

type meResponse struct {
	UserID   uuid.UUID        `json:"user_id"`
	Email    string           `json:"email"`
	Roles    []string         `json:"roles"`
	Grants   []auth.RoleGrant `json:"grants"`
	Stations []uuid.UUID      `json:"stations"`
	Profile  *auth.Profile    `json:"profile,omitempty"`
}

func (ctrl *Controller) Me(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}

	profile, err := ctrl.repo.Profiles().Get(c.UserContext(), p.UserID)
	if err != nil && !auth.IsNotFound(err) {
		return ctrl.renderError(c, err)
	}

	return c.JSON(meResponse{
		UserID:   p.UserID,
		Email:    p.Email,
		Roles:    p.Roles.Strings(),
		Grants:   p.Grants,
		Stations: p.StationIDs(),
		Profile:  profile,
	})
}

func (ctrl *Controller) GetStation(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	id, err := auth.ParseID(c.Params("id"))
	if err != nil {
		return ctrl.renderError(c, err)
	}
	if !p.CanAccessStation(id) {
		return ctrl.renderError(c, auth.ErrForbidden)
	}

	station, err := ctrl.stations.Get(c.UserContext(), id)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.JSON(station)
}

func (ctrl *Controller) ListRegistrations(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	status := auth.RegistrationStatus(c.Query("status", string(auth.RegistrationPending)))
	out, err := ctrl.workflow.Registrations(c.UserContext(), p, status)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.JSON(out)
}

func (ctrl *Controller) ApproveRegistration(c *fiber.Ctx) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	result, err := ctrl.workflow.ApproveRegistration(c.UserContext(), p, id)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.JSON(result)
}

type rejectPayload struct {
	Reason string `json:"reason"`
}

func (ctrl *Controller) RejectRegistration(c *fiber.Ctx) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	payload := rejectPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return ctrl.renderError(c, auth.ErrBadPayload)
	}
	req, err := ctrl.workflow.RejectRegistration(c.UserContext(), p, id, payload.Reason)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.JSON(req)
}

type grantPayload struct {
	UserID    uuid.UUID  `json:"user_id"`
	Role      string     `json:"role"`
	StationID *uuid.UUID `json:"station_id,omitempty"`
}

func (ctrl *Controller) AssignRole(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	payload := grantPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return ctrl.renderError(c, auth.ErrBadPayload)
	}
	role, _ := auth.ParseRole(payload.Role)
	grant, err := ctrl.workflow.AssignRole(c.UserContext(), p, payload.UserID, role, payload.StationID)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(grant)
}

func (ctrl *Controller) RemoveRole(c *fiber.Ctx) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	if err := ctrl.workflow.RemoveRole(c.UserContext(), p, id); err != nil {
		return ctrl.renderError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (ctrl *Controller) UserRoles(c *fiber.Ctx) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	grants, err := ctrl.workflow.UserRoles(c.UserContext(), p, id)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.JSON(fiber.Map{
		"grants": grants,
		"roles":  auth.EffectiveRoles(grants).Strings(),
	})
}

func (ctrl *Controller) PendingPromotions(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	out, err := ctrl.workflow.PendingPromotions(c.UserContext(), p)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.JSON(out)
}

func (ctrl *Controller) RequestPromotion(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	payload := grantPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return ctrl.renderError(c, auth.ErrBadPayload)
	}
	grant, err := ctrl.workflow.RequestPromotion(c.UserContext(), p, payload.UserID, payload.StationID)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(grant)
}

func (ctrl *Controller) Countersign(c *fiber.Ctx) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	grant, err := ctrl.workflow.Countersign(c.UserContext(), p, id)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	return c.JSON(grant)
}

func (ctrl *Controller) RejectPromotion(c *fiber.Ctx) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return ctrl.renderError(c, err)
	}
	if err := ctrl.workflow.RejectPromotion(c.UserContext(), p, id); err != nil {
		return ctrl.renderError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func principal(c *fiber.Ctx) (auth.Principal, error) {
	p, ok := routeguard.PrincipalFrom(c)
	if !ok {
		return auth.Principal{}, auth.ErrNotAuthenticated
	}
	return p, nil
}

func principalAndID(c *fiber.Ctx) (auth.Principal, uuid.UUID, error) {
	p, err := principal(c)
	if err != nil {
		return p, uuid.Nil, err
	}
	id, err := auth.ParseID(c.Params("id"))
	return p, id, err
}
