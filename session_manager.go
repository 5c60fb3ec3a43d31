package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/google/uuid"
)

// SessionManager owns the signed-in identity state of one browser context.
// Its mutation API is private: only provider notifications and its own
// sign-in/sign-up/sign-out calls change it.
type SessionManager struct {
	provider     IdentityProvider
	profiles     ProfileStore
	resolver     *RoleResolver
	logger       Logger
	metrics      *Metrics
	activitySink ActivitySink
	featureGate  gate.FeatureGate
	now          func() time.Time
	timeout      time.Duration

	mu          sync.RWMutex
	session     *Session
	profile     *Profile
	gen         uint64
	initialized bool

	initOnce    sync.Once
	initErr     error
	unsubscribe func()
	queue       *refreshQueue
	closeOnce   sync.Once
}

// SessionManagerOption customizes a SessionManager.
type SessionManagerOption func(*SessionManager)

func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(sm *SessionManager) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

func WithSessionMetrics(m *Metrics) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.metrics = m
	}
}

func WithSessionActivitySink(sink ActivitySink) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionFeatureGate gates SignUp behind gate.FeatureUsersSignup.
func WithSessionFeatureGate(fg gate.FeatureGate) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.featureGate = fg
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionManagerOption {
	return func(sm *SessionManager) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithSessionRefreshTimeout bounds each queued role/profile refresh.
func WithSessionRefreshTimeout(d time.Duration) SessionManagerOption {
	return func(sm *SessionManager) {
		if d > 0 {
			sm.timeout = d
		}
	}
}

// WithSessionRoleResolver shares a resolver instead of building one.
func WithSessionRoleResolver(r *RoleResolver) SessionManagerOption {
	return func(sm *SessionManager) {
		if r != nil {
			sm.resolver = r
		}
	}
}

func NewSessionManager(provider IdentityProvider, roles RoleStore, profiles ProfileStore, opts ...SessionManagerOption) *SessionManager {
	sm := &SessionManager{
		provider:     provider,
		profiles:     profiles,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
		timeout:      10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}
	if sm.resolver == nil {
		sm.resolver = NewRoleResolver(roles,
			WithRoleResolverLogger(sm.logger),
			WithRoleResolverMetrics(sm.metrics),
		)
	}
	sm.queue = newRefreshQueue(sm.runQueued)
	return sm
}

// Initialize subscribes to provider changes, then reads the current session
// and resolves its roles. It runs once; later calls return the first result.
func (sm *SessionManager) Initialize(ctx context.Context) error {
	sm.initOnce.Do(func() {
		sm.initErr = sm.initialize(ctx)
	})
	return sm.initErr
}

func (sm *SessionManager) initialize(ctx context.Context) error {
	sm.unsubscribe = sm.provider.OnChange(sm.handleChange)

	sm.mu.RLock()
	before := sm.gen
	sm.mu.RUnlock()

	snapshot, err := sm.provider.GetSession(ctx)
	if err != nil {
		sm.logger.Warn("initial session snapshot failed, starting signed out", "error", err)
		snapshot = nil
	}

	sm.mu.Lock()
	if sm.gen == before {
		sm.applyLocked(snapshot)
	} else {
		sm.logger.Debug("initial session snapshot superseded by provider event")
	}
	task, hasSession := sm.currentTaskLocked()
	sm.mu.Unlock()

	if hasSession {
		sm.refresh(ctx, task)
	}

	sm.mu.Lock()
	sm.initialized = true
	sm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "context cancelled during session initialization")
	}
	return nil
}

// handleChange runs inside the provider's notification path. It must not
// call back into the provider, so refreshes are queued.
func (sm *SessionManager) handleChange(event SessionEvent) {
	sm.metrics.sessionEvent(event.Kind)

	switch event.Kind {
	case SessionEstablished:
		sm.mu.Lock()
		sm.applyLocked(event.Session)
		task, ok := sm.currentTaskLocked()
		sm.mu.Unlock()
		if ok {
			sm.queue.enqueue(task)
		}
	case SessionCleared:
		sm.clearLocal()
	default:
		sm.logger.Warn("ignoring unknown session event", "kind", event.Kind)
	}
}

// applyLocked installs s as the current session. A different identity
// rebinds the resolver so no roles of the previous user survive.
func (sm *SessionManager) applyLocked(s *Session) {
	if s != nil && (s.Identity.IsZero() || s.IsExpired(sm.now())) {
		s = nil
	}

	prev := sm.session.UserID()
	sm.gen++
	if s == nil {
		sm.session = nil
		sm.profile = nil
		sm.resolver.Clear()
		return
	}

	cp := *s
	sm.session = &cp
	if prev != cp.Identity.ID {
		sm.profile = nil
		sm.resolver.Bind(cp.Identity.ID)
	}
}

func (sm *SessionManager) currentTaskLocked() (refreshTask, bool) {
	if sm.session == nil {
		return refreshTask{}, false
	}
	return refreshTask{gen: sm.gen, userID: sm.session.Identity.ID}, true
}

// clearLocal wipes the session, profile and roles synchronously.
func (sm *SessionManager) clearLocal() {
	sm.mu.Lock()
	sm.gen++
	sm.session = nil
	sm.profile = nil
	sm.resolver.Clear()
	sm.mu.Unlock()
}

func (sm *SessionManager) runQueued(task refreshTask) {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	sm.refresh(ctx, task)
}

// refresh loads roles and profile for task. Results for a superseded
// generation are dropped.
func (sm *SessionManager) refresh(ctx context.Context, task refreshTask) {
	if sm.stale(task) {
		sm.logger.Debug("skipping refresh for superseded session", "user_id", task.userID)
		return
	}

	sm.resolver.FetchRoles(ctx, task.userID)

	var profile *Profile
	if sm.profiles != nil {
		p, err := sm.profiles.Get(ctx, task.userID)
		switch {
		case err == nil:
			profile = p
		case IsNotFound(err):
		default:
			sm.logger.Error("profile fetch failed", "user_id", task.userID, "error", err)
		}
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.gen != task.gen {
		return
	}
	sm.profile = profile
}

func (sm *SessionManager) stale(task refreshTask) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.gen != task.gen
}

// SignIn delegates to the provider and installs the resulting session.
func (sm *SessionManager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	creds := Credentials{Email: email, Password: password}
	if err := creds.Validate(); err != nil {
		return nil, asValidationError(err, "invalid sign in payload")
	}

	s, err := sm.provider.SignIn(ctx, email, password)
	if err != nil {
		sm.record(ctx, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Metadata:  map[string]any{"email": email},
		})
		return nil, asIdentityError(err, "sign in failed")
	}

	sm.establish(ctx, s)
	sm.record(ctx, ActivityEvent{
		EventType: ActivityEventSignInSuccess,
		Actor:     ActorRef{ID: s.UserID().String(), Type: "user"},
		UserID:    s.UserID().String(),
	})
	return sm.CurrentSession(), nil
}

// SignUp creates an identity with no roles. A nil session with a nil error
// means the provider requires email verification first.
func (sm *SessionManager) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	if err := requireSignupGate(ctx, sm.featureGate); err != nil {
		return nil, err
	}

	creds := Credentials{Email: email, Password: password}
	if err := creds.Validate(); err != nil {
		return nil, asValidationError(err, "invalid sign up payload")
	}

	s, err := sm.provider.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, asIdentityError(err, "sign up failed")
	}

	event := ActivityEvent{EventType: ActivityEventSignUp, Metadata: map[string]any{"email": email}}
	if s == nil {
		event.Metadata["verification_pending"] = true
		sm.record(ctx, event)
		return nil, nil
	}

	sm.establish(ctx, s)
	event.UserID = s.UserID().String()
	event.Actor = ActorRef{ID: event.UserID, Type: "user"}
	sm.record(ctx, event)
	return sm.CurrentSession(), nil
}

// SignOut always clears local state, even when the provider call fails.
func (sm *SessionManager) SignOut(ctx context.Context) error {
	userID := sm.currentUserID()
	err := sm.provider.SignOut(ctx)
	sm.clearLocal()

	sm.record(ctx, ActivityEvent{
		EventType: ActivityEventSignOut,
		Actor:     ActorRef{ID: userID.String(), Type: "user"},
		UserID:    userID.String(),
	})

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "provider sign out failed")
	}
	return nil
}

// establish installs s unless the provider already did so through a
// notification, then refreshes roles inline: this is not the notification
// path, so calling the stores here is safe.
func (sm *SessionManager) establish(ctx context.Context, s *Session) {
	sm.mu.Lock()
	if sm.session == nil || sm.session.ID != s.ID || sm.session.UserID() != s.UserID() {
		sm.applyLocked(s)
	}
	task, ok := sm.currentTaskLocked()
	sm.mu.Unlock()

	if ok {
		sm.refresh(ctx, task)
	}
}

// CurrentSession returns a copy of the live session, or nil.
func (sm *SessionManager) CurrentSession() *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.session == nil || sm.session.IsExpired(sm.now()) {
		return nil
	}
	cp := *sm.session
	return &cp
}

// IsAuthenticated is true for a non-expired session with a resolved identity.
func (sm *SessionManager) IsAuthenticated() bool {
	s := sm.CurrentSession()
	return s != nil && !s.Identity.IsZero()
}

// Initialized becomes true once, after the first snapshot and its roles resolved.
func (sm *SessionManager) Initialized() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.initialized
}

// Profile returns a copy of the cached profile, or nil when none exists yet.
func (sm *SessionManager) Profile() *Profile {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.profile == nil {
		return nil
	}
	cp := *sm.profile
	return &cp
}

func (sm *SessionManager) Roles() RoleSet {
	return sm.resolver.Roles()
}

func (sm *SessionManager) Resolver() *RoleResolver {
	return sm.resolver
}

// HasRole is a shortcut for Resolver().HasRole.
func (sm *SessionManager) HasRole(role Role) bool {
	return sm.resolver.HasRole(role)
}

// Principal returns the signed-in caller with its cached grants.
func (sm *SessionManager) Principal() Principal {
	s := sm.CurrentSession()
	if s == nil {
		return Principal{}
	}
	if sm.resolver.Subject() != s.Identity.ID {
		return Principal{UserID: s.Identity.ID, Email: s.Identity.Email}
	}
	return NewPrincipal(s.Identity, sm.resolver.Grants())
}

// StationID prefers the profile assignment, then the first station grant.
func (sm *SessionManager) StationID() (uuid.UUID, bool) {
	if p := sm.Profile(); p != nil && p.StationID != nil {
		return *p.StationID, true
	}
	ids := sm.Principal().StationIDs()
	if len(ids) == 0 {
		return uuid.Nil, false
	}
	return ids[0], true
}

// RefreshRoles refetches roles and profile for the current session inline.
func (sm *SessionManager) RefreshRoles(ctx context.Context) error {
	sm.mu.RLock()
	task, ok := sm.currentTaskLocked()
	sm.mu.RUnlock()
	if !ok {
		return ErrNotAuthenticated
	}
	sm.refresh(ctx, task)
	return nil
}

// FetchUserRoles reads any user's effective roles. Only a fetch for the
// signed-in user replaces the cache.
func (sm *SessionManager) FetchUserRoles(ctx context.Context, userID uuid.UUID) RoleSet {
	return sm.resolver.FetchRoles(ctx, userID)
}

// Snapshot implements GuardSource.
func (sm *SessionManager) Snapshot() GuardInput {
	sm.mu.RLock()
	initialized := sm.initialized
	sm.mu.RUnlock()

	s := sm.CurrentSession()
	in := GuardInput{
		Initialized:   initialized,
		Authenticated: s != nil && !s.Identity.IsZero(),
	}
	if in.Authenticated && sm.resolver.Subject() == s.Identity.ID {
		in.RolesLoaded = sm.resolver.Loaded()
		in.Roles = sm.resolver.Roles()
	}
	return in
}

// Flush waits for queued refreshes to finish.
func (sm *SessionManager) Flush(ctx context.Context) error {
	return sm.queue.flush(ctx)
}

// Close unsubscribes from the provider and stops the refresh worker.
func (sm *SessionManager) Close() {
	sm.closeOnce.Do(func() {
		if sm.unsubscribe != nil {
			sm.unsubscribe()
		}
		sm.queue.close()
	})
}

func (sm *SessionManager) currentUserID() uuid.UUID {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.session.UserID()
}

func (sm *SessionManager) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, event)
}

// asIdentityError keeps provider errors that already carry a category and
// files anything else under CategoryAuth.
func asIdentityError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryAuth, msg).
		WithCode(goerrors.CodeUnauthorized)
}
