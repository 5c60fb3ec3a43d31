package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auth "github.com/evprediag/go-station-auth"
	"github.com/evprediag/go-station-auth/internal/testdb"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var errStoreDown = errors.New("store unavailable")

// fakeProvider notifies listeners while holding its own lock, the way hosted
// identity SDKs do. A listener calling back into it would deadlock.
type fakeProvider struct {
	mu        sync.Mutex
	session   *auth.Session
	listeners map[int]auth.SessionListener
	nextID    int

	accounts   map[string]fakeAccount
	signOutErr error
	getErr     error
	// requireVerification makes SignUp return no session.
	requireVerification bool
	// onGetSession runs inside GetSession before the snapshot is read.
	onGetSession func()
}

type fakeAccount struct {
	identity auth.Identity
	password string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		listeners: map[int]auth.SessionListener{},
		accounts:  map[string]fakeAccount{},
	}
}

func (p *fakeProvider) addAccount(email, password string) auth.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := auth.Identity{ID: uuid.New(), Email: email}
	p.accounts[email] = fakeAccount{identity: id, password: password}
	return id
}

func (p *fakeProvider) SignIn(_ context.Context, email, password string) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[email]
	if !ok || acc.password != password {
		return nil, auth.ErrInvalidCredentials
	}
	return p.establishLocked(acc.identity), nil
}

func (p *fakeProvider) SignUp(_ context.Context, email, password string, _ map[string]any) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[email]; exists {
		return nil, errors.New("email already registered")
	}
	acc := fakeAccount{identity: auth.Identity{ID: uuid.New(), Email: email}, password: password}
	p.accounts[email] = acc
	if p.requireVerification {
		return nil, nil
	}
	return p.establishLocked(acc.identity), nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	p.notifyLocked(auth.SessionEvent{Kind: auth.SessionCleared})
	return p.signOutErr
}

func (p *fakeProvider) GetSession(context.Context) (*auth.Session, error) {
	if p.onGetSession != nil {
		p.onGetSession()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	if p.session == nil {
		return nil, nil
	}
	cp := *p.session
	return &cp, nil
}

func (p *fakeProvider) OnChange(listener auth.SessionListener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// emit establishes identity out of band, as a token refresh in another tab would.
func (p *fakeProvider) emit(identity auth.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.establishLocked(identity)
}

// preset installs a session without notifying anyone.
func (p *fakeProvider) preset(identity auth.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = &auth.Session{ID: uuid.NewString(), Identity: identity, IssuedAt: time.Now()}
}

func (p *fakeProvider) establishLocked(identity auth.Identity) *auth.Session {
	p.session = &auth.Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	cp := *p.session
	p.notifyLocked(auth.SessionEvent{Kind: auth.SessionEstablished, Session: &cp})
	return &cp
}

func (p *fakeProvider) notifyLocked(event auth.SessionEvent) {
	for _, l := range p.listeners {
		l(event)
	}
}

// memRoles is an in-memory RoleStore with failure injection.
type memRoles struct {
	mu     sync.Mutex
	grants map[uuid.UUID][]auth.RoleGrant
	err    error
	calls  int
	// gate, when set, blocks ListByUser until it is closed.
	gate chan struct{}
}

func newMemRoles() *memRoles {
	return &memRoles{grants: map[uuid.UUID][]auth.RoleGrant{}}
}

func (m *memRoles) grant(userID uuid.UUID, role auth.Role, stationID *uuid.UUID) auth.RoleGrant {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := auth.RoleGrant{ID: uuid.New(), UserID: userID, Role: role, StationID: stationID, AssignedBy: &userID}
	m.grants[userID] = append(m.grants[userID], g)
	return g
}

func (m *memRoles) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// hold parks every ListByUser call until release is called.
func (m *memRoles) hold() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.gate = ch
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.gate = nil
		m.mu.Unlock()
		close(ch)
	}
}

func (m *memRoles) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *memRoles) ListByUser(_ context.Context, userID uuid.UUID) ([]auth.RoleGrant, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]auth.RoleGrant, len(m.grants[userID]))
	copy(out, m.grants[userID])
	return out, nil
}

func (m *memRoles) Get(_ context.Context, id uuid.UUID) (*auth.RoleGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, gs := range m.grants {
		for i := range gs {
			if gs[i].ID == id {
				g := gs[i]
				return &g, nil
			}
		}
	}
	return nil, auth.ErrGrantNotFound
}

func (m *memRoles) Insert(_ context.Context, g *auth.RoleGrant) (*auth.RoleGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	m.grants[g.UserID] = append(m.grants[g.UserID], *g)
	return g, nil
}

func (m *memRoles) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, gs := range m.grants {
		for i := range gs {
			if gs[i].ID == id {
				m.grants[user] = append(gs[:i], gs[i+1:]...)
				return nil
			}
		}
	}
	return auth.ErrGrantNotFound
}

func (m *memRoles) Countersign(_ context.Context, id, approverID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, gs := range m.grants {
		for i := range gs {
			if gs[i].ID == id && gs[i].AssignedBy == nil {
				gs[i].AssignedBy = &approverID
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *memRoles) ListProvisional(context.Context) ([]auth.RoleGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.RoleGrant
	for _, gs := range m.grants {
		for _, g := range gs {
			if g.IsProvisional() {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

type memProfiles struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*auth.Profile
	err      error
}

func newMemProfiles() *memProfiles {
	return &memProfiles{profiles: map[uuid.UUID]*auth.Profile{}}
}

func (m *memProfiles) Get(_ context.Context, userID uuid.UUID) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) Upsert(_ context.Context, p *auth.Profile) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.ID] = &cp
	return p, nil
}

func (m *memProfiles) Delete(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, userID)
	return nil
}

// fakeIdentities is an IdentityAdmin with failure injection.
type fakeIdentities struct {
	mu        sync.Mutex
	created   map[uuid.UUID]auth.NewIdentity
	deleted   []uuid.UUID
	createErr error
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{created: map[uuid.UUID]auth.NewIdentity{}}
}

func (f *fakeIdentities) CreateUser(_ context.Context, in auth.NewIdentity) (auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return auth.Identity{}, f.createErr
	}
	id := uuid.New()
	f.created[id] = in
	return auth.Identity{ID: id, Email: in.Email}, nil
}

func (f *fakeIdentities) DeleteUser(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIdentities) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type stubFeatureGate struct {
	enabled map[string]bool
	calls   []string
	err     error
}

func (s *stubFeatureGate) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	s.calls = append(s.calls, key)
	if s.err != nil {
		return false, s.err
	}
	enabled, ok := s.enabled[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

// recordingSink keeps every activity event.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, e auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

// newTestDB opens an in-memory database with every station auth table.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	return testdb.New(t,
		(*auth.Station)(nil),
		(*auth.Profile)(nil),
		(*auth.RoleGrant)(nil),
		(*auth.RegistrationRequest)(nil),
	)
}

func newTestRepo(t *testing.T, opts ...auth.ManagerOption) auth.RepositoryManager {
	t.Helper()
	return auth.NewRepositoryManager(newTestDB(t), opts...)
}

// faultyRepo swaps the role store of a real RepositoryManager.
type faultyRepo struct {
	auth.RepositoryManager
	roles auth.RoleStore
}

func (r faultyRepo) Roles() auth.RoleStore { return r.roles }

// failingRoles fails inserts of one role on demand.
type failingRoles struct {
	auth.RoleStore
	failRole  auth.Role
	insertErr error
}

func (f *failingRoles) Insert(ctx context.Context, g *auth.RoleGrant) (*auth.RoleGrant, error) {
	if f.insertErr != nil && g.Role == f.failRole {
		return nil, f.insertErr
	}
	return f.RoleStore.Insert(ctx, g)
}

// failingStations wraps a StationStore and fails inserts on demand.
type failingStations struct {
	auth.StationStore
	insertErr error
	deleted   []uuid.UUID
}

func (f *failingStations) Insert(ctx context.Context, st *auth.Station) (*auth.Station, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	return f.StationStore.Insert(ctx, st)
}

func (f *failingStations) Delete(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return f.StationStore.Delete(ctx, id)
}

func superAdmin() auth.Principal {
	id := uuid.New()
	return auth.NewPrincipal(auth.Identity{ID: id, Email: "root@stations.test"}, []auth.RoleGrant{
		{ID: uuid.New(), UserID: id, Role: auth.RoleSuperAdmin, AssignedBy: &id},
	})
}

func stationAdmin(stationID uuid.UUID) auth.Principal {
	id := uuid.New()
	return auth.NewPrincipal(auth.Identity{ID: id, Email: "admin@station.test"}, []auth.RoleGrant{
		{ID: uuid.New(), UserID: id, Role: auth.RoleStationAdmin, StationID: &stationID, AssignedBy: &id},
	})
}

func ptr[T any](v T) *T { return &v }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
