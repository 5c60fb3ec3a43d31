package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	auth "github.com/evprediag/go-station-auth"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultSessionTTL = 12 * time.Hour
	DefaultIssuer     = "go-station-auth"
)

// ErrEmailNotConfirmed is returned on sign-in before the email was verified.
var ErrEmailNotConfirmed = goerrors.New("email address is not confirmed", goerrors.CategoryAuth).
	WithTextCode("EMAIL_NOT_CONFIRMED").
	WithCode(goerrors.CodeUnauthorized)

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider owns accounts and token issuing. It implements auth.IdentityAdmin
// and auth.TokenSessionResolver; per-context state lives in Client.
type Provider struct {
	accounts            AccountStore
	signingKey          []byte
	issuer              string
	ttl                 time.Duration
	bcryptCost          int
	requireConfirmation bool
	hashedIDs           bool
	revocations         RevocationStore
	logger              auth.Logger
	now                 func() time.Time
}

var (
	_ auth.IdentityAdmin        = (*Provider)(nil)
	_ auth.TokenSessionResolver = (*Provider)(nil)
)

// Option customizes a Provider.
type Option func(*Provider)

func WithIssuer(issuer string) Option {
	return func(p *Provider) {
		if issuer != "" {
			p.issuer = issuer
		}
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithBcryptCost sets the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			p.bcryptCost = cost
		}
	}
}

// WithEmailConfirmation makes SignUp return no session until ConfirmEmail.
func WithEmailConfirmation(required bool) Option {
	return func(p *Provider) {
		p.requireConfirmation = required
	}
}

// WithHashedIDs derives account ids from the email with hashid.NewUUID, so
// the same email always maps to the same identity id.
func WithHashedIDs(enabled bool) Option {
	return func(p *Provider) {
		p.hashedIDs = enabled
	}
}

// WithRevocations sets where signed-out session ids are recorded. The
// default is an in-process MemoryRevocations sized to the session TTL.
func WithRevocations(store RevocationStore) Option {
	return func(p *Provider) {
		if store != nil {
			p.revocations = store
		}
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

func NewProvider(accounts AccountStore, signingKey []byte, opts ...Option) *Provider {
	p := &Provider{
		accounts:   accounts,
		signingKey: signingKey,
		issuer:     DefaultIssuer,
		ttl:        DefaultSessionTTL,
		bcryptCost: bcrypt.DefaultCost,
		logger:     auth.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.revocations == nil {
		p.revocations = NewMemoryRevocations(p.ttl)
	}
	return p
}

// NewClient returns the IdentityProvider for one browser context.
func (p *Provider) NewClient() *Client {
	return &Client{
		provider:  p,
		listeners: map[int]auth.SessionListener{},
	}
}

// CreateUser implements auth.IdentityAdmin.
func (p *Provider) CreateUser(ctx context.Context, input auth.NewIdentity) (auth.Identity, error) {
	account, err := p.createAccount(ctx, input.Email, input.Password, input.EmailConfirmed, input.Metadata)
	if err != nil {
		return auth.Identity{}, err
	}
	return identityOf(account), nil
}

// DeleteUser implements auth.IdentityAdmin.
func (p *Provider) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return p.accounts.Delete(ctx, id)
}

// ConfirmEmail marks the account as verified so it can sign in.
func (p *Provider) ConfirmEmail(ctx context.Context, id uuid.UUID) error {
	return p.accounts.ConfirmEmail(ctx, id)
}

// SessionFromToken implements auth.TokenSessionResolver.
func (p *Provider) SessionFromToken(ctx context.Context, token string) (*auth.Session, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			p.logger.Error("local provider encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.signingKey, nil
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, auth.ErrSessionExpired
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid session token").
			WithCode(goerrors.CodeUnauthorized)
	}
	if !parsed.Valid {
		return nil, auth.ErrNotAuthenticated
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, auth.ErrNotAuthenticated
	}
	revoked, err := p.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, auth.ErrNotAuthenticated
	}
	if _, err := p.accounts.Get(ctx, id); err != nil {
		if goerrors.IsNotFound(err) {
			return nil, auth.ErrNotAuthenticated
		}
		return nil, err
	}

	session := &auth.Session{
		ID:       claims.ID,
		Identity: auth.Identity{ID: id, Email: claims.Email},
		Token:    token,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// Revoke makes the session's token unusable before it expires.
func (p *Provider) Revoke(ctx context.Context, session *auth.Session) error {
	if err := p.revocations.Revoke(ctx, session); err != nil {
		p.logger.Error("local provider failed to revoke session", "session_id", session.ID, "error", err)
		return err
	}
	return nil
}

func (p *Provider) authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to verify password")
	}
	if !account.EmailConfirmed {
		return nil, ErrEmailNotConfirmed
	}
	return account, nil
}

func (p *Provider) createAccount(ctx context.Context, email, password string, confirmed bool, metadata map[string]any) (*Account, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, goerrors.New("email and password are required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	id := uuid.New()
	if p.hashedIDs {
		if hid, err := hashid.NewUUID(email); err == nil {
			id = hid
		}
	}

	now := p.now().UTC()
	return p.accounts.Insert(ctx, &Account{
		ID:             id,
		Email:          email,
		PasswordHash:   string(hash),
		EmailConfirmed: confirmed,
		Metadata:       metadata,
		CreatedAt:      &now,
		UpdatedAt:      &now,
	})
}

func (p *Provider) issue(account *Account) (*auth.Session, error) {
	now := p.now()
	session := &auth.Session{
		ID:        uuid.NewString(),
		Identity:  identityOf(account),
		IssuedAt:  now,
		ExpiresAt: now.Add(p.ttl),
	}

	claims := &sessionClaims{
		Email: account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   account.ID.String(),
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}
	session.Token = signed
	return session, nil
}

func identityOf(account *Account) auth.Identity {
	return auth.Identity{ID: account.ID, Email: account.Email}
}
