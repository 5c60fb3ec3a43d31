package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity is the stable user reference supplied by the IdentityProvider.
type Identity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// IsZero reports whether the identity was never resolved
func (i Identity) IsZero() bool {
	return i.ID == uuid.Nil
}

// Session wraps an Identity plus liveness.
type Session struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	Token     string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the session expired at the given instant.
// A zero ExpiresAt never expires.
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// UserID returns the identity id or uuid.Nil for a nil session
func (s *Session) UserID() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.Identity.ID
}

// SessionEventKind enumerates IdentityProvider change notifications.
type SessionEventKind string

const (
	SessionEstablished SessionEventKind = "session.established"
	SessionCleared     SessionEventKind = "session.cleared"
)

// SessionEvent is delivered to OnChange listeners.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}

// SessionListener receives provider change notifications. Listeners may be
// invoked while the provider holds internal locks and must not call back into
// the provider synchronously.
type SessionListener func(event SessionEvent)

// IdentityProvider owns credentials and token lifecycle. This package never
// touches passwords directly.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// SignUp returns a nil session when the provider requires email
	// verification before the first sign-in.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error)
	SignOut(ctx context.Context) error
	GetSession(ctx context.Context) (*Session, error)
	OnChange(listener SessionListener) (unsubscribe func())
}

// NewIdentity describes an account created on behalf of another user.
type NewIdentity struct {
	Email          string
	Password       string
	EmailConfirmed bool
	Metadata       map[string]any
}

// IdentityAdmin is the administrative side of the IdentityProvider used by
// the station approval flow.
type IdentityAdmin interface {
	CreateUser(ctx context.Context, input NewIdentity) (Identity, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// TokenSessionResolver resolves a bearer token into a Session for
// request-scoped transports.
type TokenSessionResolver interface {
	SessionFromToken(ctx context.Context, token string) (*Session, error)
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print(formatLine("DBG", msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print(formatLine("INF", msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print(formatLine("WRN", msg, args))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print(formatLine("ERR", msg, args))
}

func formatLine(level, msg string, args []any) string {
	var b strings.Builder
	b.WriteString("[" + level + "] AUTH " + msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	b.WriteString("\n")
	return b.String()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards every message.
func NopLogger() Logger {
	return nopLogger{}
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
