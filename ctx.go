package auth

import (
	"context"
)

var principalCtxKey = &contextKey{"principal"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithPrincipal sets the resolved Principal in the given context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext finds the principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	raw, ok := ctx.Value(principalCtxKey).(Principal)
	return raw, ok
}

// WithSession sets the Session in the given context
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, s)
}

// SessionFromContext finds the session from the context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(sessionCtxKey).(*Session)
	return raw, ok && raw != nil
}

// Can checks a station capability directly from the standard context
func Can(ctx context.Context, stationID string, capability func(RoleSet) bool) bool {
	p, ok := PrincipalFromContext(ctx)
	if !ok || capability == nil {
		return false
	}
	if !capability(p.Roles) {
		return false
	}
	if stationID == "" {
		return true
	}
	id, err := parseUUID(stationID)
	if err != nil {
		return false
	}
	return p.CanAccessStation(id)
}
