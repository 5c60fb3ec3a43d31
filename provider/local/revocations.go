package local

import (
	"context"
	"time"

	auth "github.com/evprediag/go-station-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/uptrace/bun"
)

// RevocationStore remembers signed-out session ids until their tokens would
// have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, session *auth.Session) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// RevokedSession is a signed-out token id.
type RevokedSession struct {
	bun.BaseModel `bun:"table:revoked_sessions,alias:rs"`
	ID            string     `bun:"id,pk" json:"id"`
	AccountID     *uuid.UUID `bun:"account_id,type:uuid" json:"account_id,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt     time.Time  `bun:"revoked_at,notnull" json:"revoked_at"`
}

// RevocationsRepository is the RevocationStore backed by the
// revoked_sessions table, shared by every process using the database.
type RevocationsRepository struct {
	db  bun.IDB
	now func() time.Time
}

var _ RevocationStore = (*RevocationsRepository)(nil)

func NewRevocationsRepository(db bun.IDB) *RevocationsRepository {
	return &RevocationsRepository{db: db, now: time.Now}
}

func (r *RevocationsRepository) Revoke(ctx context.Context, session *auth.Session) error {
	if session == nil || session.ID == "" {
		return nil
	}
	record := &RevokedSession{
		ID:        session.ID,
		ExpiresAt: session.ExpiresAt.UTC(),
		RevokedAt: r.now().UTC(),
	}
	if !session.Identity.IsZero() {
		record.AccountID = uuidPtr(session.Identity.ID)
	}

	_, err := r.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session").
			WithMetadata(map[string]any{"session_id": session.ID})
	}
	return nil
}

func (r *RevocationsRepository) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*RevokedSession)(nil)).
		Where("?TableAlias.id = ?", sessionID).
		Exists(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check session revocation")
	}
	return exists, nil
}

// Purge drops rows whose tokens have expired; expiry already rejects them.
func (r *RevocationsRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*RevokedSession)(nil)).
		Where("expires_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to purge revoked sessions")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MemoryRevocations keeps revoked ids in an unbounded expirable LRU whose
// TTL is the token lifetime, so an entry never expires before its token.
type MemoryRevocations struct {
	cache *expirable.LRU[string, struct{}]
}

var _ RevocationStore = (*MemoryRevocations)(nil)

func NewMemoryRevocations(ttl time.Duration) *MemoryRevocations {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryRevocations{cache: expirable.NewLRU[string, struct{}](0, nil, ttl)}
}

func (m *MemoryRevocations) Revoke(_ context.Context, session *auth.Session) error {
	if session == nil || session.ID == "" {
		return nil
	}
	m.cache.Add(session.ID, struct{}{})
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	return m.cache.Contains(sessionID), nil
}

// Len is the number of live revocations.
func (m *MemoryRevocations) Len() int {
	return m.cache.Len()
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
