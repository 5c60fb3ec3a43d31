package local

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrAccountNotFound is returned for unknown account ids or emails.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrEmailTaken is returned when an account already uses the email.
var ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode("EMAIL_TAKEN").
	WithCode(goerrors.CodeConflict)

// Account is the credential record behind an identity.
type Account struct {
	bun.BaseModel  `bun:"table:accounts,alias:acc"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Email          string         `bun:"email,notnull,unique" json:"email"`
	PasswordHash   string         `bun:"password_hash,notnull" json:"-"`
	EmailConfirmed bool           `bun:"email_confirmed" json:"email_confirmed"`
	Metadata       map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// AccountStore persists accounts.
type AccountStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Insert(ctx context.Context, account *Account) (*Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ConfirmEmail(ctx context.Context, id uuid.UUID) error
}

type bunAccounts struct {
	repository.Repository[*Account]
	db bun.IDB
}

// NewAccountsRepository returns an AccountStore backed by the accounts table.
func NewAccountsRepository(db *bun.DB) AccountStore {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
	return &bunAccounts{Repository: repo, db: db}
}

func (a *bunAccounts) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	record, err := a.Repository.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}
	return record, nil
}

func (a *bunAccounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", normalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}
	return record, nil
}

func (a *bunAccounts) Insert(ctx context.Context, account *Account) (*Account, error) {
	if _, err := a.GetByEmail(ctx, account.Email); err == nil {
		return nil, ErrEmailTaken
	}
	created, err := a.Repository.Create(ctx, account)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
	}
	return created, nil
}

func (a *bunAccounts) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewDelete().
		Model((*Account)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete account")
	}
	return nil
}

func (a *bunAccounts) ConfirmEmail(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("email_confirmed = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm account email")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// MemoryAccounts is an AccountStore kept in process memory.
type MemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{accounts: map[uuid.UUID]Account{}}
}

func (m *MemoryAccounts) Get(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acc, nil
}

func (m *MemoryAccounts) GetByEmail(_ context.Context, email string) (*Account, error) {
	email = normalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acc := range m.accounts {
		if acc.Email == email {
			cp := acc
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryAccounts) Insert(_ context.Context, account *Account) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if acc.Email == account.Email {
			return nil, ErrEmailTaken
		}
	}
	if _, exists := m.accounts[account.ID]; exists {
		return nil, ErrEmailTaken
	}
	m.accounts[account.ID] = *account
	return account, nil
}

func (m *MemoryAccounts) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	return nil
}

func (m *MemoryAccounts) ConfirmEmail(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acc.EmailConfirmed = true
	m.accounts[id] = acc
	return nil
}

// Len is the number of stored accounts.
func (m *MemoryAccounts) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
