package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type roleGrants struct {
	repository.Repository[*RoleGrant]
	db  bun.IDB
	now func() time.Time
}

var _ RoleStore = (*roleGrants)(nil)

// NewRoleGrantsRepository returns a RoleStore backed by the role_grants table.
func NewRoleGrantsRepository(db *bun.DB) RoleStore {
	repo := repository.NewRepository[*RoleGrant](db, repository.ModelHandlers[*RoleGrant]{
		NewRecord: func() *RoleGrant { return &RoleGrant{} },
		GetID: func(g *RoleGrant) uuid.UUID {
			if g == nil {
				return uuid.Nil
			}
			return g.ID
		},
		SetID: func(g *RoleGrant, id uuid.UUID) {
			if g != nil {
				g.ID = id
			}
		},
		GetIdentifier: func() string {
			return "user_id"
		},
	})
	return &roleGrants{Repository: repo, db: db, now: time.Now}
}

func (r *roleGrants) ListByUser(ctx context.Context, userID uuid.UUID) ([]RoleGrant, error) {
	var records []RoleGrant
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role grants")
	}
	return records, nil
}

func (r *roleGrants) Get(ctx context.Context, id uuid.UUID) (*RoleGrant, error) {
	record, err := r.Repository.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load role grant")
	}
	return record, nil
}

func (r *roleGrants) Insert(ctx context.Context, grant *RoleGrant) (*RoleGrant, error) {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	created, err := r.Repository.Create(ctx, grant)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create role grant")
	}
	return created, nil
}

func (r *roleGrants) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*RoleGrant)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete role grant")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGrantNotFound
	}
	return nil
}

func (r *roleGrants) Countersign(ctx context.Context, id, approverID uuid.UUID) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*RoleGrant)(nil)).
		Set("assigned_by = ?", approverID).
		Set("assigned_at = ?", r.now().UTC()).
		Where("id = ?", id).
		Where("role = ?", RoleStationAdmin).
		Where("assigned_by IS NULL").
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to countersign promotion")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to countersign promotion")
	}
	return n == 1, nil
}

func (r *roleGrants) ListProvisional(ctx context.Context) ([]RoleGrant, error) {
	var records []RoleGrant
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.role = ?", RoleStationAdmin).
		Where("?TableAlias.assigned_by IS NULL").
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list pending promotions")
	}
	return records, nil
}
