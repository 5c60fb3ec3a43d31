package auth

import (
	"context"
	"database/sql"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type registrations struct {
	repository.Repository[*RegistrationRequest]
	db bun.IDB
}

var _ RegistrationStore = (*registrations)(nil)

// NewRegistrationsRepository returns a RegistrationStore backed by the
// registration_requests table.
func NewRegistrationsRepository(db *bun.DB) RegistrationStore {
	repo := repository.NewRepository[*RegistrationRequest](db, repository.ModelHandlers[*RegistrationRequest]{
		NewRecord: func() *RegistrationRequest { return &RegistrationRequest{} },
		GetID: func(r *RegistrationRequest) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *RegistrationRequest, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "contact_email"
		},
	})
	return &registrations{Repository: repo, db: db}
}

func (r *registrations) Get(ctx context.Context, id uuid.UUID) (*RegistrationRequest, error) {
	record, err := r.Repository.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load registration request")
	}
	return record, nil
}

func (r *registrations) Insert(ctx context.Context, req *RegistrationRequest) (*RegistrationRequest, error) {
	return r.InsertTx(ctx, r.db, req)
}

func (r *registrations) InsertTx(ctx context.Context, tx bun.IDB, req *RegistrationRequest) (*RegistrationRequest, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = RegistrationPending
	}
	created, err := r.Repository.CreateTx(ctx, tx, req)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create registration request")
	}
	return created, nil
}

// List returns every request when status is empty.
func (r *registrations) List(ctx context.Context, status RegistrationStatus) ([]RegistrationRequest, error) {
	var records []RegistrationRequest
	q := r.db.NewSelect().Model(&records)
	if status != "" {
		q = q.Where("?TableAlias.status = ?", status)
	}
	err := q.OrderExpr("?TableAlias.created_at DESC").Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list registration requests")
	}
	return records, nil
}

func (r *registrations) Resolve(ctx context.Context, req *RegistrationRequest) (bool, error) {
	res, err := r.db.NewUpdate().
		Model(req).
		Column("status", "approved_by", "approved_at", "rejection_reason", "admin_user_id").
		WherePK().
		Where("status = ?", RegistrationPending).
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve registration request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve registration request")
	}
	return n == 1, nil
}
