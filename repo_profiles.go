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

type profiles struct {
	repository.Repository[*Profile]
	db bun.IDB
}

var _ ProfileStore = (*profiles)(nil)

// NewProfilesRepository returns a ProfileStore backed by the profiles table.
func NewProfilesRepository(db *bun.DB) ProfileStore {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})
	return &profiles{Repository: repo, db: db}
}

func (p *profiles) Get(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	record, err := p.Repository.GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile")
	}
	return record, nil
}

// Upsert inserts or replaces the profile row; the id always equals the
// identity id.
func (p *profiles) Upsert(ctx context.Context, profile *Profile) (*Profile, error) {
	if profile == nil || profile.ID == uuid.Nil {
		return nil, goerrors.New("profile id is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	_, err := p.db.NewInsert().
		Model(profile).
		On("CONFLICT (id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("full_name = EXCLUDED.full_name").
		Set("avatar_url = EXCLUDED.avatar_url").
		Set("station_id = EXCLUDED.station_id").
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save profile")
	}
	return profile, nil
}

func (p *profiles) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := p.db.NewDelete().
		Model((*Profile)(nil)).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete profile")
	}
	return nil
}
