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

type stations struct {
	repository.Repository[*Station]
	db bun.IDB
}

var _ StationStore = (*stations)(nil)

// NewStationsRepository returns a StationStore backed by the stations table.
func NewStationsRepository(db *bun.DB) StationStore {
	repo := repository.NewRepository[*Station](db, repository.ModelHandlers[*Station]{
		NewRecord: func() *Station { return &Station{} },
		GetID: func(s *Station) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Station, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
	return &stations{Repository: repo, db: db}
}

func (s *stations) Get(ctx context.Context, id uuid.UUID) (*Station, error) {
	record, err := s.Repository.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStationNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load station")
	}
	return record, nil
}

func (s *stations) Insert(ctx context.Context, station *Station) (*Station, error) {
	if station.ID == uuid.Nil {
		station.ID = uuid.New()
	}
	created, err := s.Repository.Create(ctx, station)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create station")
	}
	return created, nil
}

func (s *stations) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.NewDelete().
		Model((*Station)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete station")
	}
	return nil
}
