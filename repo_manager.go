package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Roles() RoleStore
	Profiles() ProfileStore
	Stations() StationStore
	Registrations() RegistrationStore
}

type mngr struct {
	db            *bun.DB
	roles         RoleStore
	profiles      ProfileStore
	stations      StationStore
	registrations RegistrationStore
}

// ManagerOption customizes the repository manager.
type ManagerOption func(*mngr)

// WithStationStore swaps the station store, e.g. for a CachedStations wrapper.
func WithStationStore(store StationStore) ManagerOption {
	return func(m *mngr) {
		if store != nil {
			m.stations = store
		}
	}
}

func NewRepositoryManager(db *bun.DB, opts ...ManagerOption) RepositoryManager {
	m := &mngr{
		db:            db,
		roles:         NewRoleGrantsRepository(db),
		profiles:      NewProfilesRepository(db),
		stations:      NewStationsRepository(db),
		registrations: NewRegistrationsRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m mngr) Validate() error {
	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.stations == nil {
		return errors.New("repository stations should be initialized")
	}

	if m.registrations == nil {
		return errors.New("repository registrations should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Roles() RoleStore {
	return m.roles
}

func (m mngr) Profiles() ProfileStore {
	return m.profiles
}

func (m mngr) Stations() StationStore {
	return m.stations
}

func (m mngr) Registrations() RegistrationStore {
	return m.registrations
}
