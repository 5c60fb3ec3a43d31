package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RoleStore persists RoleGrant rows.
type RoleStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]RoleGrant, error)
	Get(ctx context.Context, id uuid.UUID) (*RoleGrant, error)
	Insert(ctx context.Context, grant *RoleGrant) (*RoleGrant, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Countersign sets assigned_by only when it is still null. It reports
	// false when another writer got there first.
	Countersign(ctx context.Context, id, approverID uuid.UUID) (bool, error)
	// ListProvisional returns station_admin grants awaiting a countersign.
	ListProvisional(ctx context.Context) ([]RoleGrant, error)
}

// ProfileStore persists Profile rows, keyed by identity id.
type ProfileStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*Profile, error)
	Upsert(ctx context.Context, profile *Profile) (*Profile, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

// StationStore persists Station rows.
type StationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Station, error)
	Insert(ctx context.Context, station *Station) (*Station, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RegistrationStore persists RegistrationRequest rows.
type RegistrationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*RegistrationRequest, error)
	Insert(ctx context.Context, req *RegistrationRequest) (*RegistrationRequest, error)
	InsertTx(ctx context.Context, tx bun.IDB, req *RegistrationRequest) (*RegistrationRequest, error)
	List(ctx context.Context, status RegistrationStatus) ([]RegistrationRequest, error)
	// Resolve applies the terminal fields only while the row is pending and
	// reports false when the row had already left pending.
	Resolve(ctx context.Context, req *RegistrationRequest) (bool, error)
}
