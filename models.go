package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profile is the per-user record created alongside an identity
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Username      string     `bun:"username" json:"username,omitempty"`
	FullName      string     `bun:"full_name" json:"full_name,omitempty"`
	AvatarURL     string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	StationID     *uuid.UUID `bun:"station_id,type:uuid" json:"station_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// RoleGrant links a user to a role, optionally scoped to a station.
//
// AssignedBy doubles as the promotion marker for station_admin grants: a nil
// value means the grant is provisional and awaits a super_admin countersign.
type RoleGrant struct {
	bun.BaseModel `bun:"table:role_grants,alias:rg"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Role          Role       `bun:"role,notnull" json:"role"`
	StationID     *uuid.UUID `bun:"station_id,type:uuid" json:"station_id,omitempty"`
	AssignedBy    *uuid.UUID `bun:"assigned_by,type:uuid" json:"assigned_by,omitempty"`
	AssignedAt    *time.Time `bun:"assigned_at,nullzero" json:"assigned_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// IsProvisional reports a station_admin promotion that was not countersigned.
func (g *RoleGrant) IsProvisional() bool {
	return g != nil && g.Role == RoleStationAdmin && g.AssignedBy == nil
}

// Station is a tenant created from an approved registration request
type Station struct {
	bun.BaseModel `bun:"table:stations,alias:st"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Name          string     `bun:"name,notnull" json:"name"`
	Address       string     `bun:"address" json:"address,omitempty"`
	Phone         string     `bun:"phone" json:"phone,omitempty"`
	Email         string     `bun:"email" json:"email,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// RegistrationStatus is the lifecycle state of a RegistrationRequest
type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "pending"
	RegistrationApproved RegistrationStatus = "approved"
	RegistrationRejected RegistrationStatus = "rejected"
)

// IsTerminal reports approved and rejected
func (s RegistrationStatus) IsTerminal() bool {
	return s == RegistrationApproved || s == RegistrationRejected
}

// RegistrationRequest is a station onboarding request submitted by a prospect
type RegistrationRequest struct {
	bun.BaseModel     `bun:"table:registration_requests,alias:rr"`
	ID                uuid.UUID          `bun:"id,pk,nullzero,type:uuid" json:"id"`
	CompanyName       string             `bun:"company_name,notnull" json:"company_name"`
	ContactEmail      string             `bun:"contact_email,notnull" json:"contact_email"`
	ContactPersonName string             `bun:"contact_person_name,notnull" json:"contact_person_name"`
	Phone             string             `bun:"phone" json:"phone,omitempty"`
	Address           string             `bun:"address" json:"address,omitempty"`
	Status            RegistrationStatus `bun:"status,notnull" json:"status"`
	ApprovedBy        *uuid.UUID         `bun:"approved_by,type:uuid" json:"approved_by,omitempty"`
	ApprovedAt        *time.Time         `bun:"approved_at,nullzero" json:"approved_at,omitempty"`
	RejectionReason   string             `bun:"rejection_reason" json:"rejection_reason,omitempty"`
	AdminUserID       *uuid.UUID         `bun:"admin_user_id,type:uuid" json:"admin_user_id,omitempty"`
	CreatedAt         *time.Time         `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}
