package auth

import (
	"github.com/google/uuid"
)

// Principal is the resolved caller: identity, effective roles and the
// station-scoped grants those roles came from.
type Principal struct {
	UserID uuid.UUID   `json:"user_id"`
	Email  string      `json:"email,omitempty"`
	Roles  RoleSet     `json:"-"`
	Grants []RoleGrant `json:"grants,omitempty"`
}

// NewPrincipal derives the effective role set from grants. Provisional
// station_admin grants are kept in Grants but do not count as roles.
func NewPrincipal(identity Identity, grants []RoleGrant) Principal {
	return Principal{
		UserID: identity.ID,
		Email:  identity.Email,
		Roles:  EffectiveRoles(grants),
		Grants: grants,
	}
}

func (p Principal) IsZero() bool {
	return p.UserID == uuid.Nil
}

// IsSuperAdmin reports the platform-wide role
func (p Principal) IsSuperAdmin() bool {
	return p.Roles.Has(RoleSuperAdmin)
}

// StationIDs lists the stations the principal holds an effective grant on
func (p Principal) StationIDs() []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	out := []uuid.UUID{}
	for i := range p.Grants {
		g := &p.Grants[i]
		if g.StationID == nil || g.IsProvisional() {
			continue
		}
		if _, ok := seen[*g.StationID]; ok {
			continue
		}
		seen[*g.StationID] = struct{}{}
		out = append(out, *g.StationID)
	}
	return out
}

// CanAccessStation is true for super_admin or an effective grant on stationID.
func (p Principal) CanAccessStation(stationID uuid.UUID) bool {
	if p.IsSuperAdmin() {
		return true
	}
	return p.hasRoleOnStation(stationID)
}

// ManagesStation is true when the principal may administer users on stationID.
func (p Principal) ManagesStation(stationID uuid.UUID) bool {
	if p.IsSuperAdmin() {
		return true
	}
	return p.hasRoleOnStation(stationID, RoleStationAdmin)
}

func (p Principal) hasRoleOnStation(stationID uuid.UUID, roles ...Role) bool {
	for i := range p.Grants {
		g := &p.Grants[i]
		if g.IsProvisional() || g.StationID == nil || *g.StationID != stationID {
			continue
		}
		if len(roles) == 0 || NewRoleSet(roles...).Has(g.Role) {
			return true
		}
	}
	return false
}

// EffectiveRoles folds grants into a RoleSet, skipping provisional promotions
// and unknown role names.
func EffectiveRoles(grants []RoleGrant) RoleSet {
	var set RoleSet
	for i := range grants {
		g := &grants[i]
		if g.IsProvisional() {
			continue
		}
		set = set.With(g.Role)
	}
	return set
}
