package auth

import (
	"strings"
)

// Role is one of the closed set of station platform roles
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleStationAdmin Role = "station_admin"
	RoleAdmin        Role = "admin"
	RoleTechnician   Role = "technician"
	RoleFrontDesk    Role = "front_desk"
)

// roleBits fixes the bit position of every role in a RoleSet
var roleBits = map[Role]RoleSet{
	RoleSuperAdmin:   1 << 0,
	RoleStationAdmin: 1 << 1,
	RoleAdmin:        1 << 2,
	RoleTechnician:   1 << 3,
	RoleFrontDesk:    1 << 4,
}

// AllRoles returns every role from most to least privileged
func AllRoles() []Role {
	return []Role{
		RoleSuperAdmin,
		RoleStationAdmin,
		RoleAdmin,
		RoleTechnician,
		RoleFrontDesk,
	}
}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	_, ok := roleBits[r]
	return ok
}

// IsStationScoped reports whether a grant of this role must carry a station id.
// station_admin may carry one but is not required to.
func (r Role) IsStationScoped() bool {
	switch r {
	case RoleAdmin, RoleTechnician, RoleFrontDesk:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// ParseRole safely parses a string into a Role type
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	return role, role.IsValid()
}

// RoleSet is an immutable set of roles. The zero value is the empty set.
type RoleSet uint8

// NewRoleSet builds a set, silently skipping unknown roles
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= roleBits[r]
	}
	return s
}

// With returns a copy of the set that also contains role
func (s RoleSet) With(role Role) RoleSet {
	return s | roleBits[role]
}

// Has reports membership of a single role
func (s RoleSet) Has(role Role) bool {
	bit, ok := roleBits[role]
	return ok && s&bit != 0
}

// HasAny is false for an empty argument list
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// HasAll is true for an empty argument list
func (s RoleSet) HasAll(roles ...Role) bool {
	for _, r := range roles {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

func (s RoleSet) IsEmpty() bool {
	return s == 0
}

func (s RoleSet) Len() int {
	n := 0
	for _, r := range AllRoles() {
		if s.Has(r) {
			n++
		}
	}
	return n
}

// Slice returns the members in AllRoles order
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, s.Len())
	for _, r := range AllRoles() {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Strings is Slice as plain strings, handy for logs and JSON payloads
func (s RoleSet) Strings() []string {
	roles := s.Slice()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func (s RoleSet) String() string {
	return "[" + strings.Join(s.Strings(), ",") + "]"
}

// CanAccessStationData is true for roles that read station records. Plain
// admin is not one of them.
func CanAccessStationData(s RoleSet) bool {
	return s.HasAny(RoleSuperAdmin, RoleStationAdmin, RoleTechnician, RoleFrontDesk)
}

// CanManageUsers is true for roles that may grant or revoke roles.
func CanManageUsers(s RoleSet) bool {
	return s.HasAny(RoleSuperAdmin, RoleStationAdmin)
}

func CanModifyAllReports(s RoleSet) bool {
	return s.HasAny(RoleSuperAdmin, RoleStationAdmin, RoleTechnician)
}

// CanModifyOwnReportsOnly is true when the caller may only touch reports
// they authored.
func CanModifyOwnReportsOnly(s RoleSet) bool {
	return s.Has(RoleFrontDesk) && !CanModifyAllReports(s)
}
