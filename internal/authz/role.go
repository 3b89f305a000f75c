package authz

import "fmt"

// Role is the closed set of roles a principal can hold. Levels and
// permissions are not part of the type; they come from the Catalog.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleNationalTreasurer
	RoleFundDirector
	RolePastor
	RoleTreasurer
	RoleChurchManager
	RoleSecretary
)

// AllRoles lists every assignable role.
func AllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleNationalTreasurer,
		RoleFundDirector,
		RolePastor,
		RoleTreasurer,
		RoleChurchManager,
		RoleSecretary,
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleNationalTreasurer:
		return "national_treasurer"
	case RoleFundDirector:
		return "fund_director"
	case RolePastor:
		return "pastor"
	case RoleTreasurer:
		return "treasurer"
	case RoleChurchManager:
		return "church_manager"
	case RoleSecretary:
		return "secretary"
	case RoleUnknown:
		return "unknown"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func ParseRole(name string) (Role, error) {
	for _, r := range AllRoles() {
		if r.String() == name {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", name)
}

// Principal is the verified identity handed over by the identity provider.
type Principal struct {
	ID       string
	Email    string
	Role     Role
	ChurchID int64
	FundIDs  []int64
}
