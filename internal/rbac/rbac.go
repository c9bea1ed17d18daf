package rbac

type Role string
type Capability string

const (
	RoleEmployee   Role = "employee"
	RoleHR         Role = "hr"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
	RoleRoot       Role = "root"
)

const (
	CapManageProjects       Capability = "manage-projects"
	CapManageClients        Capability = "manage-clients"
	CapManageUsers          Capability = "manage-users"
	CapViewAllTimeEntries   Capability = "view-all-time-entries"
	CapManageTeams          Capability = "manage-teams"
	CapCreateUsers          Capability = "create-users"
	CapViewUserDetails      Capability = "view-user-details"
	CapViewHourlyRates      Capability = "view-hourly-rates"
	CapEditHourlyRates      Capability = "edit-hourly-rates"
	CapAdminDashboard       Capability = "admin-dashboard"
	CapManageSystemSettings Capability = "manage-system-settings"
)

// Actor is the authenticated identity performing an operation. It is
// built once per session from the users table and never mutated.
type Actor struct {
	ID       string
	Name     string
	Email    string
	Role     Role
	TenantID string
	TeamID   string
	TeamLead bool
}

// Can reports whether a role holds a capability. The capability table is
// fixed at compile time; there is no runtime customization path, so one
// tenant's settings can never leak into another's checks.
func Can(role Role, capability Capability) bool {
	switch role {
	case RoleRoot, RoleSuperAdmin:
		return true
	case RoleAdmin:
		switch capability {
		case CapManageProjects, CapManageClients, CapManageUsers,
			CapViewAllTimeEntries, CapManageTeams, CapCreateUsers,
			CapViewUserDetails, CapViewHourlyRates, CapEditHourlyRates,
			CapAdminDashboard:
			return true
		}
		return false
	case RoleHR:
		switch capability {
		case CapManageUsers, CapViewAllTimeEntries, CapCreateUsers,
			CapViewUserDetails:
			return true
		}
		return false
	case RoleEmployee:
		return false
	default:
		return false
	}
}

// Rank gives the total order Employee < HR < Admin < SuperAdmin < Root.
// It exists for sorting and display only; management rights come from
// the explicit CanManage table, never from rank arithmetic.
func Rank(role Role) int {
	switch role {
	case RoleEmployee:
		return 1
	case RoleHR:
		return 2
	case RoleAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	case RoleRoot:
		return 5
	default:
		return 0
	}
}

// CanManage reports whether an actor role may manage a target role.
// The table is deliberately explicit: Admin must not manage SuperAdmin
// or Root, and HR must not manage Admin, even though a rank comparison
// would allow reorderings to widen these grants by accident. Peer
// management (HR over HR, Admin over Admin) is denied.
func CanManage(actor, target Role) bool {
	switch actor {
	case RoleRoot:
		return true
	case RoleSuperAdmin:
		return target != RoleRoot
	case RoleAdmin:
		return target == RoleEmployee || target == RoleHR
	case RoleHR:
		return target == RoleEmployee
	default:
		return false
	}
}

// CanDeleteEntity reports whether an actor may delete an entity.
// Admin and above delete anything; everyone else only what they created.
func CanDeleteEntity(actorRole Role, creatorID, actorID string) bool {
	switch actorRole {
	case RoleAdmin, RoleSuperAdmin, RoleRoot:
		return true
	default:
		return creatorID != "" && creatorID == actorID
	}
}

// CanSee applies the tenant isolation predicate: an entity with an
// explicit tenant is visible only inside that tenant, except to Root.
// An entity with no tenant (legacy/global) is visible to any actor.
func CanSee(actor Actor, entityTenantID string) bool {
	if entityTenantID == "" {
		return true
	}
	if actor.Role == RoleRoot {
		return true
	}
	return actor.TenantID == entityTenantID
}

// InTenantScope reports whether an entity falls inside an explicit
// tenant scope. A non-empty scope excludes untenanted legacy entities
// rather than including them; an empty scope matches everything.
func InTenantScope(entityTenantID, scopeTenantID string) bool {
	if scopeTenantID == "" {
		return true
	}
	return entityTenantID == scopeTenantID
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleEmployee, RoleHR, RoleAdmin, RoleSuperAdmin, RoleRoot:
		return Role(role)
	default:
		return RoleEmployee
	}
}
