package rbac

// Role names. Keep these stable; they are carried in access tokens.
const (
	RoleOwner      = "owner"
	RoleOperator   = "operator"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsStaff reports whether role may act across owners (queue, caller pool, any call job).
func IsStaff(role string) bool { return role == RoleOperator || role == RoleSuperAdmin }
