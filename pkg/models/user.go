package models

// Role represents a user role within a tenant
type Role string

const (
	RoleAdmin    Role = "admin"    // Tenant owner, full access
	RoleStaff    Role = "staff"    // Restaurant staff, manages orders
	RoleCustomer Role = "customer" // Places and views own orders
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleCustomer:
		return true
	}
	return false
}

// Principal is the authenticated caller of a request
type Principal struct {
	KeyID    string `json:"key_id"`
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
}
