package models

// Caller is the authenticated identity behind an API request.
type Caller struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Roles
const (
	RoleAdmin  = "admin"
	RoleAgent  = "agent"
	RoleClient = "client"
)

// IsStaff reports whether the caller may manage signing sessions.
func (c *Caller) IsStaff() bool {
	return c != nil && (c.Role == RoleAgent || c.Role == RoleAdmin)
}
