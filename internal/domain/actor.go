package domain

// Role is the kind of principal invoking a ledger operation.
type Role string

const (
	RoleUser Role = "user"
	// RoleService is an internal flow such as checkout or delivery
	// confirmation acting on behalf of users.
	RoleService Role = "service"
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated principal. It is passed explicitly to every
// ledger call instead of being read from request state.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) Privileged() bool {
	return a.Role == RoleService || a.Role == RoleAdmin
}

// CanActFor reports whether the actor may operate on userID's wallet.
func (a Actor) CanActFor(userID string) bool {
	return a.Privileged() || (a.ID != "" && a.ID == userID)
}
