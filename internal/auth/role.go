package auth

import "fmt"

// Role is the identity provider's role for a profile.
type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
)

// Capability is an action a role may be offered.
type Capability string

const (
	CapCheckIn        Capability = "check_in"
	CapViewWindow     Capability = "view_window"
	CapManageWindow   Capability = "manage_window"
	CapListSubjects   Capability = "list_subjects"
	CapManageSubjects Capability = "manage_subjects"
	CapViewRecords    Capability = "view_records"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStudent, RoleProfessor:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Capabilities returns the actions offered to the role. Unknown roles get none.
func (r Role) Capabilities() []Capability {
	switch r {
	case RoleStudent:
		return []Capability{CapCheckIn, CapViewWindow, CapListSubjects}
	case RoleProfessor:
		return []Capability{CapManageWindow, CapViewWindow, CapListSubjects, CapManageSubjects, CapViewRecords}
	default:
		return nil
	}
}

// Can reports whether the role holds capability c.
func (r Role) Can(c Capability) bool {
	for _, have := range r.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}
