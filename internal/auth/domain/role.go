package domain

import "fmt"

// Role is the portal role carried in access tokens.
type Role string

const (
	RoleStudent  Role = "student"
	RoleLecturer Role = "lecturer"
	RoleAdmin    Role = "admin"
)

// ParseRole validates s, treating the empty string as RoleStudent.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case "":
		return RoleStudent, nil
	case RoleStudent, RoleLecturer, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("domain: unknown role %q", s)
	}
}

func (r Role) String() string { return string(r) }
