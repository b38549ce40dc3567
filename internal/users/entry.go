package users

import (
	"strings"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
)

// Entry is one access key of the users directory. Only Type, Name, Active and
// CreatedAt are stored; the key itself is the record's path segment.
type Entry struct {
	Directory   string `json:"-"`
	Key         string `json:"-"`
	Fingerprint string `json:"-"`
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
}

// Role returns the role the entry grants.
func (e Entry) Role() classroom.Role {
	role, ok := classroom.ParseRole(e.Type)
	if !ok && e.Directory == auth.AdministrationDirectory {
		return classroom.RoleAdmin
	}
	return role
}

func allowedRoles(directory string) []classroom.Role {
	if directory == auth.AdministrationDirectory {
		return []classroom.Role{classroom.RoleAdmin, classroom.RoleSubadmin, classroom.RoleTester}
	}
	return []classroom.Role{classroom.RoleElder, classroom.RoleStudent}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
