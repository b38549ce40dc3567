package auth

import (
	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
)

// UserType distinguishes administration keys from keys issued to a class.
type UserType string

const (
	UserTypeAdmin UserType = "admin"
	UserTypeClass UserType = "class"
)

// Session describes a logged-in key holder. Key never leaves the process that logged in.
type Session struct {
	Key         string         `json:"-"`
	Role        classroom.Role `json:"role"`
	UserType    UserType       `json:"userType"`
	Class       string         `json:"class"`
	DisplayName string         `json:"displayName"`
	LoginTime   int64          `json:"loginTime"`
}

// EffectiveClass is the class whose homework and gallery the session works on.
func (s Session) EffectiveClass() string {
	if s.UserType == UserTypeAdmin && s.Class == "" {
		return classroom.DefaultClass
	}
	return s.Class
}

// IsAdmin reports whether the session carries the admin role.
func (s Session) IsAdmin() bool {
	return s.Role == classroom.RoleAdmin
}

// CanEdit reports whether the session may change homework and gallery content.
func CanEdit(session *Session) bool {
	if session == nil {
		return false
	}
	switch session.Role {
	case classroom.RoleAdmin, classroom.RoleSubadmin, classroom.RoleElder:
		return true
	default:
		return false
	}
}

// CanRead reports whether the session may read path through the API.
func CanRead(session *Session, path kvstore.Path) bool {
	if session == nil || path == "" || kvstore.IsUsersPath(path) {
		return false
	}
	if kvstore.IsEventsPath(path) {
		return true
	}
	if class, ok := kvstore.ClassOf(path); ok {
		return session.UserType == UserTypeAdmin || class == session.Class
	}
	return session.UserType == UserTypeAdmin
}

// CanWrite reports whether the session may mutate path.
func CanWrite(session *Session, path kvstore.Path) bool {
	if session == nil || path == "" || kvstore.IsUsersPath(path) {
		return false
	}
	if kvstore.IsEventsPath(path) {
		return session.IsAdmin()
	}
	if class, ok := kvstore.ClassOf(path); ok {
		if !CanEdit(session) {
			return false
		}
		return session.UserType == UserTypeAdmin || class == session.Class
	}
	return session.IsAdmin()
}
