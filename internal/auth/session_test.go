package auth

import (
	"testing"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
)

func TestEffectiveClass(t *testing.T) {
	admin := Session{Role: classroom.RoleAdmin, UserType: UserTypeAdmin}
	if admin.EffectiveClass() != classroom.DefaultClass {
		t.Fatalf("expected default class, got %q", admin.EffectiveClass())
	}
	student := Session{Role: classroom.RoleStudent, UserType: UserTypeClass, Class: "9-B"}
	if student.EffectiveClass() != "9-B" {
		t.Fatalf("unexpected class %q", student.EffectiveClass())
	}
}

func TestCanEdit(t *testing.T) {
	expectations := map[classroom.Role]bool{
		classroom.RoleAdmin:    true,
		classroom.RoleSubadmin: true,
		classroom.RoleElder:    true,
		classroom.RoleTester:   false,
		classroom.RoleStudent:  false,
	}
	for role, expected := range expectations {
		if CanEdit(&Session{Role: role}) != expected {
			t.Fatalf("role %s: expected CanEdit=%v", role, expected)
		}
	}
	if CanEdit(nil) {
		t.Fatalf("nil session must not edit")
	}
}

func TestCanReadAndWrite(t *testing.T) {
	admin := &Session{Role: classroom.RoleAdmin, UserType: UserTypeAdmin}
	elder := &Session{Role: classroom.RoleElder, UserType: UserTypeClass, Class: "10-M"}
	student := &Session{Role: classroom.RoleStudent, UserType: UserTypeClass, Class: "10-M"}

	cases := []struct {
		session *Session
		path    kvstore.Path
		read    bool
		write   bool
	}{
		{admin, "users/administration", false, false},
		{admin, "", false, false},
		{admin, "events/active", true, true},
		{admin, "classes/11-A/gallery/img_1", true, true},
		{admin, "classes", true, true},
		{elder, "classes/10-M", true, true},
		{elder, "classes/11-A", false, false},
		{elder, "events/config/snow-event", true, false},
		{elder, "classes", false, false},
		{student, "classes/10-M/gallery", true, false},
		{nil, "classes/10-M", false, false},
	}
	for _, testCase := range cases {
		if got := CanRead(testCase.session, testCase.path); got != testCase.read {
			t.Fatalf("CanRead(%+v, %q) = %v", testCase.session, testCase.path, got)
		}
		if got := CanWrite(testCase.session, testCase.path); got != testCase.write {
			t.Fatalf("CanWrite(%+v, %q) = %v", testCase.session, testCase.path, got)
		}
	}
}
