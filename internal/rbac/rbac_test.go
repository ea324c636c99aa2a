package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "student read", role: RoleStudent, action: ActionRead, allow: true},
		{name: "student register", role: RoleStudent, action: ActionRegisterGroup, allow: true},
		{name: "student manage", role: RoleStudent, action: ActionManageTasks, allow: false},
		{name: "student history", role: RoleStudent, action: ActionViewHistory, allow: false},
		{name: "professor read", role: RoleProfessor, action: ActionRead, allow: true},
		{name: "professor manage", role: RoleProfessor, action: ActionManageTasks, allow: true},
		{name: "professor history", role: RoleProfessor, action: ActionViewHistory, allow: true},
		{name: "professor register", role: RoleProfessor, action: ActionRegisterGroup, allow: false},
		{name: "unknown role", role: Role("admin"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("professor") != RoleProfessor || Normalize("student") != RoleStudent {
		t.Fatal("known roles must pass through")
	}
	if Normalize("admin") != RoleStudent || Normalize("") != RoleStudent {
		t.Fatal("unknown roles must fall back to student")
	}
}
