package rbac

type Role string
type Action string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
)

const (
	ActionRead          Action = "read"
	ActionRegisterGroup Action = "register_group"
	ActionManageTasks   Action = "manage_tasks"
	ActionViewHistory   Action = "view_history"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleProfessor:
		return action == ActionRead || action == ActionManageTasks || action == ActionViewHistory
	case RoleStudent:
		return action == ActionRead || action == ActionRegisterGroup
	default:
		return false
	}
}

// Normalize maps unknown roles to the least privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleProfessor:
		return Role(role)
	default:
		return RoleStudent
	}
}
