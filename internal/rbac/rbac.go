package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleEditor    Role = "editor"
	RoleInspector Role = "inspector"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead          Action = "read"
	ActionSubmit        Action = "submit"
	ActionReview        Action = "review"
	ActionDeleteProject Action = "delete_project"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleInspector:
		return action == ActionRead || action == ActionSubmit || action == ActionReview
	case RoleEditor:
		return action == ActionRead || action == ActionSubmit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// CanSelfApprove reports whether a reviewer may approve a change request they
// submitted themselves. Only the highest tier is exempt from the restriction.
func CanSelfApprove(role Role) bool {
	return role == RoleAdmin
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleInspector, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
