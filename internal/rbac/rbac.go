// Package rbac decides which roles may perform which grid actions.
package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleEditor  Role = "editor"
	RoleReplica Role = "replica"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionExport  Action = "export"
	ActionArchive Action = "archive"
	// ActionIngest applies revisions produced by another replica.
	ActionIngest Action = "ingest"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionExport || action == ActionArchive
	case RoleReplica:
		return action == ActionRead || action == ActionIngest
	case RoleViewer:
		return action == ActionRead || action == ActionExport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleReplica, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
