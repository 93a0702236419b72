// Package ownership decides which authenticated users may act on owned
// entities and exchange records.
package ownership

import "ecocropshare/api/internal/ref"

type Action string

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionFulfill Action = "fulfill"
)

// Can reports whether caller may perform action on an entity owned by owner.
// Both arguments may be any reference shape accepted by ref.ExtractID.
func Can(caller, owner any, action Action) bool {
	callerID := ref.ExtractID(caller)
	if callerID == "" {
		return false
	}
	switch action {
	case ActionRead, ActionComment:
		return true
	case ActionEdit, ActionDelete, ActionFulfill:
		return ref.Same(callerID, owner)
	default:
		return false
	}
}

type Role string

const (
	RoleGiver    Role = "giver"
	RoleReceiver Role = "receiver"
)

// RoleIn returns the caller's role in an exchange between giver and receiver,
// or "" when the caller is neither party.
func RoleIn(caller, giver, receiver any) Role {
	switch {
	case ref.Same(caller, giver):
		return RoleGiver
	case ref.Same(caller, receiver):
		return RoleReceiver
	default:
		return ""
	}
}

// IsParticipant reports whether caller matches any of parties.
func IsParticipant(caller any, parties ...any) bool {
	for _, party := range parties {
		if ref.Same(caller, party) {
			return true
		}
	}
	return false
}

// NormalizeRole maps a filter value to a Role. ok is false for unknown values.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case "":
		return "", true
	case RoleGiver, RoleReceiver:
		return Role(value), true
	default:
		return "", false
	}
}
