// Package remote models the hosted task service: the Task/TaskList/
// MetaData node tree, the batched-JSON-action wire protocol, and the
// HTTP client speaking it.
package remote

// SyncAction is the per-entity reconciliation decision made by
// comparing a remote node against its paired local row.
type SyncAction int

const (
	// ActionNone means both sides are unchanged.
	ActionNone SyncAction = iota
	// ActionAddRemote pushes a new local entity to the remote side.
	ActionAddRemote
	// ActionAddLocal materializes a new remote entity locally.
	ActionAddLocal
	// ActionDelRemote deletes the remote counterpart of a locally
	// deleted entity.
	ActionDelRemote
	// ActionDelLocal deletes the local counterpart of a remotely
	// deleted entity.
	ActionDelLocal
	// ActionUpdateRemote pushes local changes to the remote side.
	ActionUpdateRemote
	// ActionUpdateLocal applies remote changes to the local store.
	ActionUpdateLocal
	// ActionUpdateConflict marks changes on both sides; resolved by
	// pushing the local state (local wins).
	ActionUpdateConflict
	// ActionFail marks an inconsistent pairing that cannot be
	// reconciled this pass.
	ActionFail
)

// String returns a short name for logging.
func (a SyncAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAddRemote:
		return "add_remote"
	case ActionAddLocal:
		return "add_local"
	case ActionDelRemote:
		return "del_remote"
	case ActionDelLocal:
		return "del_local"
	case ActionUpdateRemote:
		return "update_remote"
	case ActionUpdateLocal:
		return "update_local"
	case ActionUpdateConflict:
		return "update_conflict"
	case ActionFail:
		return "error"
	default:
		return "unknown"
	}
}
