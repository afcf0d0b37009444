package remote

// JSON keys of the batched-action wire protocol.
const (
	keyActionID       = "action_id"
	keyActionList     = "action_list"
	keyActionType     = "action_type"
	keyClientVersion  = "client_version"
	keyCompleted      = "completed"
	keyCreatorID      = "creator_id"
	keyCurrentListID  = "current_list_id"
	keyDeleted        = "deleted"
	keyDestList       = "dest_list"
	keyDestParent     = "dest_parent"
	keyDestParentType = "dest_parent_type"
	keyEntityDelta    = "entity_delta"
	keyEntityType     = "entity_type"
	keyGetDeleted     = "get_deleted"
	keyID             = "id"
	keyIndex          = "index"
	keyLastModified   = "last_modified"
	keyListID         = "list_id"
	keyLists          = "lists"
	keyName           = "name"
	keyNewID          = "new_id"
	keyNotes          = "notes"
	keyParentID       = "parent_id"
	keyPriorSiblingID = "prior_sibling_id"
	keyResults        = "results"
	keySourceList     = "source_list"
	keyTasks          = "tasks"
)

// Action type values.
const (
	actionCreate = "create"
	actionGetAll = "get_all"
	actionMove   = "move"
	actionUpdate = "update"
)

// Entity type values.
const (
	entityTask  = "task"
	entityGroup = "group"
)

// Reserved remote list names. Every list owned by this tool carries
// the folder prefix; the three suffixed names are system lists.
const (
	FolderPrefix     = "[NoteSync]"
	DefaultListName  = FolderPrefix + "Default"
	CallNoteListName = FolderPrefix + "Call_Note"
	MetaListName     = FolderPrefix + "METADATA"
)

// MetaNoteName is the fixed display name of every metadata entry, a
// warning to users browsing the remote service directly.
const MetaNoteName = "[META INFO] DON'T UPDATE AND DELETE"

// Helpers for reading loosely-typed wire JSON. encoding/json decodes
// numbers as float64; remote logical clocks need int64.

func jsString(js map[string]any, key string) (string, bool) {
	if v, ok := js[key].(string); ok {
		return v, true
	}
	return "", false
}

func jsInt64(js map[string]any, key string) (int64, bool) {
	switch v := js[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func jsBool(js map[string]any, key string) (bool, bool) {
	if v, ok := js[key].(bool); ok {
		return v, true
	}
	return false, false
}
