package remote

import (
	"notesync/internal/store"
)

// Task is a remote task entity, paired with a local note row. Its
// notes field carries the JSON local-content snapshot when the task
// was created by this tool; its metaInfo is the parsed snapshot from
// the paired metadata entry.
type Task struct {
	nodeBase
	completed    bool
	notes        string
	metaInfo     *store.NoteContent
	parent       *TaskList
	priorSibling *Task
}

var _ Node = (*Task)(nil)

// NewTask returns an empty task node.
func NewTask() *Task {
	return &Task{}
}

// Parent returns the list that owns this task, nil for an unattached
// task.
func (t *Task) Parent() *TaskList {
	return t.parent
}

// PriorSibling returns the task ordered immediately before this one in
// its parent list, nil for the first child.
func (t *Task) PriorSibling() *Task {
	return t.priorSibling
}

// Completed reports the remote completion flag.
func (t *Task) Completed() bool {
	return t.completed
}

// Notes returns the opaque notes payload.
func (t *Task) Notes() string {
	return t.notes
}

// SetNotes sets the opaque notes payload.
func (t *Task) SetNotes(notes string) {
	t.notes = notes
}

// MetaInfo returns the snapshot parsed from the paired metadata entry,
// nil when no metadata exists for this task.
func (t *Task) MetaInfo() *store.NoteContent {
	return t.metaInfo
}

// SetMetaInfo attaches the snapshot carried by the paired metadata
// entry.
func (t *Task) SetMetaInfo(c *store.NoteContent) {
	t.metaInfo = c
}

// WorthSaving reports whether the task carries enough content to
// materialize locally. Empty shells pulled from the remote side are
// discarded.
func (t *Task) WorthSaving() bool {
	return t.metaInfo != nil || t.name != "" || t.notes != ""
}

// CreateAction builds the wire action that creates this task in its
// parent list at its current position.
func (t *Task) CreateAction(actionID int) (map[string]any, error) {
	if t.parent == nil {
		return nil, actionErr("creating task %q: no parent list", t.name)
	}

	delta := map[string]any{
		keyName:       t.name,
		keyCreatorID:  "null",
		keyEntityType: entityTask,
	}
	if t.notes != "" {
		delta[keyNotes] = t.notes
	}

	js := map[string]any{
		keyActionType:     actionCreate,
		keyActionID:       actionID,
		keyIndex:          t.parent.ChildIndex(t),
		keyEntityDelta:    delta,
		keyParentID:       t.parent.GID(),
		keyDestParentType: entityGroup,
		keyListID:         t.parent.GID(),
	}
	if t.priorSibling != nil {
		js[keyPriorSiblingID] = t.priorSibling.GID()
	}
	return js, nil
}

// UpdateAction builds the wire action that updates this task in place.
// Deletion is an update with the deleted flag set.
func (t *Task) UpdateAction(actionID int) (map[string]any, error) {
	if t.gid == "" {
		return nil, actionErr("updating task %q: no remote id", t.name)
	}

	delta := map[string]any{
		keyName:    t.name,
		keyDeleted: t.deleted,
	}
	if t.notes != "" {
		delta[keyNotes] = t.notes
	}

	return map[string]any{
		keyActionType:  actionUpdate,
		keyActionID:    actionID,
		keyID:          t.gid,
		keyEntityDelta: delta,
	}, nil
}

// LoadFromRemote fills the task from a wire task object.
func (t *Task) LoadFromRemote(js map[string]any) error {
	gid, ok := jsString(js, keyID)
	if !ok || gid == "" {
		return actionErr("remote task has no id")
	}
	t.gid = gid

	if v, ok := jsInt64(js, keyLastModified); ok {
		t.lastModified = v
	}
	if v, ok := jsString(js, keyName); ok {
		t.name = v
	}
	if v, ok := jsString(js, keyNotes); ok {
		t.notes = v
	}
	if v, ok := jsBool(js, keyDeleted); ok {
		t.deleted = v
	}
	if v, ok := jsBool(js, keyCompleted); ok {
		t.completed = v
	}
	return nil
}

// LoadFromLocal derives the task's display name from a local snapshot.
// The name is the text of the first detail row, falling back to the
// note snippet.
func (t *Task) LoadFromLocal(c *store.NoteContent) error {
	if c.NoteType() != store.TypeNote {
		return actionErr("loading task from a non-note snapshot (type %d)", c.NoteType())
	}
	if content, ok := c.FirstContent(); ok {
		t.name = content
	} else if c.Note.Snippet != nil {
		t.name = *c.Note.Snippet
	}
	return nil
}

// LocalContent synthesizes the snapshot this task represents. With
// metadata present the snapshot is the metadata one with the first
// detail row's text replaced by the remote name; without it a minimal
// snapshot is built from the name alone.
func (t *Task) LocalContent() (*store.NoteContent, error) {
	if t.metaInfo == nil {
		return &store.NoteContent{
			Note: store.NoteFields{
				Type: store.Int64(store.TypeNote),
			},
			Data: []store.DataFields{
				{MimeType: store.String(store.MimeNote), Content: store.String(t.name)},
			},
		}, nil
	}

	c := t.metaInfo
	if len(c.Data) == 0 {
		c.Data = append(c.Data, store.DataFields{
			MimeType: store.String(store.MimeNote),
		})
	}
	c.Data[0].Content = store.String(t.name)
	return c, nil
}

// DecideSyncAction compares the task against its paired local row.
func (t *Task) DecideSyncAction(row *store.NoteRow) SyncAction {
	// No metadata yet: the local side is authoritative until the
	// snapshot has been uploaded.
	if t.metaInfo == nil {
		return ActionUpdateRemote
	}
	// Metadata without a recorded local id, or pointing at a different
	// row: the remote snapshot is authoritative.
	if t.metaInfo.Note.ID == nil {
		return ActionUpdateLocal
	}
	if *t.metaInfo.Note.ID != row.ID {
		return ActionUpdateLocal
	}

	if row.LocalModified == 0 {
		if row.SyncID == t.lastModified {
			return ActionNone
		}
		return ActionUpdateLocal
	}

	if row.RemoteID != t.gid {
		return ActionFail
	}
	if row.SyncID == t.lastModified {
		return ActionUpdateRemote
	}
	return ActionUpdateConflict
}
