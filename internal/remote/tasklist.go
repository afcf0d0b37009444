package remote

import (
	"strings"

	"notesync/internal/store"
)

// TaskList is a remote task list, paired with a local folder row. It
// exclusively owns its ordered children; moving a task between lists
// transfers ownership atomically.
type TaskList struct {
	nodeBase
	index    int
	children []*Task
}

var _ Node = (*TaskList)(nil)

// NewTaskList returns an empty task list node.
func NewTaskList() *TaskList {
	return &TaskList{}
}

// Index returns the remote display position.
func (l *TaskList) Index() int {
	return l.index
}

// SetIndex sets the remote display position used on creation.
func (l *TaskList) SetIndex(i int) {
	l.index = i
}

// Children returns the ordered child tasks. The returned slice is the
// list's own; callers must not mutate it.
func (l *TaskList) Children() []*Task {
	return l.children
}

// ChildCount returns the number of child tasks.
func (l *TaskList) ChildCount() int {
	return len(l.children)
}

// Child returns the child at position i, nil when out of range.
func (l *TaskList) Child(i int) *Task {
	if i < 0 || i >= len(l.children) {
		return nil
	}
	return l.children[i]
}

// ChildIndex returns the position of t among the children, -1 when t
// is not a child of this list.
func (l *TaskList) ChildIndex(t *Task) int {
	for i, c := range l.children {
		if c == t {
			return i
		}
	}
	return -1
}

// FindChildByGID returns the child with the given gid, nil when
// absent.
func (l *TaskList) FindChildByGID(gid string) *Task {
	for _, c := range l.children {
		if c.GID() == gid {
			return c
		}
	}
	return nil
}

// AddChild appends t to this list, detaching it from its previous
// parent first so ownership moves atomically.
func (l *TaskList) AddChild(t *Task) {
	if t.parent != nil {
		t.parent.RemoveChild(t)
	}
	l.children = append(l.children, t)
	t.parent = l
	l.refreshSiblings()
}

// RemoveChild detaches t from this list. A task that is not a child is
// left alone.
func (l *TaskList) RemoveChild(t *Task) {
	i := l.ChildIndex(t)
	if i < 0 {
		return
	}
	l.children = append(l.children[:i], l.children[i+1:]...)
	t.parent = nil
	t.priorSibling = nil
	l.refreshSiblings()
}

// MoveChild reorders t to position index within this list.
func (l *TaskList) MoveChild(t *Task, index int) {
	i := l.ChildIndex(t)
	if i < 0 || index < 0 || index >= len(l.children) || i == index {
		return
	}
	l.children = append(l.children[:i], l.children[i+1:]...)
	rest := append([]*Task{t}, l.children[index:]...)
	l.children = append(l.children[:index], rest...)
	l.refreshSiblings()
}

// refreshSiblings rebuilds the intra-list order links.
func (l *TaskList) refreshSiblings() {
	for i, c := range l.children {
		if i == 0 {
			c.priorSibling = nil
		} else {
			c.priorSibling = l.children[i-1]
		}
	}
}

// CreateAction builds the wire action that creates this list.
func (l *TaskList) CreateAction(actionID int) (map[string]any, error) {
	if l.name == "" {
		return nil, actionErr("creating task list: no name")
	}
	return map[string]any{
		keyActionType: actionCreate,
		keyActionID:   actionID,
		keyIndex:      l.index,
		keyEntityDelta: map[string]any{
			keyName:       l.name,
			keyCreatorID:  "null",
			keyEntityType: entityGroup,
		},
	}, nil
}

// UpdateAction builds the wire action that updates this list in place.
func (l *TaskList) UpdateAction(actionID int) (map[string]any, error) {
	if l.gid == "" {
		return nil, actionErr("updating task list %q: no remote id", l.name)
	}
	return map[string]any{
		keyActionType: actionUpdate,
		keyActionID:   actionID,
		keyID:         l.gid,
		keyEntityDelta: map[string]any{
			keyName:    l.name,
			keyDeleted: l.deleted,
		},
	}, nil
}

// LoadFromRemote fills the list from a wire list object.
func (l *TaskList) LoadFromRemote(js map[string]any) error {
	gid, ok := jsString(js, keyID)
	if !ok || gid == "" {
		return actionErr("remote task list has no id")
	}
	l.gid = gid

	if v, ok := jsInt64(js, keyLastModified); ok {
		l.lastModified = v
	}
	if v, ok := jsString(js, keyName); ok {
		l.name = v
	}
	return nil
}

// LoadFromLocal derives the reserved remote name from a local folder
// or system row snapshot.
func (l *TaskList) LoadFromLocal(c *store.NoteContent) error {
	switch c.NoteType() {
	case store.TypeFolder:
		snippet := ""
		if c.Note.Snippet != nil {
			snippet = *c.Note.Snippet
		}
		l.name = FolderPrefix + snippet
	case store.TypeSystem:
		if c.Note.ID == nil {
			return actionErr("system folder snapshot has no id")
		}
		switch *c.Note.ID {
		case store.RootFolderID:
			l.name = DefaultListName
		case store.CallFolderID:
			l.name = CallNoteListName
		default:
			return actionErr("system folder %d does not synchronize", *c.Note.ID)
		}
	default:
		return actionErr("loading task list from a non-folder snapshot (type %d)", c.NoteType())
	}
	return nil
}

// LocalContent synthesizes the folder snapshot this list represents.
// The folder prefix never appears in the local snippet.
func (l *TaskList) LocalContent() (*store.NoteContent, error) {
	return &store.NoteContent{
		Note: store.NoteFields{
			Type:    store.Int64(store.TypeFolder),
			Snippet: store.String(strings.TrimPrefix(l.name, FolderPrefix)),
		},
	}, nil
}

// DecideSyncAction compares the list against its paired local folder
// row. Folder conflicts collapse to a push of the local name.
func (l *TaskList) DecideSyncAction(row *store.NoteRow) SyncAction {
	if row.LocalModified == 0 {
		if row.SyncID == l.lastModified {
			return ActionNone
		}
		return ActionUpdateLocal
	}

	if row.RemoteID != l.gid {
		return ActionFail
	}
	return ActionUpdateRemote
}
