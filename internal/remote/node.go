package remote

import (
	"notesync/internal/store"
)

// Entity is the wire-facing surface shared by every remote node kind,
// including metadata entries.
type Entity interface {
	GID() string
	SetGID(string)
	Name() string
	Deleted() bool
	SetDeleted(bool)
	CreateAction(actionID int) (map[string]any, error)
	UpdateAction(actionID int) (map[string]any, error)
	LoadFromRemote(js map[string]any) error
}

// Node is an entity that pairs with a local store row: tasks and task
// lists. Metadata entries are deliberately not Nodes; they have no
// local counterpart and the compiler keeps the local operations off
// them.
type Node interface {
	Entity
	LastModified() int64
	LoadFromLocal(c *store.NoteContent) error
	LocalContent() (*store.NoteContent, error)
	DecideSyncAction(row *store.NoteRow) SyncAction
}

// nodeBase carries the state every remote node kind shares. The gid is
// assigned exactly once, either by LoadFromRemote or when a create
// action returns the service-assigned id.
type nodeBase struct {
	gid          string
	name         string
	lastModified int64
	deleted      bool
}

func (n *nodeBase) GID() string {
	return n.gid
}

func (n *nodeBase) SetGID(gid string) {
	n.gid = gid
}

func (n *nodeBase) Name() string {
	return n.name
}

func (n *nodeBase) SetName(name string) {
	n.name = name
}

func (n *nodeBase) LastModified() int64 {
	return n.lastModified
}

func (n *nodeBase) SetLastModified(t int64) {
	n.lastModified = t
}

func (n *nodeBase) Deleted() bool {
	return n.deleted
}

func (n *nodeBase) SetDeleted(deleted bool) {
	n.deleted = deleted
}
