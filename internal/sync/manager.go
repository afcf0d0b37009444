// Package sync reconciles the local note store with the remote task
// service: one full bidirectional pass at a time, local wins on
// conflict, cooperative cancellation via context.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notesync/internal/logging"
	"notesync/internal/remote"
	"notesync/internal/store"
)

// Status is the outcome of a sync pass.
type Status int

const (
	// StatusSuccess means the pass completed.
	StatusSuccess Status = iota
	// StatusNetworkError means the pass aborted on a transport
	// failure and may be retried.
	StatusNetworkError
	// StatusInternalError means the pass aborted on a protocol or
	// store failure.
	StatusInternalError
	// StatusInProgress means a pass was rejected because one is
	// already running.
	StatusInProgress
	// StatusCancelled means the pass was cancelled cooperatively.
	StatusCancelled
)

// String returns a short name for display.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNetworkError:
		return "network error"
	case StatusInternalError:
		return "internal error"
	case StatusInProgress:
		return "in progress"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Manager runs one full synchronization pass. It is built fresh per
// invocation and never reused; every registry below is scoped to a
// single pass.
type Manager struct {
	store    *store.Store
	client   *remote.Client
	progress func(string)

	metaList  *remote.TaskList
	gidToNode map[string]remote.Node
	gidToList map[string]*remote.TaskList
	gidToMeta map[string]*remote.MetaData
	gidToNid  map[string]int64
	nidToGid  map[int64]string

	localDeleteIDs []int64
}

// NewManager builds a manager over an open store and an unconnected
// client. onProgress may be nil.
func NewManager(s *store.Store, c *remote.Client, onProgress func(string)) *Manager {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	return &Manager{
		store:    s,
		client:   c,
		progress: onProgress,
	}
}

func (m *Manager) reset() {
	m.metaList = nil
	m.gidToNode = make(map[string]remote.Node)
	m.gidToList = make(map[string]*remote.TaskList)
	m.gidToMeta = make(map[string]*remote.MetaData)
	m.gidToNid = make(map[string]int64)
	m.nidToGid = make(map[int64]string)
	m.localDeleteIDs = nil
}

// Sync runs the full pass and classifies the outcome.
func (m *Manager) Sync(ctx context.Context) (Status, error) {
	m.reset()
	defer m.reset()

	err := m.run(ctx)
	switch {
	case err == nil:
		return StatusSuccess, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled, err
	case remote.IsNetworkError(err):
		return StatusNetworkError, err
	default:
		return StatusInternalError, err
	}
}

func (m *Manager) run(ctx context.Context) error {
	m.progress("logging in")
	if err := m.client.Login(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.progress("pulling remote state")
	if err := m.initRemoteTree(ctx); err != nil {
		return err
	}

	return m.syncContent(ctx)
}

// initRemoteTree pulls the remote lists and their tasks into the pass
// registries. The reserved metadata list is processed first so every
// task can carry its snapshot; a missing metadata list is created on
// the spot.
func (m *Manager) initRemoteTree(ctx context.Context) error {
	lists, err := m.client.GetTaskLists(ctx)
	if err != nil {
		return err
	}

	for _, l := range lists {
		if l.Name() == remote.MetaListName {
			m.metaList = l
			break
		}
	}
	if m.metaList != nil {
		entries, err := m.client.GetTaskList(ctx, m.metaList.GID())
		if err != nil {
			return err
		}
		for _, js := range entries {
			meta := remote.NewMetaData()
			if err := meta.LoadFromRemote(js); err != nil {
				return err
			}
			meta.SetList(m.metaList)
			if meta.Deleted() || meta.RelatedGID() == "" {
				logging.Debug("skipping unusable metadata entry %s", meta.GID())
				continue
			}
			m.gidToMeta[meta.RelatedGID()] = meta
		}
	} else {
		l := remote.NewTaskList()
		l.SetName(remote.MetaListName)
		if err := m.client.Create(ctx, l); err != nil {
			return err
		}
		m.metaList = l
	}

	for _, l := range lists {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := l.Name()
		if l == m.metaList || name == remote.MetaListName || !strings.HasPrefix(name, remote.FolderPrefix) {
			continue
		}

		m.gidToNode[l.GID()] = l
		m.gidToList[l.GID()] = l

		tasks, err := m.client.GetTaskList(ctx, l.GID())
		if err != nil {
			return err
		}
		for _, js := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			t := remote.NewTask()
			if err := t.LoadFromRemote(js); err != nil {
				return err
			}
			if meta := m.gidToMeta[t.GID()]; meta != nil {
				t.SetMetaInfo(meta.Snapshot())
			}
			if !t.WorthSaving() {
				continue
			}
			l.AddChild(t)
			m.gidToNode[t.GID()] = t
		}
	}
	return nil
}

func (m *Manager) syncContent(ctx context.Context) error {
	m.localDeleteIDs = nil

	m.progress("purging trashed notes")
	trashed, err := m.store.TrashedNotes(ctx)
	if err != nil {
		return err
	}
	for _, row := range trashed {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, ok := m.gidToNode[row.RemoteID]
		if !ok {
			// Never synced, or the counterpart already vanished. The
			// local row is still purged at the end of the pass.
			m.localDeleteIDs = append(m.localDeleteIDs, row.ID)
			continue
		}
		delete(m.gidToNode, row.RemoteID)
		if err := m.doAction(ctx, remote.ActionDelRemote, node, row); err != nil {
			return err
		}
	}

	m.progress("syncing folders")
	if err := m.syncFolders(ctx); err != nil {
		return err
	}

	m.progress("syncing notes")
	visible, err := m.store.VisibleNotes(ctx)
	if err != nil {
		return err
	}
	for _, row := range visible {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, ok := m.gidToNode[row.RemoteID]
		if ok {
			delete(m.gidToNode, row.RemoteID)
			m.gidToNid[row.RemoteID] = row.ID
			m.nidToGid[row.ID] = row.RemoteID
			if err := m.doAction(ctx, node.DecideSyncAction(row), node, row); err != nil {
				return err
			}
			continue
		}
		// No remote counterpart. A never-synced note goes up; a note
		// whose counterpart vanished was deleted remotely.
		if row.RemoteID == "" {
			if err := m.doAction(ctx, remote.ActionAddRemote, nil, row); err != nil {
				return err
			}
		} else {
			if err := m.doAction(ctx, remote.ActionDelLocal, nil, row); err != nil {
				return err
			}
		}
	}

	// Whatever the remote side has that nothing local claimed comes
	// down.
	for gid, node := range m.gidToNode {
		if err := ctx.Err(); err != nil {
			return err
		}
		delete(m.gidToNode, gid)
		if err := m.doAction(ctx, remote.ActionAddLocal, node, nil); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.store.DeleteNotes(ctx, m.localDeleteIDs); err != nil {
		return err
	}
	m.localDeleteIDs = nil

	if err := m.client.CommitUpdate(ctx); err != nil {
		return err
	}

	m.progress("refreshing sync marks")
	return m.refreshLocalSyncIDs(ctx)
}

// syncFolders reconciles the system folders by fixed local id, then
// the user folders, then materializes remote lists nothing claimed.
func (m *Manager) syncFolders(ctx context.Context) error {
	if err := m.syncSystemFolder(ctx, store.RootFolderID, remote.DefaultListName); err != nil {
		return err
	}
	if err := m.syncSystemFolder(ctx, store.CallFolderID, remote.CallNoteListName); err != nil {
		return err
	}

	folders, err := m.store.UserFolders(ctx)
	if err != nil {
		return err
	}
	for _, row := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, ok := m.gidToNode[row.RemoteID]
		if ok {
			delete(m.gidToNode, row.RemoteID)
			m.gidToNid[row.RemoteID] = row.ID
			m.nidToGid[row.ID] = row.RemoteID
			if err := m.doAction(ctx, node.DecideSyncAction(row), node, row); err != nil {
				return err
			}
		} else {
			// Folders are never deleted from here; an unmatched one
			// is pushed back up, reusing a same-named remote list if
			// one exists.
			if err := m.doAction(ctx, remote.ActionAddRemote, nil, row); err != nil {
				return err
			}
		}
	}

	// Remote lists nothing local claimed become local folders.
	for gid, node := range m.gidToNode {
		if _, ok := node.(*remote.TaskList); !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		delete(m.gidToNode, gid)
		if err := m.doAction(ctx, remote.ActionAddLocal, node, nil); err != nil {
			return err
		}
	}

	return m.client.CommitUpdate(ctx)
}

// syncSystemFolder pairs a fixed-id local system folder with its
// reserved remote list. The local name is authoritative; the remote
// side is only touched when its name drifted.
func (m *Manager) syncSystemFolder(ctx context.Context, localID int64, reservedName string) error {
	row, err := m.store.NoteByID(ctx, localID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	node, ok := m.gidToNode[row.RemoteID]
	if ok {
		delete(m.gidToNode, row.RemoteID)
		m.gidToNid[row.RemoteID] = row.ID
		m.nidToGid[row.ID] = row.RemoteID
		if node.Name() != reservedName {
			return m.doAction(ctx, remote.ActionUpdateRemote, node, row)
		}
		return nil
	}
	return m.doAction(ctx, remote.ActionAddRemote, nil, row)
}

// doAction applies one reconciliation decision.
func (m *Manager) doAction(ctx context.Context, action remote.SyncAction, node remote.Node, row *store.NoteRow) error {
	if action != remote.ActionNone {
		name := ""
		if node != nil {
			name = node.Name()
		} else if row != nil {
			name = row.Snippet
		}
		logging.Debug("sync action %s for %q", action, name)
	}

	switch action {
	case remote.ActionNone:
		return nil
	case remote.ActionAddRemote:
		return m.addRemoteNode(ctx, row)
	case remote.ActionAddLocal:
		return m.addLocalNode(ctx, node)
	case remote.ActionDelRemote:
		return m.deleteRemoteNode(ctx, node, row)
	case remote.ActionDelLocal:
		m.localDeleteIDs = append(m.localDeleteIDs, row.ID)
		return nil
	case remote.ActionUpdateRemote, remote.ActionUpdateConflict:
		// Conflicts resolve by pushing the local state.
		return m.updateRemoteNode(ctx, node, row)
	case remote.ActionUpdateLocal:
		return m.updateLocalNode(ctx, node, row)
	default:
		return &remote.ActionError{Msg: fmt.Sprintf("unreconcilable state for local row %d", rowID(row))}
	}
}

func rowID(row *store.NoteRow) int64 {
	if row == nil {
		return store.InvalidID
	}
	return row.ID
}

// snapshotFromRow builds the full local snapshot for a row.
func (m *Manager) snapshotFromRow(ctx context.Context, row *store.NoteRow) (*store.NoteContent, error) {
	var data []*store.DataRow
	if row.Type == store.TypeNote {
		var err error
		data, err = m.store.DataByNoteID(ctx, row.ID)
		if err != nil {
			return nil, err
		}
	}
	return store.ContentFromRow(row, data), nil
}

// addRemoteNode pushes a local row that has no remote counterpart yet.
func (m *Manager) addRemoteNode(ctx context.Context, row *store.NoteRow) error {
	content, err := m.snapshotFromRow(ctx, row)
	if err != nil {
		return err
	}

	var gid string
	if row.Type == store.TypeNote {
		task := remote.NewTask()
		if err := task.LoadFromLocal(content); err != nil {
			return err
		}

		parentGID, ok := m.nidToGid[row.ParentID]
		if !ok {
			return &remote.ActionError{Msg: fmt.Sprintf("note %d: parent folder %d has not synchronized", row.ID, row.ParentID)}
		}
		parent := m.gidToList[parentGID]
		if parent == nil {
			return &remote.ActionError{Msg: fmt.Sprintf("note %d: parent list %s is not registered", row.ID, parentGID)}
		}
		parent.AddChild(task)

		if err := m.client.Create(ctx, task); err != nil {
			return err
		}
		gid = task.GID()

		if err := m.updateRemoteMeta(ctx, gid, content); err != nil {
			return err
		}
	} else {
		list := remote.NewTaskList()
		if err := list.LoadFromLocal(content); err != nil {
			return err
		}

		// A same-named list already on the remote side is reused
		// instead of duplicated.
		var existing *remote.TaskList
		for g, n := range m.gidToNode {
			if l, ok := n.(*remote.TaskList); ok && l.Name() == list.Name() {
				existing = l
				delete(m.gidToNode, g)
				break
			}
		}
		if existing != nil {
			list = existing
		} else {
			if err := m.client.Create(ctx, list); err != nil {
				return err
			}
		}
		gid = list.GID()
		m.gidToList[gid] = list
	}

	mirror, err := store.LoadNoteMirror(ctx, m.store, row.ID)
	if err != nil {
		return err
	}
	mirror.SetRemoteID(gid)
	mirror.ResetLocalModified()
	if err := mirror.Commit(ctx, false); err != nil {
		return err
	}

	m.gidToNid[gid] = row.ID
	m.nidToGid[row.ID] = gid
	return nil
}

// systemFolderID maps a reserved list name to its fixed local folder.
func systemFolderID(name string) (int64, bool) {
	switch name {
	case remote.DefaultListName:
		return store.RootFolderID, true
	case remote.CallNoteListName:
		return store.CallFolderID, true
	}
	return 0, false
}

// addLocalNode materializes a remote node that nothing local claimed.
func (m *Manager) addLocalNode(ctx context.Context, node remote.Node) error {
	// A reserved list nothing claimed means the pairing went stale;
	// it re-pairs with its fixed system folder instead of turning
	// into a user folder.
	if list, ok := node.(*remote.TaskList); ok {
		if fixedID, ok := systemFolderID(list.Name()); ok {
			mirror, err := store.LoadNoteMirror(ctx, m.store, fixedID)
			if err != nil {
				return err
			}
			mirror.SetRemoteID(list.GID())
			if err := mirror.Commit(ctx, false); err != nil {
				return err
			}
			m.gidToList[list.GID()] = list
			m.gidToNid[list.GID()] = fixedID
			m.nidToGid[fixedID] = list.GID()
			return nil
		}
	}

	content, err := node.LocalContent()
	if err != nil {
		return err
	}

	mirror := store.NewNoteMirror(m.store)
	parentID := int64(store.RootFolderID)

	if task, ok := node.(*remote.Task); ok {
		// Ids embedded in the snapshot belong to the device that
		// uploaded it. Anything already taken here is scrubbed so the
		// insert allocates fresh ones.
		if content.Note.ID != nil {
			taken, err := m.store.NoteExists(ctx, *content.Note.ID)
			if err != nil {
				return err
			}
			if taken {
				content.Note.ID = nil
			}
		}
		for i := range content.Data {
			if content.Data[i].ID == nil {
				continue
			}
			taken, err := m.store.DataExists(ctx, *content.Data[i].ID)
			if err != nil {
				return err
			}
			if taken {
				content.Data[i].ID = nil
			}
		}
		content.Note.ParentID = nil

		if task.Parent() == nil {
			return &remote.ActionError{Msg: fmt.Sprintf("remote task %s has no parent list", task.GID())}
		}
		pid, ok := m.gidToNid[task.Parent().GID()]
		if !ok {
			return &remote.ActionError{Msg: fmt.Sprintf("remote task %s: parent list %s has not synchronized", task.GID(), task.Parent().GID())}
		}
		parentID = pid
	}

	if err := mirror.SetContent(content); err != nil {
		return err
	}
	mirror.SetParentID(parentID)
	mirror.SetRemoteID(node.GID())
	if err := mirror.Commit(ctx, false); err != nil {
		return err
	}

	m.gidToNid[node.GID()] = mirror.ID()
	m.nidToGid[mirror.ID()] = node.GID()
	if list, ok := node.(*remote.TaskList); ok {
		m.gidToList[list.GID()] = list
	}

	if _, ok := node.(*remote.Task); ok {
		// The snapshot on the remote side now records this device's
		// row ids.
		fresh, err := m.snapshotFromRow(ctx, mirror.Row())
		if err != nil {
			return err
		}
		return m.updateRemoteMeta(ctx, node.GID(), fresh)
	}
	return nil
}

// updateRemoteNode pushes local changes over the remote node.
func (m *Manager) updateRemoteNode(ctx context.Context, node remote.Node, row *store.NoteRow) error {
	content, err := m.snapshotFromRow(ctx, row)
	if err != nil {
		return err
	}
	if err := node.LoadFromLocal(content); err != nil {
		return err
	}
	if err := m.client.AddUpdate(ctx, node); err != nil {
		return err
	}

	if task, ok := node.(*remote.Task); ok {
		if err := m.updateRemoteMeta(ctx, node.GID(), content); err != nil {
			return err
		}

		// The note moved between folders locally; mirror the move.
		curGID, ok := m.nidToGid[row.ParentID]
		if !ok {
			return &remote.ActionError{Msg: fmt.Sprintf("note %d: parent folder %d has not synchronized", row.ID, row.ParentID)}
		}
		if task.Parent() != nil && task.Parent().GID() != curGID {
			from := task.Parent()
			to := m.gidToList[curGID]
			if to == nil {
				return &remote.ActionError{Msg: fmt.Sprintf("note %d: destination list %s is not registered", row.ID, curGID)}
			}
			to.AddChild(task)
			if err := m.client.MoveTask(ctx, task, from, to); err != nil {
				return err
			}
		}
	}

	mirror, err := store.LoadNoteMirror(ctx, m.store, row.ID)
	if err != nil {
		return err
	}
	mirror.ResetLocalModified()
	return mirror.Commit(ctx, true)
}

// updateLocalNode applies remote changes to the paired local row.
func (m *Manager) updateLocalNode(ctx context.Context, node remote.Node, row *store.NoteRow) error {
	content, err := node.LocalContent()
	if err != nil {
		return err
	}

	mirror, err := store.LoadNoteMirror(ctx, m.store, row.ID)
	if err != nil {
		return err
	}
	if err := mirror.SetContent(content); err != nil {
		return err
	}

	if task, ok := node.(*remote.Task); ok {
		if task.Parent() == nil {
			return &remote.ActionError{Msg: fmt.Sprintf("remote task %s has no parent list", task.GID())}
		}
		pid, ok := m.gidToNid[task.Parent().GID()]
		if !ok {
			return &remote.ActionError{Msg: fmt.Sprintf("remote task %s: parent list %s has not synchronized", task.GID(), task.Parent().GID())}
		}
		mirror.SetParentID(pid)
	}

	// The remote side is authoritative here; a concurrent local edit
	// must not suppress the write, it gets reconciled next pass.
	if err := mirror.Commit(ctx, false); err != nil {
		return err
	}

	if row.Type == store.TypeNote {
		fresh, err := m.snapshotFromRow(ctx, mirror.Row())
		if err != nil {
			return err
		}
		return m.updateRemoteMeta(ctx, node.GID(), fresh)
	}
	return nil
}

// deleteRemoteNode deletes the remote counterpart of a trashed local
// row, metadata entry first, and queues the row for the local purge.
func (m *Manager) deleteRemoteNode(ctx context.Context, node remote.Node, row *store.NoteRow) error {
	if meta := m.gidToMeta[node.GID()]; meta != nil {
		if err := m.client.Delete(ctx, meta); err != nil {
			return err
		}
		delete(m.gidToMeta, node.GID())
	}
	if err := m.client.Delete(ctx, node); err != nil {
		return err
	}
	if task, ok := node.(*remote.Task); ok && task.Parent() != nil {
		task.Parent().RemoveChild(task)
	}

	m.localDeleteIDs = append(m.localDeleteIDs, row.ID)
	return nil
}

// updateRemoteMeta creates or rewrites the metadata entry carrying a
// task's local snapshot.
func (m *Manager) updateRemoteMeta(ctx context.Context, gid string, content *store.NoteContent) error {
	if meta := m.gidToMeta[gid]; meta != nil {
		if err := meta.SetMeta(gid, content); err != nil {
			return err
		}
		return m.client.AddUpdate(ctx, meta)
	}

	meta := remote.NewMetaData()
	if err := meta.SetMeta(gid, content); err != nil {
		return err
	}
	meta.SetList(m.metaList)
	if err := m.client.Create(ctx, meta); err != nil {
		return err
	}
	m.gidToMeta[gid] = meta
	return nil
}

// refreshLocalSyncIDs re-pulls the remote tree and stamps every synced
// row with its node's logical clock, so an immediately following pass
// sees both sides unchanged.
func (m *Manager) refreshLocalSyncIDs(ctx context.Context) error {
	m.gidToNode = make(map[string]remote.Node)
	m.gidToList = make(map[string]*remote.TaskList)
	m.gidToMeta = make(map[string]*remote.MetaData)
	m.metaList = nil

	if err := m.initRemoteTree(ctx); err != nil {
		return err
	}

	rows, err := m.store.SyncableRows(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, ok := m.gidToNode[row.RemoteID]
		if !ok {
			return &remote.ActionError{Msg: fmt.Sprintf("row %d (%s) has no remote counterpart after the pass", row.ID, row.RemoteID)}
		}
		delete(m.gidToNode, row.RemoteID)
		if err := m.store.UpdateSyncID(ctx, row.ID, node.LastModified()); err != nil {
			return err
		}
	}
	return nil
}
