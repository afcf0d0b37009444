package sync_test

import (
	"context"
	"path/filepath"
	"testing"

	"notesync/internal/remote"
	"notesync/internal/store"
	"notesync/internal/sync"
)

func newSyncFixture(t *testing.T) (*store.Store, *remote.MockServer) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	srv := remote.NewMockServer()
	t.Cleanup(srv.Close)
	return st, srv
}

func runPass(t *testing.T, st *store.Store, srv *remote.MockServer) {
	t.Helper()

	client, err := remote.NewClient(remote.Options{
		BaseURL:           srv.URL,
		Tokens:            remote.StaticToken("tok"),
		MaxPendingUpdates: 10,
	})
	if err != nil {
		t.Fatalf("building client: %v", err)
	}

	status, err := sync.NewManager(st, client, nil).Sync(context.Background())
	if status != sync.StatusSuccess {
		t.Fatalf("pass finished with %v: %v", status, err)
	}
}

// TestPushNewNote tests that a fresh local note reaches the remote side with
// its metadata and comes back paired
func TestPushNewNote(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	id, err := st.CreateNote(ctx, store.RootFolderID, "shopping list")
	if err != nil {
		t.Fatal(err)
	}

	runPass(t, st, srv)

	defaultList := srv.ListByName(remote.DefaultListName)
	if defaultList == nil {
		t.Fatal("default list was not created remotely")
	}
	if len(defaultList.Tasks) != 1 || defaultList.Tasks[0].Name != "shopping list" {
		t.Fatalf("default list tasks = %+v, want the pushed note", defaultList.Tasks)
	}

	metaList := srv.ListByName(remote.MetaListName)
	if metaList == nil {
		t.Fatal("metadata list was not created remotely")
	}
	if len(metaList.Tasks) != 1 {
		t.Fatalf("metadata entries = %d, want 1", len(metaList.Tasks))
	}

	row, err := st.NoteByID(ctx, id)
	if err != nil || row == nil {
		t.Fatalf("reading note: %v", err)
	}
	if row.RemoteID == "" {
		t.Error("note not paired with a remote id")
	}
	if row.LocalModified != 0 {
		t.Error("local modified flag not cleared after push")
	}
	if row.SyncID == 0 {
		t.Error("remote clock not stamped after the pass")
	}
}

// TestSecondPassIsQuiet tests that an immediately repeated pass changes nothing
// on either side
func TestSecondPassIsQuiet(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	id, err := st.CreateNote(ctx, store.RootFolderID, "stable note")
	if err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)

	rowBefore, _ := st.NoteByID(ctx, id)
	task := srv.TaskByID(rowBefore.RemoteID)
	clockBefore := task.LastModified

	runPass(t, st, srv)

	rowAfter, _ := st.NoteByID(ctx, id)
	if rowAfter.Version != rowBefore.Version {
		t.Errorf("version changed %d -> %d on a quiet pass", rowBefore.Version, rowAfter.Version)
	}
	if rowAfter.SyncID != rowBefore.SyncID {
		t.Errorf("sync id changed %d -> %d on a quiet pass", rowBefore.SyncID, rowAfter.SyncID)
	}
	if got := srv.TaskByID(rowAfter.RemoteID); got.LastModified != clockBefore {
		t.Errorf("remote clock changed %d -> %d on a quiet pass", clockBefore, got.LastModified)
	}
	if list := srv.ListByName(remote.DefaultListName); len(list.Tasks) != 1 {
		t.Errorf("task count changed on a quiet pass: %d", len(list.Tasks))
	}
}

// TestPullRemoteNote tests that an unclaimed remote task materializes locally
// and its metadata learns the new local ids
func TestPullRemoteNote(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	listGID := srv.AddList(remote.FolderPrefix + "Ideas")
	srv.AddTask(listGID, "from another device", "")

	runPass(t, st, srv)

	folders, err := st.UserFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 1 || folders[0].Snippet != "Ideas" {
		t.Fatalf("folders = %+v, want one named Ideas without the prefix", folders)
	}

	notes, err := st.VisibleNotes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(notes))
	}
	if notes[0].ParentID != folders[0].ID {
		t.Errorf("note parent = %d, want the materialized folder %d", notes[0].ParentID, folders[0].ID)
	}

	data, _ := st.DataByNoteID(ctx, notes[0].ID)
	if len(data) != 1 || data[0].Content != "from another device" {
		t.Errorf("note text = %+v, want the remote task name", data)
	}

	metaList := srv.ListByName(remote.MetaListName)
	if metaList == nil || len(metaList.Tasks) != 1 {
		t.Fatal("metadata entry for the pulled task was not created")
	}
}

// TestTrashPurge tests that a trashed note deletes its remote counterpart,
// metadata included, and is purged locally
func TestTrashPurge(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	id, err := st.CreateNote(ctx, store.RootFolderID, "doomed")
	if err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)

	row, _ := st.NoteByID(ctx, id)
	gid := row.RemoteID

	if err := st.TrashNote(ctx, id); err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)

	if task := srv.TaskByID(gid); task == nil || !task.Deleted {
		t.Error("remote task not soft-deleted")
	}
	metaList := srv.ListByName(remote.MetaListName)
	for _, m := range metaList.Tasks {
		if !m.Deleted {
			t.Error("metadata entry not deleted with its task")
		}
	}

	if row, _ := st.NoteByID(ctx, id); row != nil {
		t.Error("trashed note not purged locally after the remote delete")
	}
}

// TestNeverSyncedTrashPurge tests that a note trashed before it ever synced
// is still purged by the next pass
func TestNeverSyncedTrashPurge(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	id, err := st.CreateNote(ctx, store.RootFolderID, "trashed at birth")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.TrashNote(ctx, id); err != nil {
		t.Fatal(err)
	}

	runPass(t, st, srv)

	if row, _ := st.NoteByID(ctx, id); row != nil {
		t.Error("never-synced trashed note survived the pass")
	}
	trashed, err := st.TrashedNotes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(trashed) != 0 {
		t.Errorf("trash holds %d row(s) after an uninterrupted pass, want 0", len(trashed))
	}
}

// TestTrashedFolderPurge tests that a folder landed in the trash is purged
// like any other trashed row
func TestTrashedFolderPurge(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	folderID, err := st.CreateFolder(ctx, "abandoned")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.TrashNote(ctx, folderID); err != nil {
		t.Fatal(err)
	}

	runPass(t, st, srv)

	if row, _ := st.NoteByID(ctx, folderID); row != nil {
		t.Error("trashed folder survived the pass")
	}
}

// TestRemoteEditFlowsDown tests that a remote-only edit updates the local text
func TestRemoteEditFlowsDown(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	id, err := st.CreateNote(ctx, store.RootFolderID, "original")
	if err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)

	row, _ := st.NoteByID(ctx, id)
	srv.TouchTask(row.RemoteID, "edited remotely")

	runPass(t, st, srv)

	data, _ := st.DataByNoteID(ctx, id)
	if len(data) == 0 || data[0].Content != "edited remotely" {
		t.Fatalf("note text = %+v, want the remote edit", data)
	}
	rowAfter, _ := st.NoteByID(ctx, id)
	if rowAfter.LocalModified != 0 {
		t.Error("pull left the local modified flag set")
	}
}

// TestConflictLocalWins tests the fixed conflict policy: changes on both sides
// resolve by pushing the local state
func TestConflictLocalWins(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	id, err := st.CreateNote(ctx, store.RootFolderID, "original")
	if err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)

	row, _ := st.NoteByID(ctx, id)
	srv.TouchTask(row.RemoteID, "remote version")
	if err := st.EditNote(ctx, id, "local version"); err != nil {
		t.Fatal(err)
	}

	runPass(t, st, srv)

	if task := srv.TaskByID(row.RemoteID); task.Name != "local version" {
		t.Errorf("remote name = %q, local edit should win the conflict", task.Name)
	}
	data, _ := st.DataByNoteID(ctx, id)
	if data[0].Content != "local version" {
		t.Errorf("local text = %q, should be untouched by the conflict", data[0].Content)
	}
}

// TestFolderMoveFlowsUp tests that reparenting a note issues a remote move
func TestFolderMoveFlowsUp(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	folderID, err := st.CreateFolder(ctx, "work")
	if err != nil {
		t.Fatal(err)
	}
	noteID, err := st.CreateNote(ctx, folderID, "meeting notes")
	if err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)

	workList := srv.ListByName(remote.FolderPrefix + "work")
	if workList == nil || len(workList.Tasks) != 1 {
		t.Fatalf("work list tasks = %+v, want the note", workList)
	}

	if err := st.MoveNote(ctx, noteID, store.RootFolderID); err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)

	workList = srv.ListByName(remote.FolderPrefix + "work")
	if len(workList.Tasks) != 0 {
		t.Error("task still in the old list after the move")
	}
	defaultList := srv.ListByName(remote.DefaultListName)
	if len(defaultList.Tasks) != 1 {
		t.Error("task not in the destination list after the move")
	}
}

// TestRemoteDeleteFlowsDown tests that a note whose remote counterpart
// vanished is removed locally
func TestRemoteDeleteFlowsDown(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	id, err := st.CreateNote(ctx, store.RootFolderID, "short-lived")
	if err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)

	row, _ := st.NoteByID(ctx, id)
	if task := srv.TaskByID(row.RemoteID); task != nil {
		task.Deleted = true
	}

	runPass(t, st, srv)

	if row, _ := st.NoteByID(ctx, id); row != nil {
		t.Error("note not removed after its remote counterpart was deleted")
	}
}

// TestDuplicateReservedListRepairs tests that an unclaimed reserved list
// re-pairs with its fixed system folder instead of becoming a user folder
func TestDuplicateReservedListRepairs(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	srv.AddList(remote.DefaultListName)
	runPass(t, st, srv)

	// A second device re-pairing from scratch leaves a duplicate
	// default list behind.
	dupGID := srv.AddList(remote.DefaultListName)
	runPass(t, st, srv)

	folders, err := st.UserFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 0 {
		t.Fatalf("folders = %+v, a reserved list must not become a user folder", folders)
	}
	root, _ := st.NoteByID(ctx, store.RootFolderID)
	if root.RemoteID != dupGID {
		t.Errorf("root folder remote id = %q, want re-paired to %q", root.RemoteID, dupGID)
	}
}

// TestCancelledMidPassKeepsTrash tests that cancelling before the local
// delete flush leaves the queued rows in place
func TestCancelledMidPassKeepsTrash(t *testing.T) {
	st, srv := newSyncFixture(t)
	ctx := context.Background()

	id, err := st.CreateNote(ctx, store.RootFolderID, "lingering")
	if err != nil {
		t.Fatal(err)
	}
	runPass(t, st, srv)
	if err := st.TrashNote(ctx, id); err != nil {
		t.Fatal(err)
	}

	client, err := remote.NewClient(remote.Options{
		BaseURL: srv.URL,
		Tokens:  remote.StaticToken("tok"),
	})
	if err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	mgr := sync.NewManager(st, client, func(msg string) {
		if msg == "syncing notes" {
			cancel()
		}
	})

	status, _ := mgr.Sync(cancelCtx)
	if status != sync.StatusCancelled {
		t.Fatalf("status = %v, want cancelled", status)
	}
	if row, _ := st.NoteByID(ctx, id); row == nil {
		t.Error("trashed row purged by a cancelled pass")
	}
}

// TestCancelledPass tests that cancellation surfaces as the cancelled status
func TestCancelledPass(t *testing.T) {
	st, srv := newSyncFixture(t)

	client, err := remote.NewClient(remote.Options{
		BaseURL: srv.URL,
		Tokens:  remote.StaticToken("tok"),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := sync.NewManager(st, client, nil).Sync(ctx)
	if status != sync.StatusCancelled {
		t.Fatalf("status = %v (%v), want cancelled", status, err)
	}
}
