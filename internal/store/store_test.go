package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"notesync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestSystemRows tests that opening a store seeds the fixed system folders
func TestSystemRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{store.RootFolderID, store.TempFolderID, store.CallFolderID, store.TrashFolderID} {
		row, err := s.NoteByID(ctx, id)
		if err != nil {
			t.Fatalf("reading system row %d: %v", id, err)
		}
		if row == nil {
			t.Fatalf("system row %d missing", id)
		}
		if row.Type != store.TypeSystem {
			t.Errorf("system row %d has type %d, want %d", id, row.Type, store.TypeSystem)
		}
	}
}

// TestCreateNote tests that a created note carries its text and is flagged locally modified
func TestCreateNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateNote(ctx, store.RootFolderID, "buy milk\nand bread")
	if err != nil {
		t.Fatalf("creating note: %v", err)
	}

	row, err := s.NoteByID(ctx, id)
	if err != nil || row == nil {
		t.Fatalf("reading note: %v", err)
	}
	if row.Snippet != "buy milk" {
		t.Errorf("snippet = %q, want first line", row.Snippet)
	}
	if row.LocalModified == 0 {
		t.Error("new note not flagged locally modified")
	}

	data, err := s.DataByNoteID(ctx, id)
	if err != nil {
		t.Fatalf("reading detail rows: %v", err)
	}
	if len(data) != 1 || data[0].Content != "buy milk\nand bread" {
		t.Errorf("detail rows = %+v, want one row with full text", data)
	}
}

// TestTrashAndQueries tests that trashing a note moves it between query sets
func TestTrashAndQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateNote(ctx, store.RootFolderID, "doomed")
	if err != nil {
		t.Fatalf("creating note: %v", err)
	}

	visible, err := s.VisibleNotes(ctx)
	if err != nil {
		t.Fatalf("visible notes: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("visible notes = %d, want 1", len(visible))
	}

	if err := s.TrashNote(ctx, id); err != nil {
		t.Fatalf("trashing note: %v", err)
	}

	visible, _ = s.VisibleNotes(ctx)
	if len(visible) != 0 {
		t.Errorf("visible notes after trash = %d, want 0", len(visible))
	}
	trashed, err := s.TrashedNotes(ctx)
	if err != nil {
		t.Fatalf("trashed notes: %v", err)
	}
	if len(trashed) != 1 {
		t.Errorf("trashed notes = %d, want 1", len(trashed))
	}
	if trashed[0].OriginParentID != store.RootFolderID {
		t.Errorf("origin parent = %d, want root", trashed[0].OriginParentID)
	}
}

// TestDeleteNotes tests that the batched purge removes notes and their detail rows
func TestDeleteNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateNote(ctx, store.RootFolderID, "a")
	b, _ := s.CreateNote(ctx, store.RootFolderID, "b")

	if err := s.DeleteNotes(ctx, []int64{a, b}); err != nil {
		t.Fatalf("deleting notes: %v", err)
	}

	for _, id := range []int64{a, b} {
		row, err := s.NoteByID(ctx, id)
		if err != nil {
			t.Fatalf("reading note: %v", err)
		}
		if row != nil {
			t.Errorf("note %d still present after purge", id)
		}
		data, _ := s.DataByNoteID(ctx, id)
		if len(data) != 0 {
			t.Errorf("detail rows of %d still present after purge", id)
		}
	}
}

// TestStats tests the status counters
func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateNote(ctx, store.RootFolderID, "one"); err != nil {
		t.Fatal(err)
	}
	id, _ := s.CreateNote(ctx, store.RootFolderID, "two")
	if err := s.TrashNote(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateFolder(ctx, "work"); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Notes != 1 || stats.Trashed != 1 || stats.Folders != 1 {
		t.Errorf("stats = %+v, want 1 note, 1 trashed, 1 folder", stats)
	}
	if stats.Unsynced != 2 {
		t.Errorf("unsynced = %d, want 2 (note and folder)", stats.Unsynced)
	}
}
