// Package store is the local SQLite note store: the notes/data schema,
// the queries the sync engine needs, and diff-tracked mirror adapters
// that write back remote state under an optimistic version check.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Note types.
const (
	TypeNote   = 0
	TypeFolder = 1
	TypeSystem = 2
)

// Fixed local ids for system rows.
const (
	RootFolderID  = 0
	TempFolderID  = -1
	CallFolderID  = -2
	TrashFolderID = -3
)

// InvalidID marks a local id reference that could not be resolved.
const InvalidID = -99999

// Store wraps the SQLite database holding notes and their detail rows.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema and the fixed system rows exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the tables if they don't exist and seeds the
// fixed system folder rows.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id INTEGER NOT NULL DEFAULT 0,
			alert_date INTEGER NOT NULL DEFAULT 0,
			bg_color_id INTEGER NOT NULL DEFAULT 0,
			created_date INTEGER NOT NULL DEFAULT 0,
			has_attachment INTEGER NOT NULL DEFAULT 0,
			modified_date INTEGER NOT NULL DEFAULT 0,
			notes_count INTEGER NOT NULL DEFAULT 0,
			snippet TEXT NOT NULL DEFAULT '',
			type INTEGER NOT NULL DEFAULT 0,
			widget_id INTEGER NOT NULL DEFAULT 0,
			widget_type INTEGER NOT NULL DEFAULT -1,
			sync_id INTEGER NOT NULL DEFAULT 0,
			local_modified INTEGER NOT NULL DEFAULT 0,
			origin_parent_id INTEGER NOT NULL DEFAULT 0,
			remote_id TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			note_id INTEGER NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'note',
			content TEXT NOT NULL DEFAULT '',
			data1 INTEGER NOT NULL DEFAULT 0,
			data3 TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (note_id) REFERENCES notes(id)
		);

		CREATE INDEX IF NOT EXISTS idx_notes_parent_id ON notes(parent_id);
		CREATE INDEX IF NOT EXISTS idx_notes_type ON notes(type);
		CREATE INDEX IF NOT EXISTS idx_data_note_id ON data(note_id);
	`

	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Fixed system rows. The root folder is the parent of all top-level
	// notes; trash holds deleted notes until they are purged; the call
	// folder groups call records; the temporary folder parks notes that
	// have no folder yet.
	systemRows := []struct {
		id      int64
		snippet string
	}{
		{RootFolderID, "root"},
		{TempFolderID, "temporary"},
		{CallFolderID, "call_record"},
		{TrashFolderID, "trash"},
	}
	for _, r := range systemRows {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO notes (id, parent_id, type, snippet, created_date, modified_date) VALUES (?, ?, ?, ?, ?, ?)",
			r.id, RootFolderID, TypeSystem, r.snippet, nowMillis(), nowMillis(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// nowMillis returns the current time in milliseconds since the epoch,
// the unit used for all timestamps in the store and on the wire.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// NoteRow is one row of the notes table.
type NoteRow struct {
	ID             int64
	ParentID       int64
	AlertDate      int64
	BgColorID      int64
	CreatedDate    int64
	HasAttachment  int64
	ModifiedDate   int64
	NotesCount     int64
	Snippet        string
	Type           int64
	WidgetID       int64
	WidgetType     int64
	SyncID         int64
	LocalModified  int64
	OriginParentID int64
	RemoteID       string
	Version        int64
}

// DataRow is one row of the data table.
type DataRow struct {
	ID       int64
	NoteID   int64
	MimeType string
	Content  string
	Data1    int64
	Data3    string
}

const noteColumns = "id, parent_id, alert_date, bg_color_id, created_date, has_attachment, modified_date, notes_count, snippet, type, widget_id, widget_type, sync_id, local_modified, origin_parent_id, remote_id, version"

func scanNoteRow(scanner interface{ Scan(dest ...any) error }) (*NoteRow, error) {
	var r NoteRow
	err := scanner.Scan(
		&r.ID, &r.ParentID, &r.AlertDate, &r.BgColorID, &r.CreatedDate,
		&r.HasAttachment, &r.ModifiedDate, &r.NotesCount, &r.Snippet, &r.Type,
		&r.WidgetID, &r.WidgetType, &r.SyncID, &r.LocalModified,
		&r.OriginParentID, &r.RemoteID, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// NoteByID returns the note row with the given id, or nil when absent.
func (s *Store) NoteByID(ctx context.Context, id int64) (*NoteRow, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE id = ?", id)
	r, err := scanNoteRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NoteExists reports whether a note row with the given id exists.
func (s *Store) NoteExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DataExists reports whether a data row with the given id exists.
func (s *Store) DataExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) queryNotes(ctx context.Context, where string, args ...any) ([]*NoteRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*NoteRow
	for rows.Next() {
		r, err := scanNoteRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TrashedNotes returns every non-system row sitting in the trash
// folder. Folders can land there too when another editor moves them.
func (s *Store) TrashedNotes(ctx context.Context) ([]*NoteRow, error) {
	return s.queryNotes(ctx, "type <> ? AND parent_id = ?", TypeSystem, TrashFolderID)
}

// UserFolders returns the user-created folders outside the trash.
func (s *Store) UserFolders(ctx context.Context) ([]*NoteRow, error) {
	return s.queryNotes(ctx, "type = ? AND parent_id <> ?", TypeFolder, TrashFolderID)
}

// VisibleNotes returns the notes that take part in synchronization:
// regular notes outside the trash and the temporary folder.
func (s *Store) VisibleNotes(ctx context.Context) ([]*NoteRow, error) {
	return s.queryNotes(ctx, "type = ? AND parent_id NOT IN (?, ?)",
		TypeNote, TrashFolderID, TempFolderID)
}

// SyncableRows returns every folder and note that takes part in
// synchronization, the rows that end a pass carrying a fresh remote
// clock stamp.
func (s *Store) SyncableRows(ctx context.Context) ([]*NoteRow, error) {
	return s.queryNotes(ctx, "type <> ? AND parent_id NOT IN (?, ?)",
		TypeSystem, TrashFolderID, TempFolderID)
}

// DataByNoteID returns the detail rows for a note ordered by id.
func (s *Store) DataByNoteID(ctx context.Context, noteID int64) ([]*DataRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, note_id, mime_type, content, data1, data3 FROM data WHERE note_id = ? ORDER BY id",
		noteID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*DataRow
	for rows.Next() {
		var d DataRow
		if err := rows.Scan(&d.ID, &d.NoteID, &d.MimeType, &d.Content, &d.Data1, &d.Data3); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// DeleteNotes removes the given note rows and their detail rows in one
// transaction. Used for the batched purge at the end of a sync pass.
func (s *Store) DeleteNotes(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM data WHERE note_id IN ("+placeholders+")", args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM notes WHERE id IN ("+placeholders+")", args...); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateSyncID stamps the cached remote logical clock on a note row
// without touching the local modification flag.
func (s *Store) UpdateSyncID(ctx context.Context, noteID, syncID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notes SET sync_id = ? WHERE id = ?", syncID, noteID)
	return err
}

// firstLine returns the snippet form of a note text.
func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

// CreateNote inserts a user note with one text detail row, marked
// locally modified so the next sync pass picks it up.
func (s *Store) CreateNote(ctx context.Context, parentID int64, text string) (int64, error) {
	now := nowMillis()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO notes (parent_id, snippet, type, created_date, modified_date, local_modified) VALUES (?, ?, ?, ?, ?, 1)",
		parentID, firstLine(text), TypeNote, now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO data (note_id, mime_type, content) VALUES (?, ?, ?)",
		id, MimeNote, text)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateFolder inserts a user folder.
func (s *Store) CreateFolder(ctx context.Context, name string) (int64, error) {
	now := nowMillis()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO notes (parent_id, snippet, type, created_date, modified_date, local_modified) VALUES (?, ?, ?, ?, ?, 1)",
		RootFolderID, name, TypeFolder, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EditNote rewrites the note text, bumps the version, and marks the
// row locally modified.
func (s *Store) EditNote(ctx context.Context, id int64, text string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notes SET snippet = ?, modified_date = ?, local_modified = 1, version = version + 1 WHERE id = ?",
		firstLine(text), nowMillis(), id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE data SET content = ? WHERE note_id = ? AND mime_type = ?",
		text, id, MimeNote)
	return err
}

// TrashNote moves a note into the trash folder, remembering where it
// came from.
func (s *Store) TrashNote(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notes SET origin_parent_id = parent_id, parent_id = ?, modified_date = ?, local_modified = 1, version = version + 1 WHERE id = ?",
		TrashFolderID, nowMillis(), id)
	return err
}

// MoveNote reparents a note and marks it locally modified.
func (s *Store) MoveNote(ctx context.Context, id, parentID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notes SET parent_id = ?, modified_date = ?, local_modified = 1, version = version + 1 WHERE id = ?",
		parentID, nowMillis(), id)
	return err
}

// Stats summarizes the store for status display.
type Stats struct {
	Notes    int64
	Folders  int64
	Trashed  int64
	Unsynced int64
}

// Stats counts notes, user folders, trashed notes, and rows that still
// carry local changes or have never been paired.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		dest  *int64
		where string
		args  []any
	}{
		{&st.Notes, "type = ? AND parent_id NOT IN (?, ?)", []any{TypeNote, TrashFolderID, TempFolderID}},
		{&st.Folders, "type = ? AND parent_id <> ?", []any{TypeFolder, TrashFolderID}},
		{&st.Trashed, "type = ? AND parent_id = ?", []any{TypeNote, TrashFolderID}},
		{&st.Unsynced, "type <> ? AND parent_id NOT IN (?, ?) AND (local_modified <> 0 OR remote_id = '')", []any{TypeSystem, TrashFolderID, TempFolderID}},
	}
	for _, q := range queries {
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM notes WHERE "+q.where, q.args...).Scan(q.dest)
		if err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}

// ClearSyncMarkers resets remote_id and sync_id on every row. Used when
// the remote account changes and the local store must re-pair from
// scratch.
func (s *Store) ClearSyncMarkers(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notes SET remote_id = '', sync_id = 0")
	return err
}
