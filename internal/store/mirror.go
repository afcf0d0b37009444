package store

import (
	"context"
	"fmt"
	"sort"

	"notesync/internal/logging"
)

// NoteMirror is a diff-tracked adapter over one notes row. Setters
// record only the columns that actually changed; Commit writes them
// back, optionally conditioned on the optimistic version counter, and
// reloads the row afterwards so the mirror always reflects the store.
type NoteMirror struct {
	store *Store
	isNew bool
	row   NoteRow
	diff  map[string]any
	data  []*DataMirror
}

// NewNoteMirror returns a mirror for a note that does not exist locally
// yet. The first Commit inserts the row and learns its id.
func NewNoteMirror(s *Store) *NoteMirror {
	return &NoteMirror{
		store: s,
		isNew: true,
		diff:  make(map[string]any),
	}
}

// LoadNoteMirror returns a mirror bound to an existing note row and its
// detail rows.
func LoadNoteMirror(ctx context.Context, s *Store, id int64) (*NoteMirror, error) {
	row, err := s.NoteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("note %d not found", id)
	}

	m := &NoteMirror{
		store: s,
		row:   *row,
		diff:  make(map[string]any),
	}
	if err := m.loadData(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *NoteMirror) loadData(ctx context.Context) error {
	rows, err := m.store.DataByNoteID(ctx, m.row.ID)
	if err != nil {
		return err
	}
	m.data = m.data[:0]
	for _, d := range rows {
		m.data = append(m.data, &DataMirror{
			store: m.store,
			row:   *d,
			diff:  make(map[string]any),
		})
	}
	return nil
}

// Row returns the last-loaded state of the mirrored row.
func (m *NoteMirror) Row() *NoteRow {
	return &m.row
}

// ID returns the local id of the mirrored row, or 0 before the first
// Commit of a new mirror.
func (m *NoteMirror) ID() int64 {
	return m.row.ID
}

func (m *NoteMirror) setInt(col string, current int64, v int64) {
	if m.isNew || current != v {
		m.diff[col] = v
	}
}

func (m *NoteMirror) setString(col string, current string, v string) {
	if m.isNew || current != v {
		m.diff[col] = v
	}
}

// SetContent merges a snapshot into the mirror, flagging only the
// fields that differ from the stored row. Detail rows are matched to
// existing data mirrors by id; unmatched entries become inserts.
func (m *NoteMirror) SetContent(c *NoteContent) error {
	n := c.Note
	if n.ID != nil {
		if m.isNew {
			m.diff["id"] = *n.ID
		} else if *n.ID != m.row.ID {
			return fmt.Errorf("snapshot id %d does not match mirrored row %d", *n.ID, m.row.ID)
		}
	}
	if n.ParentID != nil {
		m.setInt("parent_id", m.row.ParentID, *n.ParentID)
	}
	if n.AlertDate != nil {
		m.setInt("alert_date", m.row.AlertDate, *n.AlertDate)
	}
	if n.BgColorID != nil {
		m.setInt("bg_color_id", m.row.BgColorID, *n.BgColorID)
	}
	if n.CreatedDate != nil {
		m.setInt("created_date", m.row.CreatedDate, *n.CreatedDate)
	}
	if n.HasAttachment != nil {
		m.setInt("has_attachment", m.row.HasAttachment, *n.HasAttachment)
	}
	if n.ModifiedDate != nil {
		m.setInt("modified_date", m.row.ModifiedDate, *n.ModifiedDate)
	}
	if n.Snippet != nil {
		m.setString("snippet", m.row.Snippet, *n.Snippet)
	}
	if n.Type != nil {
		m.setInt("type", m.row.Type, *n.Type)
	}
	if n.WidgetID != nil {
		m.setInt("widget_id", m.row.WidgetID, *n.WidgetID)
	}
	if n.WidgetType != nil {
		m.setInt("widget_type", m.row.WidgetType, *n.WidgetType)
	}
	if n.OriginParentID != nil {
		m.setInt("origin_parent_id", m.row.OriginParentID, *n.OriginParentID)
	}

	for _, df := range c.Data {
		var target *DataMirror
		if df.ID != nil {
			for _, dm := range m.data {
				if dm.row.ID == *df.ID {
					target = dm
					break
				}
			}
		}
		if target == nil {
			target = &DataMirror{
				store: m.store,
				isNew: true,
				diff:  make(map[string]any),
			}
			m.data = append(m.data, target)
		}
		target.SetFields(df)
	}
	return nil
}

// SetParentID moves the note under a different folder.
func (m *NoteMirror) SetParentID(id int64) {
	m.setInt("parent_id", m.row.ParentID, id)
}

// SetSnippet updates the displayed snippet.
func (m *NoteMirror) SetSnippet(s string) {
	m.setString("snippet", m.row.Snippet, s)
}

// SetRemoteID pairs the note with a remote entity id.
func (m *NoteMirror) SetRemoteID(gid string) {
	m.setString("remote_id", m.row.RemoteID, gid)
}

// SetSyncID caches the remote logical clock on the row.
func (m *NoteMirror) SetSyncID(syncID int64) {
	m.setInt("sync_id", m.row.SyncID, syncID)
}

// ResetLocalModified clears the local dirty flag after a successful
// push to the remote side.
func (m *NoteMirror) ResetLocalModified() {
	m.setInt("local_modified", m.row.LocalModified, 0)
}

// Dirty reports whether any column changed since the last Commit.
func (m *NoteMirror) Dirty() bool {
	if len(m.diff) > 0 {
		return true
	}
	for _, dm := range m.data {
		if len(dm.diff) > 0 {
			return true
		}
	}
	return false
}

// Commit writes the flagged columns back to the store. When
// validateVersion is set the update is conditioned on the version the
// row had when loaded; a concurrent local edit makes the update match
// zero rows, which is logged and accepted, not retried. The mirror
// reloads from the store after every commit.
func (m *NoteMirror) Commit(ctx context.Context, validateVersion bool) error {
	version := m.row.Version

	if m.isNew {
		id, err := m.insert(ctx)
		if err != nil {
			return err
		}
		m.row.ID = id
	} else if len(m.diff) > 0 {
		cols := sortedKeys(m.diff)
		set := ""
		args := make([]any, 0, len(cols)+2)
		for _, col := range cols {
			if set != "" {
				set += ", "
			}
			set += col + " = ?"
			args = append(args, m.diff[col])
		}
		set += ", version = version + 1"

		query := "UPDATE notes SET " + set + " WHERE id = ?"
		args = append(args, m.row.ID)
		if validateVersion {
			query += " AND version = ?"
			args = append(args, version)
		}

		res, err := m.store.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			logging.Warn("note %d changed concurrently (version %d), keeping local edit", m.row.ID, version)
		}
	}

	for _, dm := range m.data {
		if err := dm.Commit(ctx, m.row.ID, validateVersion, version); err != nil {
			return err
		}
	}

	m.isNew = false
	m.diff = make(map[string]any)

	row, err := m.store.NoteByID(ctx, m.row.ID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("note %d vanished during commit", m.row.ID)
	}
	m.row = *row
	return m.loadData(ctx)
}

func (m *NoteMirror) insert(ctx context.Context) (int64, error) {
	values := map[string]any{
		"created_date":  nowMillis(),
		"modified_date": nowMillis(),
	}
	for col, v := range m.diff {
		values[col] = v
	}

	cols := sortedKeys(values)
	names := ""
	marks := ""
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		if names != "" {
			names += ", "
			marks += ", "
		}
		names += col
		marks += "?"
		args = append(args, values[col])
	}

	res, err := m.store.db.ExecContext(ctx,
		"INSERT INTO notes ("+names+") VALUES ("+marks+")", args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DataMirror is the diff-tracked adapter over one data row.
type DataMirror struct {
	store *Store
	isNew bool
	row   DataRow
	diff  map[string]any
}

// SetFields merges snapshot fields into the mirror.
func (d *DataMirror) SetFields(f DataFields) {
	set := func(col string, current, v any) {
		if d.isNew || current != v {
			d.diff[col] = v
		}
	}
	if f.ID != nil && d.isNew {
		d.diff["id"] = *f.ID
	}
	if f.MimeType != nil {
		set("mime_type", d.row.MimeType, *f.MimeType)
	}
	if f.Content != nil {
		set("content", d.row.Content, *f.Content)
	}
	if f.Data1 != nil {
		set("data1", d.row.Data1, *f.Data1)
	}
	if f.Data3 != nil {
		set("data3", d.row.Data3, *f.Data3)
	}
}

// Commit writes the flagged columns of the detail row. Updates under
// validateVersion are conditioned on the owning note still carrying the
// version the mirror saw, matching the note-level optimistic check.
func (d *DataMirror) Commit(ctx context.Context, noteID int64, validateVersion bool, version int64) error {
	if d.isNew {
		d.diff["note_id"] = noteID

		cols := sortedKeys(d.diff)
		names := ""
		marks := ""
		args := make([]any, 0, len(cols))
		for _, col := range cols {
			if names != "" {
				names += ", "
				marks += ", "
			}
			names += col
			marks += "?"
			args = append(args, d.diff[col])
		}

		res, err := d.store.db.ExecContext(ctx,
			"INSERT INTO data ("+names+") VALUES ("+marks+")", args...)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		d.row.ID = id
	} else if len(d.diff) > 0 {
		cols := sortedKeys(d.diff)
		set := ""
		args := make([]any, 0, len(cols)+3)
		for _, col := range cols {
			if set != "" {
				set += ", "
			}
			set += col + " = ?"
			args = append(args, d.diff[col])
		}

		query := "UPDATE data SET " + set + " WHERE id = ?"
		args = append(args, d.row.ID)
		if validateVersion {
			query += " AND EXISTS (SELECT 1 FROM notes WHERE id = ? AND version = ?)"
			args = append(args, noteID, version)
		}

		res, err := d.store.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			logging.Warn("detail row %d of note %d changed concurrently, keeping local edit", d.row.ID, noteID)
		}
	}

	d.isNew = false
	d.diff = make(map[string]any)

	row := d.store.db.QueryRowContext(ctx,
		"SELECT id, note_id, mime_type, content, data1, data3 FROM data WHERE id = ?", d.row.ID)
	return row.Scan(&d.row.ID, &d.row.NoteID, &d.row.MimeType, &d.row.Content, &d.row.Data1, &d.row.Data3)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
