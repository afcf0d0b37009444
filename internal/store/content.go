package store

import (
	"encoding/json"
	"fmt"
)

// Detail row mime types.
const (
	MimeNote     = "note"
	MimeCallNote = "call_note"
)

// NoteFields is the column-keyed snapshot of a notes row. Every field
// is optional; absent fields keep their store defaults when the
// snapshot is materialized locally.
type NoteFields struct {
	ID             *int64  `json:"id,omitempty"`
	ParentID       *int64  `json:"parent_id,omitempty"`
	AlertDate      *int64  `json:"alert_date,omitempty"`
	BgColorID      *int64  `json:"bg_color_id,omitempty"`
	CreatedDate    *int64  `json:"created_date,omitempty"`
	HasAttachment  *int64  `json:"has_attachment,omitempty"`
	ModifiedDate   *int64  `json:"modified_date,omitempty"`
	Snippet        *string `json:"snippet,omitempty"`
	Type           *int64  `json:"type,omitempty"`
	WidgetID       *int64  `json:"widget_id,omitempty"`
	WidgetType     *int64  `json:"widget_type,omitempty"`
	OriginParentID *int64  `json:"origin_parent_id,omitempty"`
}

// DataFields is the column-keyed snapshot of a data row.
type DataFields struct {
	ID       *int64  `json:"id,omitempty"`
	MimeType *string `json:"mime_type,omitempty"`
	Content  *string `json:"content,omitempty"`
	Data1    *int64  `json:"data1,omitempty"`
	Data3    *string `json:"data3,omitempty"`
}

// NoteContent is the full local snapshot of a note that rides inside
// remote metadata entries: the notes row plus its detail rows.
type NoteContent struct {
	Note NoteFields   `json:"note"`
	Data []DataFields `json:"data,omitempty"`
}

// ParseNoteContent decodes a snapshot produced by Marshal or received
// from the remote side.
func ParseNoteContent(raw []byte) (*NoteContent, error) {
	var c NoteContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing note content snapshot: %w", err)
	}
	return &c, nil
}

// Marshal encodes the snapshot as compact JSON.
func (c *NoteContent) Marshal() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding note content snapshot: %w", err)
	}
	return raw, nil
}

// NoteType returns the note type recorded in the snapshot, defaulting
// to a regular note when absent.
func (c *NoteContent) NoteType() int64 {
	if c.Note.Type != nil {
		return *c.Note.Type
	}
	return TypeNote
}

// FirstContent returns the text of the first detail row, if any. Used
// as the displayed name of a synchronized task.
func (c *NoteContent) FirstContent() (string, bool) {
	for _, d := range c.Data {
		if d.Content != nil {
			return *d.Content, true
		}
	}
	return "", false
}

// Int64 returns a pointer to v. Snapshot construction helper.
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v. Snapshot construction helper.
func String(v string) *string { return &v }

// ContentFromRow builds a snapshot from a note row and its detail rows.
func ContentFromRow(row *NoteRow, data []*DataRow) *NoteContent {
	c := &NoteContent{
		Note: NoteFields{
			ID:             Int64(row.ID),
			ParentID:       Int64(row.ParentID),
			AlertDate:      Int64(row.AlertDate),
			BgColorID:      Int64(row.BgColorID),
			CreatedDate:    Int64(row.CreatedDate),
			HasAttachment:  Int64(row.HasAttachment),
			ModifiedDate:   Int64(row.ModifiedDate),
			Snippet:        String(row.Snippet),
			Type:           Int64(row.Type),
			WidgetID:       Int64(row.WidgetID),
			WidgetType:     Int64(row.WidgetType),
			OriginParentID: Int64(row.OriginParentID),
		},
	}
	for _, d := range data {
		c.Data = append(c.Data, DataFields{
			ID:       Int64(d.ID),
			MimeType: String(d.MimeType),
			Content:  String(d.Content),
			Data1:    Int64(d.Data1),
			Data3:    String(d.Data3),
		})
	}
	return c
}
