package remote

import (
	"encoding/json"

	"notesync/internal/store"
)

// metaPayload is the JSON carried in a metadata entry's notes field:
// the gid of the entity it describes plus the full local snapshot.
type metaPayload struct {
	RelatedGID string             `json:"meta_gid"`
	Snapshot   *store.NoteContent `json:"snapshot,omitempty"`
}

// MetaData is a remote entry in the reserved metadata list carrying
// the local snapshot of one task. It has no local counterpart, so it
// is an Entity but not a Node: the local-pairing operations do not
// exist on this type.
type MetaData struct {
	nodeBase
	notes      string
	relatedGID string
	snapshot   *store.NoteContent
	list       *TaskList
}

var _ Entity = (*MetaData)(nil)

// NewMetaData returns an empty metadata entry.
func NewMetaData() *MetaData {
	return &MetaData{}
}

// RelatedGID returns the gid of the entity this entry describes.
func (m *MetaData) RelatedGID() string {
	return m.relatedGID
}

// Snapshot returns the local snapshot carried by this entry, nil when
// the entry is malformed.
func (m *MetaData) Snapshot() *store.NoteContent {
	return m.snapshot
}

// SetList attaches the entry to the reserved metadata list it is
// created in.
func (m *MetaData) SetList(l *TaskList) {
	m.list = l
}

// SetMeta binds the entry to an entity and embeds its local snapshot.
// The display name is always the fixed warning marker.
func (m *MetaData) SetMeta(relatedGID string, snapshot *store.NoteContent) error {
	payload, err := json.Marshal(metaPayload{RelatedGID: relatedGID, Snapshot: snapshot})
	if err != nil {
		return actionErr("encoding metadata for %s: %v", relatedGID, err)
	}
	m.relatedGID = relatedGID
	m.snapshot = snapshot
	m.name = MetaNoteName
	m.notes = string(payload)
	return nil
}

// Notes returns the encoded payload.
func (m *MetaData) Notes() string {
	return m.notes
}

// CreateAction builds the wire action that creates this entry in the
// reserved metadata list.
func (m *MetaData) CreateAction(actionID int) (map[string]any, error) {
	if m.list == nil {
		return nil, actionErr("creating metadata for %s: no metadata list", m.relatedGID)
	}
	if m.notes == "" {
		return nil, actionErr("creating metadata: empty payload")
	}
	return map[string]any{
		keyActionType: actionCreate,
		keyActionID:   actionID,
		keyIndex:      m.list.ChildCount(),
		keyEntityDelta: map[string]any{
			keyName:       m.name,
			keyCreatorID:  "null",
			keyEntityType: entityTask,
			keyNotes:      m.notes,
		},
		keyParentID:       m.list.GID(),
		keyDestParentType: entityGroup,
		keyListID:         m.list.GID(),
	}, nil
}

// UpdateAction builds the wire action that rewrites this entry in
// place. Deletion is an update with the deleted flag set.
func (m *MetaData) UpdateAction(actionID int) (map[string]any, error) {
	if m.gid == "" {
		return nil, actionErr("updating metadata for %s: no remote id", m.relatedGID)
	}
	return map[string]any{
		keyActionType: actionUpdate,
		keyActionID:   actionID,
		keyID:         m.gid,
		keyEntityDelta: map[string]any{
			keyName:    m.name,
			keyNotes:   m.notes,
			keyDeleted: m.deleted,
		},
	}, nil
}

// LoadFromRemote fills the entry from a wire task object pulled out of
// the reserved metadata list and decodes the embedded payload.
// Malformed payloads leave relatedGID empty; the sync pass discards
// such entries.
func (m *MetaData) LoadFromRemote(js map[string]any) error {
	gid, ok := jsString(js, keyID)
	if !ok || gid == "" {
		return actionErr("remote metadata entry has no id")
	}
	m.gid = gid

	if v, ok := jsInt64(js, keyLastModified); ok {
		m.lastModified = v
	}
	if v, ok := jsString(js, keyName); ok {
		m.name = v
	}
	if v, ok := jsBool(js, keyDeleted); ok {
		m.deleted = v
	}

	if v, ok := jsString(js, keyNotes); ok && v != "" {
		m.notes = v
		var payload metaPayload
		if err := json.Unmarshal([]byte(v), &payload); err == nil {
			m.relatedGID = payload.RelatedGID
			m.snapshot = payload.Snapshot
		}
	}
	return nil
}
