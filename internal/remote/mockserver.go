package remote

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockTask is a task held by the fake service.
type MockTask struct {
	ID           string
	Name         string
	Notes        string
	LastModified int64
	Deleted      bool
	Completed    bool
}

// MockList is a task list held by the fake service.
type MockList struct {
	ID           string
	Name         string
	LastModified int64
	Deleted      bool
	Tasks        []*MockTask
}

// MockServer is a fake remote task service for testing: it speaks the
// session handshake and the batched-action endpoint against in-memory
// state that tests can seed and inspect.
type MockServer struct {
	*httptest.Server
	mu sync.Mutex

	// Token, when set, is the only auth value the handshake accepts.
	Token string
	// RejectLogins rejects that many handshakes with 401 before
	// accepting, to exercise the re-auth retry.
	RejectLogins int
	// Gzip compresses response bodies.
	Gzip bool

	clock  int64
	nextID int
	lists  []*MockList

	// Envelopes counts POST envelopes received, for batching
	// assertions.
	Envelopes int
}

// NewMockServer starts a fake service.
func NewMockServer() *MockServer {
	m := &MockServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ig", m.handleHandshake)
	mux.HandleFunc("/r/ig", m.handleActions)

	m.Server = httptest.NewServer(mux)
	return m
}

func (m *MockServer) tick() int64 {
	m.clock += 1000
	return m.clock
}

func (m *MockServer) newID() string {
	m.nextID++
	return fmt.Sprintf("g%d", m.nextID)
}

// AddList seeds a list and returns its id.
func (m *MockServer) AddList(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := &MockList{ID: m.newID(), Name: name, LastModified: m.tick()}
	m.lists = append(m.lists, l)
	return l.ID
}

// AddTask seeds a task into a list and returns its id.
func (m *MockServer) AddTask(listID, name, notes string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.listByID(listID)
	if l == nil {
		panic("mock server: unknown list " + listID)
	}
	t := &MockTask{ID: m.newID(), Name: name, Notes: notes, LastModified: m.tick()}
	l.Tasks = append(l.Tasks, t)
	return t.ID
}

// TouchTask simulates a remote edit: rename plus clock bump.
func (m *MockServer) TouchTask(taskID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, _ := m.taskByID(taskID); t != nil {
		t.Name = name
		t.LastModified = m.tick()
	}
}

// ListByName returns the list with the given name, nil when absent.
func (m *MockServer) ListByName(name string) *MockList {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.lists {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// TaskByID returns the task with the given id, nil when absent.
func (m *MockServer) TaskByID(taskID string) *MockTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, _ := m.taskByID(taskID)
	return t
}

// Lists returns the current lists.
func (m *MockServer) Lists() []*MockList {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*MockList(nil), m.lists...)
}

func (m *MockServer) listByID(id string) *MockList {
	for _, l := range m.lists {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (m *MockServer) taskByID(id string) (*MockTask, *MockList) {
	for _, l := range m.lists {
		for _, t := range l.Tasks {
			if t.ID == id {
				return t, l
			}
		}
	}
	return nil, nil
}

func (m *MockServer) handleHandshake(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RejectLogins > 0 {
		m.RejectLogins--
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if m.Token != "" && r.URL.Query().Get("auth") != m.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	lists := make([]any, 0, len(m.lists))
	for _, l := range m.lists {
		if l.Deleted {
			continue
		}
		lists = append(lists, map[string]any{
			keyID:           l.ID,
			keyName:         l.Name,
			keyLastModified: l.LastModified,
		})
	}
	state, _ := json.Marshal(map[string]any{
		"v": 8,
		"t": map[string]any{keyLists: lists},
	})

	m.writeBody(w, []byte(setupMarkerBegin+string(state)+setupMarkerEnd))
}

func (m *MockServer) handleActions(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	var envelope map[string]any
	if err := json.Unmarshal([]byte(r.PostFormValue("r")), &envelope); err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}
	actions, _ := envelope[keyActionList].([]any)
	m.Envelopes++

	response := map[string]any{}
	var results []any
	for _, raw := range actions {
		action, ok := raw.(map[string]any)
		if !ok {
			http.Error(w, "bad action", http.StatusBadRequest)
			return
		}

		actionType, _ := jsString(action, keyActionType)
		switch actionType {
		case actionCreate:
			results = append(results, map[string]any{keyNewID: m.applyCreate(action)})
		case actionUpdate:
			m.applyUpdate(action)
			results = append(results, map[string]any{})
		case actionMove:
			m.applyMove(action)
			results = append(results, map[string]any{})
		case actionGetAll:
			response[keyTasks] = m.applyGetAll(action)
			results = append(results, map[string]any{})
		default:
			http.Error(w, "unknown action "+actionType, http.StatusBadRequest)
			return
		}
	}
	response[keyResults] = results

	body, _ := json.Marshal(response)
	m.writeBody(w, body)
}

func (m *MockServer) applyCreate(action map[string]any) string {
	delta, _ := action[keyEntityDelta].(map[string]any)
	name, _ := jsString(delta, keyName)
	entityType, _ := jsString(delta, keyEntityType)

	if entityType == entityGroup {
		l := &MockList{ID: m.newID(), Name: name, LastModified: m.tick()}
		m.lists = append(m.lists, l)
		return l.ID
	}

	listID, _ := jsString(action, keyListID)
	l := m.listByID(listID)
	if l == nil {
		return ""
	}
	notes, _ := jsString(delta, keyNotes)
	t := &MockTask{ID: m.newID(), Name: name, Notes: notes, LastModified: m.tick()}
	l.Tasks = append(l.Tasks, t)
	return t.ID
}

func (m *MockServer) applyUpdate(action map[string]any) {
	id, _ := jsString(action, keyID)
	delta, _ := action[keyEntityDelta].(map[string]any)

	if l := m.listByID(id); l != nil {
		if v, ok := jsString(delta, keyName); ok {
			l.Name = v
		}
		if v, ok := jsBool(delta, keyDeleted); ok {
			l.Deleted = v
		}
		l.LastModified = m.tick()
		return
	}

	t, _ := m.taskByID(id)
	if t == nil {
		return
	}
	if v, ok := jsString(delta, keyName); ok {
		t.Name = v
	}
	if v, ok := jsString(delta, keyNotes); ok {
		t.Notes = v
	}
	if v, ok := jsBool(delta, keyDeleted); ok {
		t.Deleted = v
	}
	t.LastModified = m.tick()
}

func (m *MockServer) applyMove(action map[string]any) {
	id, _ := jsString(action, keyID)
	t, from := m.taskByID(id)
	if t == nil {
		return
	}

	destID, ok := jsString(action, keyDestList)
	if !ok {
		// Reorder within the current list; position is not modelled.
		t.LastModified = m.tick()
		return
	}
	dest := m.listByID(destID)
	if dest == nil || dest == from {
		return
	}

	for i, c := range from.Tasks {
		if c == t {
			from.Tasks = append(from.Tasks[:i], from.Tasks[i+1:]...)
			break
		}
	}
	dest.Tasks = append(dest.Tasks, t)
	t.LastModified = m.tick()
}

func (m *MockServer) applyGetAll(action map[string]any) []any {
	listID, _ := jsString(action, keyListID)
	includeDeleted, _ := jsBool(action, keyGetDeleted)

	l := m.listByID(listID)
	if l == nil {
		return []any{}
	}

	tasks := make([]any, 0, len(l.Tasks))
	for _, t := range l.Tasks {
		if t.Deleted && !includeDeleted {
			continue
		}
		tasks = append(tasks, map[string]any{
			keyID:           t.ID,
			keyName:         t.Name,
			keyNotes:        t.Notes,
			keyLastModified: t.LastModified,
			keyDeleted:      t.Deleted,
			keyCompleted:    t.Completed,
			keyEntityType:   entityTask,
		})
	}
	return tasks
}

func (m *MockServer) writeBody(w http.ResponseWriter, body []byte) {
	if m.Gzip {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(body)
		_ = gz.Close()
		return
	}
	_, _ = w.Write(body)
}
