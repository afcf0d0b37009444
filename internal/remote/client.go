package remote

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"notesync/internal/logging"
)

// Bootstrap page markers. The session handshake returns an HTML page
// embedding the initial state as a JSON argument to a script call.
const (
	setupMarkerBegin = "_setup("
	setupMarkerEnd   = ")}</script>"
)

// TokenSource supplies the platform auth token for the remote service.
// Invalidate discards a cached token after an auth failure so the next
// Token call produces a fresh one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticToken is a TokenSource wrapping a fixed token string.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("no auth token configured")
	}
	return string(t), nil
}

func (t StaticToken) Invalidate() {}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Tokens            TokenSource
	Timeout           time.Duration
	MaxPendingUpdates int
	HTTPClient        *http.Client
}

// Client speaks the batched-JSON-action protocol over a single
// stateful session. It is not safe for concurrent use; the sync
// manager owns one client per pass.
type Client struct {
	http          *http.Client
	baseURL       string
	tokens        TokenSource
	token         string
	loggedIn      bool
	clientVersion int64
	actionID      int
	pending       []map[string]any
	maxPending    int
}

// NewClient builds a client. The cookie jar carries the session
// established by Login.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("a token source is required")
	}
	maxPending := opts.MaxPendingUpdates
	if maxPending < 1 {
		maxPending = 10
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{
			Jar:     jar,
			Timeout: opts.Timeout,
		}
	}

	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		tokens:     opts.Tokens,
		maxPending: maxPending,
	}, nil
}

// ClientVersion returns the protocol version announced by the service
// during the handshake.
func (c *Client) ClientVersion() int64 {
	return c.clientVersion
}

func (c *Client) nextActionID() int {
	c.actionID++
	return c.actionID
}

// Login performs the session handshake. A rejected token is
// invalidated and fetched once more; a second rejection surfaces as a
// network-equivalent failure.
func (c *Client) Login(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return netErr("login", err)
	}

	js, authFailed, err := c.bootstrapPage(ctx, token)
	if authFailed {
		logging.Info("auth token rejected, requesting a fresh one")
		c.tokens.Invalidate()
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return netErr("login", err)
		}
		js, authFailed, err = c.bootstrapPage(ctx, token)
		if authFailed {
			return netErr("login", fmt.Errorf("auth token rejected twice"))
		}
	}
	if err != nil {
		return err
	}

	if v, ok := jsInt64(js, "v"); ok {
		c.clientVersion = v
	} else {
		return actionErr("handshake response has no client version")
	}

	c.token = token
	c.loggedIn = true
	c.actionID = 0
	c.pending = nil
	return nil
}

// bootstrapPage fetches the session page and extracts the embedded
// JSON state. authFailed distinguishes a rejected token from other
// failures.
func (c *Client) bootstrapPage(ctx context.Context, token string) (js map[string]any, authFailed bool, err error) {
	u := c.baseURL + "/ig?auth=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, netErr("handshake", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, netErr("handshake", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, netErr("handshake", fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, false, netErr("handshake", err)
	}

	page := string(body)
	begin := strings.Index(page, setupMarkerBegin)
	if begin < 0 {
		return nil, false, actionErr("handshake page has no state payload")
	}
	begin += len(setupMarkerBegin)
	end := strings.Index(page[begin:], setupMarkerEnd)
	if end < 0 {
		return nil, false, actionErr("handshake page state payload is unterminated")
	}

	if err := json.Unmarshal([]byte(page[begin:begin+end]), &js); err != nil {
		return nil, false, actionErr("decoding handshake state: %v", err)
	}
	return js, false, nil
}

// postRequest submits a request envelope to the action endpoint and
// decodes the JSON response.
func (c *Client) postRequest(ctx context.Context, js map[string]any) (map[string]any, error) {
	if !c.loggedIn {
		return nil, actionErr("not logged in")
	}

	payload, err := json.Marshal(js)
	if err != nil {
		return nil, actionErr("encoding request: %v", err)
	}
	form := url.Values{"r": {string(payload)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/r/ig", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, netErr("post", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	req.Header.Set("AT", "1")
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, netErr("post", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, netErr("post", fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, netErr("post", err)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, actionErr("decoding response: %v", err)
	}
	return out, nil
}

// postAction submits a single action in its own envelope.
func (c *Client) postAction(ctx context.Context, action map[string]any) (map[string]any, error) {
	return c.postRequest(ctx, map[string]any{
		keyActionList:    []any{action},
		keyClientVersion: c.clientVersion,
	})
}

// Create pushes a new entity and records the service-assigned id on
// it. Pending updates are flushed first so ordering is preserved.
func (c *Client) Create(ctx context.Context, e Entity) error {
	if err := c.CommitUpdate(ctx); err != nil {
		return err
	}

	action, err := e.CreateAction(c.nextActionID())
	if err != nil {
		return err
	}
	resp, err := c.postAction(ctx, action)
	if err != nil {
		return err
	}

	results, ok := resp[keyResults].([]any)
	if !ok || len(results) == 0 {
		return actionErr("create response has no results")
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return actionErr("create response result is malformed")
	}
	newID, ok := jsString(first, keyNewID)
	if !ok || newID == "" {
		return actionErr("create response has no new id")
	}
	e.SetGID(newID)
	return nil
}

// AddUpdate queues an update action for the entity. The queue flushes
// automatically once it reaches the configured batch size.
func (c *Client) AddUpdate(ctx context.Context, e Entity) error {
	if len(c.pending) >= c.maxPending {
		if err := c.CommitUpdate(ctx); err != nil {
			return err
		}
	}

	action, err := e.UpdateAction(c.nextActionID())
	if err != nil {
		return err
	}
	c.pending = append(c.pending, action)
	return nil
}

// CommitUpdate flushes the queued update actions in one envelope.
func (c *Client) CommitUpdate(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}

	actions := make([]any, len(c.pending))
	for i, a := range c.pending {
		actions[i] = a
	}
	_, err := c.postRequest(ctx, map[string]any{
		keyActionList:    actions,
		keyClientVersion: c.clientVersion,
	})
	if err != nil {
		return err
	}
	c.pending = nil
	return nil
}

// MoveTask moves a task between lists, or reorders it within one.
func (c *Client) MoveTask(ctx context.Context, t *Task, from, to *TaskList) error {
	if err := c.CommitUpdate(ctx); err != nil {
		return err
	}

	action := map[string]any{
		keyActionType: actionMove,
		keyActionID:   c.nextActionID(),
		keyID:         t.GID(),
	}
	if from == to {
		if t.PriorSibling() != nil {
			action[keyPriorSiblingID] = t.PriorSibling().GID()
		}
		action[keyCurrentListID] = from.GID()
	} else {
		action[keySourceList] = from.GID()
		action[keyDestParent] = to.GID()
		action[keyDestList] = to.GID()
	}

	_, err := c.postAction(ctx, action)
	return err
}

// Delete soft-deletes the entity remotely: an update with the deleted
// flag set.
func (c *Client) Delete(ctx context.Context, e Entity) error {
	if err := c.CommitUpdate(ctx); err != nil {
		return err
	}

	e.SetDeleted(true)
	action, err := e.UpdateAction(c.nextActionID())
	if err != nil {
		return err
	}
	_, err = c.postAction(ctx, action)
	return err
}

// GetTaskLists re-fetches the session page and returns the remote task
// lists. Pending updates are flushed first so the listing reflects
// them.
func (c *Client) GetTaskLists(ctx context.Context) ([]*TaskList, error) {
	if !c.loggedIn {
		return nil, actionErr("not logged in")
	}
	if err := c.CommitUpdate(ctx); err != nil {
		return nil, err
	}

	js, authFailed, err := c.bootstrapPage(ctx, c.token)
	if authFailed {
		// The session expired mid-pass. One full re-login, then give
		// up as a network-equivalent failure.
		c.loggedIn = false
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		js, authFailed, err = c.bootstrapPage(ctx, c.token)
		if authFailed {
			return nil, netErr("listing", fmt.Errorf("auth token rejected twice"))
		}
	}
	if err != nil {
		return nil, err
	}

	t, ok := js["t"].(map[string]any)
	if !ok {
		return nil, actionErr("handshake state has no task section")
	}
	rawLists, ok := t[keyLists].([]any)
	if !ok {
		return nil, actionErr("handshake state has no lists")
	}

	lists := make([]*TaskList, 0, len(rawLists))
	for _, raw := range rawLists {
		js, ok := raw.(map[string]any)
		if !ok {
			return nil, actionErr("remote list entry is malformed")
		}
		l := NewTaskList()
		if err := l.LoadFromRemote(js); err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, nil
}

// GetTaskList returns the raw task objects of one remote list.
func (c *Client) GetTaskList(ctx context.Context, listGID string) ([]map[string]any, error) {
	if err := c.CommitUpdate(ctx); err != nil {
		return nil, err
	}

	resp, err := c.postAction(ctx, map[string]any{
		keyActionType: actionGetAll,
		keyActionID:   c.nextActionID(),
		keyListID:     listGID,
		keyGetDeleted: false,
	})
	if err != nil {
		return nil, err
	}

	rawTasks, ok := resp[keyTasks].([]any)
	if !ok {
		return nil, actionErr("listing response for %s has no tasks", listGID)
	}

	tasks := make([]map[string]any, 0, len(rawTasks))
	for _, raw := range rawTasks {
		js, ok := raw.(map[string]any)
		if !ok {
			return nil, actionErr("remote task entry is malformed")
		}
		tasks = append(tasks, js)
	}
	return tasks, nil
}

// decodeBody reads a response body, transparently decompressing gzip
// and deflate encodings.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer func() { _ = fl.Close() }()
		reader = fl
	}
	return io.ReadAll(reader)
}
