package remote_test

import (
	"context"
	"testing"

	"notesync/internal/remote"
)

func newTestClient(t *testing.T, srv *remote.MockServer, token string, batchMax int) *remote.Client {
	t.Helper()
	c, err := remote.NewClient(remote.Options{
		BaseURL:           srv.URL,
		Tokens:            remote.StaticToken(token),
		MaxPendingUpdates: batchMax,
	})
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return c
}

// TestLogin tests the session handshake and client version extraction
func TestLogin(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()

	c := newTestClient(t, srv, "tok", 10)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.ClientVersion() != 8 {
		t.Errorf("client version = %d, want 8", c.ClientVersion())
	}
}

// TestLoginGzip tests that compressed handshake responses are decoded
func TestLoginGzip(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()
	srv.Gzip = true

	c := newTestClient(t, srv, "tok", 10)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login with gzip: %v", err)
	}
}

// TestLoginReauth tests that one rejected handshake triggers a single retry
func TestLoginReauth(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()
	srv.RejectLogins = 1

	c := newTestClient(t, srv, "tok", 10)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login should succeed on the retry: %v", err)
	}

	srv.RejectLogins = 2
	c2 := newTestClient(t, srv, "tok", 10)
	err := c2.Login(context.Background())
	if err == nil {
		t.Fatal("login should fail after two rejections")
	}
	if !remote.IsNetworkError(err) {
		t.Errorf("double rejection should surface as a network error, got %v", err)
	}
}

// TestCreateAssignsGID tests that a create records the service-assigned id
func TestCreateAssignsGID(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()

	c := newTestClient(t, srv, "tok", 10)
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	list := remote.NewTaskList()
	list.SetName(remote.FolderPrefix + "work")
	if err := c.Create(context.Background(), list); err != nil {
		t.Fatalf("creating list: %v", err)
	}
	if list.GID() == "" {
		t.Fatal("list did not receive a gid")
	}
	if srv.ListByName(remote.FolderPrefix+"work") == nil {
		t.Fatal("list not present on the server")
	}

	task := remote.NewTask()
	list.AddChild(task)
	task.SetName("a task")
	if err := c.Create(context.Background(), task); err != nil {
		t.Fatalf("creating task: %v", err)
	}
	if task.GID() == "" {
		t.Fatal("task did not receive a gid")
	}
	if srv.TaskByID(task.GID()) == nil {
		t.Fatal("task not present on the server")
	}
}

// TestUpdateBatching tests that queued updates flush at the batch threshold
func TestUpdateBatching(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()

	c := newTestClient(t, srv, "tok", 3)
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatal(err)
	}

	listGID := srv.AddList(remote.FolderPrefix + "work")
	var tasks []*remote.Task
	for i := 0; i < 4; i++ {
		gid := srv.AddTask(listGID, "t", "")
		task := remote.NewTask()
		task.SetGID(gid)
		task.SetName("renamed")
		tasks = append(tasks, task)
	}

	before := srv.Envelopes
	for _, task := range tasks[:3] {
		if err := c.AddUpdate(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	if srv.Envelopes != before {
		t.Fatalf("updates flushed before the threshold (envelopes %d -> %d)", before, srv.Envelopes)
	}

	// The fourth queued update exceeds the threshold and forces a
	// flush of the first three.
	if err := c.AddUpdate(ctx, tasks[3]); err != nil {
		t.Fatal(err)
	}
	if srv.Envelopes != before+1 {
		t.Fatalf("expected one flush envelope, got %d", srv.Envelopes-before)
	}

	if err := c.CommitUpdate(ctx); err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if got := srv.TaskByID(task.GID()); got == nil || got.Name != "renamed" {
			t.Errorf("task %s not updated on the server", task.GID())
		}
	}
}

// TestMutatingCallFlushesPending tests that creates flush queued updates first
func TestMutatingCallFlushesPending(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()

	c := newTestClient(t, srv, "tok", 10)
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatal(err)
	}

	listGID := srv.AddList(remote.FolderPrefix + "work")
	taskGID := srv.AddTask(listGID, "old", "")

	queued := remote.NewTask()
	queued.SetGID(taskGID)
	queued.SetName("new")
	if err := c.AddUpdate(ctx, queued); err != nil {
		t.Fatal(err)
	}

	list := remote.NewTaskList()
	list.SetName(remote.FolderPrefix + "other")
	if err := c.Create(ctx, list); err != nil {
		t.Fatal(err)
	}

	if got := srv.TaskByID(taskGID); got == nil || got.Name != "new" {
		t.Error("queued update was not flushed before the create")
	}
}

// TestGetTaskLists tests listing and the tasks pull
func TestGetTaskLists(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()

	listGID := srv.AddList(remote.FolderPrefix + "work")
	srv.AddTask(listGID, "alpha", "")
	srv.AddTask(listGID, "beta", "")

	c := newTestClient(t, srv, "tok", 10)
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatal(err)
	}

	lists, err := c.GetTaskLists(ctx)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(lists) != 1 || lists[0].GID() != listGID {
		t.Fatalf("lists = %+v, want the seeded list", lists)
	}

	tasks, err := c.GetTaskList(ctx, listGID)
	if err != nil {
		t.Fatalf("pulling tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
}

// TestDeleteIsSoft tests that deletion is an update carrying the deleted flag
func TestDeleteIsSoft(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()

	listGID := srv.AddList(remote.FolderPrefix + "work")
	taskGID := srv.AddTask(listGID, "doomed", "")

	c := newTestClient(t, srv, "tok", 10)
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatal(err)
	}

	task := remote.NewTask()
	task.SetGID(taskGID)
	task.SetName("doomed")
	if err := c.Delete(ctx, task); err != nil {
		t.Fatalf("deleting: %v", err)
	}

	got := srv.TaskByID(taskGID)
	if got == nil {
		t.Fatal("soft-deleted task should still exist on the server")
	}
	if !got.Deleted {
		t.Error("task not flagged deleted")
	}
}
