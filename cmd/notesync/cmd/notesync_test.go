package cmd_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"notesync/cmd/notesync/cmd"
	"notesync/internal/credentials"
	"notesync/internal/remote"
)

func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("remote:\n  base_url: %s\nstore:\n  path: %s\n",
		baseURL, filepath.Join(dir, "notes.db"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestAuthSetAndClear tests storing and removing the token through the CLI
func TestAuthSetAndClear(t *testing.T) {
	kr := credentials.NewMockKeyring()
	cfgPath := writeTestConfig(t, "https://example.test/tasks")
	opts := &cmd.Options{Keyring: kr, ConfigPath: cfgPath}

	var out, errOut bytes.Buffer
	root := cmd.NewRoot(&out, &errOut, opts)
	root.SetIn(strings.NewReader("secret-token\n"))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"auth", "set"})
	if err := root.Execute(); err != nil {
		t.Fatalf("auth set: %v\n%s", err, errOut.String())
	}
	if !strings.Contains(out.String(), "token stored") {
		t.Errorf("auth set output = %q", out.String())
	}

	got, err := kr.Get(credentials.Service, "default")
	if err != nil || got != "secret-token" {
		t.Fatalf("stored token = %q, %v", got, err)
	}

	if code := cmd.ExecuteWithOptions([]string{"auth", "clear"}, &out, &errOut, opts); code != 0 {
		t.Fatalf("auth clear exited %d: %s", code, errOut.String())
	}
	if _, err := kr.Get(credentials.Service, "default"); err == nil {
		t.Error("token still present after clear")
	}
}

// TestSyncCommand tests a full pass driven through the CLI
func TestSyncCommand(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()

	kr := credentials.NewMockKeyring()
	if err := kr.Set(credentials.Service, "default", "tok"); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeTestConfig(t, srv.URL)
	opts := &cmd.Options{Keyring: kr, ConfigPath: cfgPath}

	var out, errOut bytes.Buffer
	if code := cmd.ExecuteWithOptions([]string{"sync"}, &out, &errOut, opts); code != 0 {
		t.Fatalf("sync exited %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "sync complete") {
		t.Errorf("sync output = %q", out.String())
	}
	if srv.ListByName(remote.MetaListName) == nil {
		t.Error("pass did not reach the server")
	}
}

// TestSyncCommandWithoutToken tests that a missing token fails the pass cleanly
func TestSyncCommandWithoutToken(t *testing.T) {
	srv := remote.NewMockServer()
	defer srv.Close()

	cfgPath := writeTestConfig(t, srv.URL)
	opts := &cmd.Options{Keyring: credentials.NewMockKeyring(), ConfigPath: cfgPath}

	var out, errOut bytes.Buffer
	if code := cmd.ExecuteWithOptions([]string{"sync"}, &out, &errOut, opts); code == 0 {
		t.Fatal("sync without a token should fail")
	}
	if !strings.Contains(errOut.String(), "auth set") {
		t.Errorf("error output should point at auth set, got %q", errOut.String())
	}
}

// TestStatusCommand tests the status rendering
func TestStatusCommand(t *testing.T) {
	kr := credentials.NewMockKeyring()
	cfgPath := writeTestConfig(t, "https://example.test/tasks")
	opts := &cmd.Options{Keyring: kr, ConfigPath: cfgPath}

	var out, errOut bytes.Buffer
	if code := cmd.ExecuteWithOptions([]string{"status"}, &out, &errOut, opts); code != 0 {
		t.Fatalf("status exited %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "missing") {
		t.Errorf("status should report the missing token, got %q", out.String())
	}
	if !strings.Contains(out.String(), "https://example.test/tasks") {
		t.Errorf("status should show the remote url, got %q", out.String())
	}
}
