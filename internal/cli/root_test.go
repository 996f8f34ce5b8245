package cli

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"portkeep/internal/bundle"
	"portkeep/internal/events"
)

func TestAddListRemoveLifecycle(t *testing.T) {
	setupCLI(t)
	local := "127.0.0.1:" + strconv.Itoa(freePortCLI(t))
	t.Cleanup(func() { removeQuietly(local) })

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"add", local, "10.0.0.9:80"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "added "+local) {
		t.Fatalf("expected added output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"list"})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, local) || !strings.Contains(out, "live") {
		t.Fatalf("expected live mapping in list output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"remove", local})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(out, "removed "+local) {
		t.Fatalf("expected removed output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"list"})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list after remove: %v", err)
	}
	if !strings.Contains(out, "no active mappings") {
		t.Fatalf("expected empty-list message, got: %s", out)
	}
}

func TestListJSONOutput(t *testing.T) {
	setupCLI(t)
	local := "127.0.0.1:" + strconv.Itoa(freePortCLI(t))
	t.Cleanup(func() { removeQuietly(local) })

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"add", local, "10.0.0.9:80"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("add: %v", err)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"list", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var payload []map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid list json: %v; output=%s", err, out)
	}
	if len(payload) != 1 {
		t.Fatalf("expected one mapping, got %d", len(payload))
	}
	if payload[0]["health"] != "live" {
		t.Fatalf("unexpected health: %v", payload[0]["health"])
	}
}

func TestListJSONEmptyIsArray(t *testing.T) {
	setupCLI(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"list", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty array, got: %s", out)
	}
}

func TestAddRejectsInvalidLocal(t *testing.T) {
	setupCLI(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"add", "nonsense", "10.0.0.9:80"})
	cmd.SetErr(io.Discard)
	cmd.SetOut(io.Discard)
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for invalid local address")
	}
	if !strings.Contains(err.Error(), "invalid local address") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	setupCLI(t)
	local := "127.0.0.1:" + strconv.Itoa(freePortCLI(t))
	t.Cleanup(func() { removeQuietly(local) })

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"add", local, "10.0.0.9:80"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("first add: %v", err)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"add", local, "10.0.0.7:443"})
	cmd.SetErr(io.Discard)
	cmd.SetOut(io.Discard)
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for duplicate local endpoint")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRestoreEmptyStore(t *testing.T) {
	setupCLI(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"restore"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !strings.Contains(out, "no mappings to restore") {
		t.Fatalf("expected empty-restore message, got: %s", out)
	}
}

func TestEventsJSONOutput(t *testing.T) {
	setupCLI(t)
	store := events.NewStore()
	if err := store.Append(events.Event{
		Timestamp: time.Now().UTC(),
		EventType: events.TypeAdded,
		Local:     "127.0.0.1:9501",
		Remote:    "10.0.0.9:80",
		Handle:    "42:1000",
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"events", "--local", "127.0.0.1:9501", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("events json: %v", err)
	}
	var payload []map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid events json: %v", err)
	}
	if len(payload) != 1 {
		t.Fatalf("expected 1 event, got %d", len(payload))
	}
	if payload[0]["event_type"] != events.TypeAdded {
		t.Fatalf("unexpected event: %v", payload[0]["event_type"])
	}
}

func TestDoctorJSONOutput(t *testing.T) {
	setupCLI(t)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"doctor", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("doctor json: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid doctor json: %v", err)
	}
	if _, ok := payload["issues"]; !ok {
		t.Fatalf("expected issues key in doctor output: %s", out)
	}
}

func TestBundleCreateListDeleteLifecycle(t *testing.T) {
	setupCLI(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"bundle", "create", "daily", "127.0.0.1:9610", "10.0.0.9:80"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("create bundle: %v", err)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"bundle", "list"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list bundle: %v", err)
	}
	if !strings.Contains(out, "daily") {
		t.Fatalf("expected bundle in list output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"bundle", "show", "daily"})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("show bundle: %v", err)
	}
	if !strings.Contains(out, "127.0.0.1:9610") {
		t.Fatalf("expected entry in show output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"bundle", "delete", "daily"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("delete bundle: %v", err)
	}
}

func TestBundleRunReportsPartialFailures(t *testing.T) {
	setupCLI(t)
	good := "127.0.0.1:" + strconv.Itoa(freePortCLI(t))
	t.Cleanup(func() { removeQuietly(good) })
	if err := bundle.Create("mixed", []bundle.Entry{
		{Local: good, Remote: "10.0.0.9:80"},
		{Local: "example.com:80", Remote: "10.0.0.9:80"},
	}); err != nil {
		t.Fatalf("create bundle: %v", err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"bundle", "run", "mixed"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("run bundle: %v", err)
	}
	if !strings.Contains(out, "bundle mixed: 1 started, 1 failed") {
		t.Fatalf("expected summary output, got: %s", out)
	}
}

func captureStdout(fn func() error) (string, error) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = orig
	b, readErr := io.ReadAll(r)
	if readErr != nil {
		return "", readErr
	}
	return string(b), runErr
}

// setupCLI isolates config, store, log, and journal under temp dirs and
// installs a fake forwarder that holds its local port like socat would.
func setupCLI(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PORTKEEP_LOG_FILE", filepath.Join(t.TempDir(), "portkeep.log"))

	script := filepath.Join(t.TempDir(), "fake-forwarder")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORTKEEP_FORWARDER", script)
}

// removeQuietly tears down a mapping a test may have left running. Errors
// are ignored; the mapping may already be gone.
func removeQuietly(local string) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"remove", local})
	cmd.SetErr(io.Discard)
	cmd.SetOut(io.Discard)
	_, _ = captureStdout(func() error { return cmd.Execute() })
}

func freePortCLI(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return port
}
