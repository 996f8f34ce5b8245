package engine

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"portkeep/internal/model"
)

func TestBuildArgs(t *testing.T) {
	l := NewLauncher("socat", "/dev/null")
	args := l.BuildArgs(
		model.Endpoint{Host: "127.0.0.1", Port: 8080},
		model.Endpoint{Host: "db.internal", Port: 5432},
	)
	want := []string{"TCP4-LISTEN:8080,bind=127.0.0.1,reuseaddr,fork", "TCP4:db.internal:5432"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args mismatch\nwant=%v\n got=%v", want, args)
	}
}

func TestEnsureMissingBinary(t *testing.T) {
	err := Ensure("definitely-not-a-real-binary-xyz")
	me, ok := err.(*MissingError)
	if !ok {
		t.Fatalf("expected MissingError, got %v", err)
	}
	if !strings.Contains(me.Error(), "definitely-not-a-real-binary-xyz") {
		t.Fatalf("error does not name the binary: %v", me)
	}
}

func TestEnsurePresentBinary(t *testing.T) {
	// sh is everywhere a test can run.
	if err := Ensure("sh"); err != nil {
		t.Fatalf("Ensure(sh): %v", err)
	}
}

// fakeForwarder writes a script that ignores the forwarder arguments and runs
// the given shell payload, standing in for socat.
func fakeForwarder(t *testing.T, payload string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "fake-forwarder")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+payload+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return script
}

// Start must return with a spawned process and append the child's output to
// the log file.
func TestStartWritesLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "forwarder.log")
	l := NewLauncher(fakeForwarder(t, "echo forwarder-output-marker"), logPath)

	p, err := l.Start(
		model.Endpoint{Host: "127.0.0.1", Port: 8080},
		model.Endpoint{Host: "10.0.0.9", Port: 80},
	)
	if err != nil {
		t.Fatal(err)
	}
	waitGone(t, p)

	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "forwarder-output-marker") {
		t.Fatalf("child output missing from log, got %q", string(b))
	}
}

func TestStartUnknownBinary(t *testing.T) {
	l := NewLauncher("definitely-not-a-real-binary-xyz", filepath.Join(t.TempDir(), "f.log"))
	if _, err := l.Start(
		model.Endpoint{Host: "127.0.0.1", Port: 1},
		model.Endpoint{Host: "127.0.0.1", Port: 2},
	); err == nil {
		t.Fatal("expected start error for unknown binary")
	}
}

// An unopenable log path must not stop the forwarder from starting.
func TestStartSurvivesBadLogPath(t *testing.T) {
	badLog := filepath.Join(t.TempDir(), "no-such-dir", "f.log")
	l := NewLauncher(fakeForwarder(t, "true"), badLog)
	p, err := l.Start(
		model.Endpoint{Host: "127.0.0.1", Port: 8080},
		model.Endpoint{Host: "10.0.0.9", Port: 80},
	)
	if err != nil {
		t.Fatal(err)
	}
	waitGone(t, p)
}

// waitGone blocks until the process has exited, or fails the test.
func waitGone(t *testing.T, p *Process) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		// Signal 0 probes existence without affecting the process.
		if err := p.Cmd.Process.Signal(syscall.Signal(0)); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("child process did not exit")
}
