// Package engine launches the external forwarder processes that carry
// traffic for mappings.
//
// This package is responsible for launching relay processes — it does NOT
// relay bytes itself. It shells out to socat (or whichever forwarder binary
// the configuration names), which owns the listening socket, the address
// reuse setting, and the one-handler-per-connection behavior.
//
// Forwarders must outlive the CLI invocation that started them: `portkeep
// add` exits immediately while the relay keeps serving. Start therefore
// detaches the child into its own session rather than tying it to a
// context, and the caller records the returned process identity in the
// store instead of holding the exec.Cmd.
//
// Security note: all forwarder arguments are passed via exec.Command's argv,
// never through a shell.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"portkeep/internal/model"
)

// MissingError reports that the forwarder binary is not installed. Commands
// that may spawn a forwarder refuse to proceed when they see it.
type MissingError struct {
	Command string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("forwarder binary %q not found in PATH", e.Command)
}

// Ensure checks that the forwarder binary is available on the system PATH.
//
// Commands that can spawn forwarders (add, restore, watch, dashboard,
// bundle run) call this before doing anything else. Read-only commands skip
// the check; a missing binary must not stop list or doctor from running.
func Ensure(command string) error {
	if _, err := exec.LookPath(command); err != nil {
		return &MissingError{Command: command}
	}
	return nil
}

// Process is a forwarder process the launcher has started. The caller reads
// identity (PID) from Cmd; lifecycle from here on is observed through the
// OS process table, not through this handle.
type Process struct {
	Cmd *exec.Cmd
}

// Launcher builds and starts forwarder processes.
//
// Launcher is stateless apart from its configuration and safe for
// concurrent use; each Start call creates an independent exec.Cmd.
type Launcher struct {
	// Command is the forwarder binary, "socat" by default.
	Command string
	// LogPath receives the forwarder's stdout and stderr. Relay errors
	// ("connection refused", "address already in use") land here.
	LogPath string
}

// NewLauncher returns a Launcher for the given forwarder binary and log
// destination.
func NewLauncher(command, logPath string) *Launcher {
	return &Launcher{Command: command, LogPath: logPath}
}

// BuildArgs constructs the forwarder command-line arguments for a mapping
// without starting a process.
//
// Example output for 127.0.0.1:8080 -> db.internal:5432:
//
//	["TCP4-LISTEN:8080,bind=127.0.0.1,reuseaddr,fork", "TCP4:db.internal:5432"]
//
// reuseaddr lets a restarted forwarder rebind a port still in TIME_WAIT;
// fork gives every inbound connection its own relay handler.
func (l *Launcher) BuildArgs(local, remote model.Endpoint) []string {
	return []string{
		fmt.Sprintf("TCP4-LISTEN:%d,bind=%s,reuseaddr,fork", local.Port, local.Host),
		fmt.Sprintf("TCP4:%s:%d", remote.Host, remote.Port),
	}
}

// Start launches a forwarder for the mapping and returns immediately.
// Spawning is fire-and-forget: the process may still fail to bind after
// Start returns, and liveness is observed later through the process table.
//
// The child runs in its own session (Setsid) so it is not signalled when
// the user's terminal closes, and its output is appended to LogPath. When
// the log file cannot be opened the output is discarded and a warning is
// logged.
func (l *Launcher) Start(local, remote model.Endpoint) (*Process, error) {
	cmd := exec.Command(l.Command, l.BuildArgs(local, remote)...)
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	var logFile *os.File
	if f, err := os.OpenFile(l.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		slog.Warn("cannot open forwarder log, discarding output", "path", l.LogPath, "error", err)
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}

	slog.Info("starting forwarder",
		"command", l.Command,
		"local", local.String(),
		"remote", remote.String())

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("start forwarder: %w", err)
	}

	// The child holds its own descriptor; close the parent's copy.
	if logFile != nil {
		logFile.Close()
	}

	// Reap the child when it exits so a long-running watch or dashboard
	// session does not accumulate zombies. For one-shot commands the CLI
	// exits first and init reaps instead.
	go func() { _ = cmd.Wait() }()

	return &Process{Cmd: cmd}, nil
}
