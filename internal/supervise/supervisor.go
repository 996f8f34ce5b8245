// Package supervise starts, probes, and terminates the forwarder processes
// behind mappings. It owns the process-handle side of a mapping's lifecycle:
// the store says which mappings should exist, this package answers whether
// the process serving one still does.
//
// Liveness is never cached. Every question is put to the OS process table at
// the moment it is asked, and a handle is only considered alive when the
// process start time recorded at spawn matches what the table reports now.
// A recycled PID therefore cannot impersonate a dead forwarder.
package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"portkeep/internal/engine"
	"portkeep/internal/model"
)

// Starter is the capability the supervisor needs to create forwarder
// processes. *engine.Launcher satisfies it; tests substitute a fake that
// launches a cheap real process instead.
type Starter interface {
	Start(local, remote model.Endpoint) (*engine.Process, error)
}

// PortBusyError reports that the local port already has a listener, so no
// forwarder was spawned.
type PortBusyError struct {
	Port int
	PID  int32 // the listener's pid when the socket table names one, else 0
}

func (e *PortBusyError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("local port %d is already bound by pid %d", e.Port, e.PID)
	}
	return fmt.Sprintf("local port %d is already bound", e.Port)
}

// StartError reports a forwarder launch failure.
type StartError struct {
	Local  model.Endpoint
	Remote model.Endpoint
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start forwarder %s -> %s: %v", e.Local, e.Remote, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// startTimeSlackMS absorbs rounding differences between two start-time
// queries for the same process. Anything further apart is a different
// process.
const startTimeSlackMS = 1000

// Supervisor creates and inspects forwarder processes. Stateless; all state
// lives in the store and the OS process table.
type Supervisor struct {
	starter Starter
}

// New returns a Supervisor spawning through the given starter.
func New(starter Starter) *Supervisor {
	return &Supervisor{starter: starter}
}

// Start launches a forwarder for local -> remote and returns its handle.
//
// The socket table is consulted first: a port that already has a listener
// fails with PortBusyError before anything is spawned. The check is
// advisory; between it and the forwarder's own bind another process can
// grab the port, and then the forwarder dies on its own bind error instead.
// Start returns as soon as the process is launched; it never waits for the
// forwarder to become ready.
func (s *Supervisor) Start(ctx context.Context, local, remote model.Endpoint) (model.Handle, error) {
	if pid, busy := listeningPID(ctx, local.Port); busy {
		return model.Handle{}, &PortBusyError{Port: local.Port, PID: pid}
	}
	proc, err := s.starter.Start(local, remote)
	if err != nil {
		return model.Handle{}, &StartError{Local: local, Remote: remote, Err: err}
	}
	pid := proc.Cmd.Process.Pid
	h := model.Handle{PID: pid}
	if p, perr := process.NewProcessWithContext(ctx, int32(pid)); perr == nil {
		if ct, cerr := p.CreateTimeWithContext(ctx); cerr == nil {
			h.StartMS = ct
		}
	}
	if h.StartMS == 0 {
		// Gone before its start time could be read. Keep the bare handle;
		// it reads as dead and restore takes it from there.
		slog.Warn("forwarder exited before start time was recorded", "pid", pid)
	}
	return h, nil
}

// IsAlive reports whether the handle still identifies its original, live
// forwarder process: the pid must exist, must not be a zombie, and its
// start time must match the one recorded at spawn. Handles without a
// recorded start time always read dead, as does any process-table query
// failure.
func (s *Supervisor) IsAlive(ctx context.Context, h model.Handle) bool {
	return liveProcess(ctx, h) != nil
}

// Terminate sends the forceful kill signal to the handle's process and
// reports whether delivery succeeded. The incarnation is checked first so a
// recycled pid is never signalled. Kill cannot be refused by a live
// process, so there is no follow-up confirmation.
func (s *Supervisor) Terminate(ctx context.Context, h model.Handle) bool {
	p := liveProcess(ctx, h)
	if p == nil {
		return false
	}
	if err := p.KillWithContext(ctx); err != nil {
		slog.Warn("kill forwarder failed", "pid", h.PID, "error", err)
		return false
	}
	return true
}

// liveProcess returns the process behind h only if it is the original live
// incarnation; nil in every other case.
func liveProcess(ctx context.Context, h model.Handle) *process.Process {
	if h.PID <= 0 || h.StartMS == 0 {
		return nil
	}
	p, err := process.NewProcessWithContext(ctx, int32(h.PID))
	if err != nil {
		return nil
	}
	ct, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return nil
	}
	if diff := ct - h.StartMS; diff > startTimeSlackMS || diff < -startTimeSlackMS {
		return nil
	}
	if st, err := p.StatusWithContext(ctx); err == nil && slices.Contains(st, process.Zombie) {
		return nil
	}
	return p
}

// listeningPID reports whether any process holds a TCP listener on port,
// regardless of bind address: a wildcard listener blocks a loopback bind
// just the same. An unreadable socket table skips the check rather than
// blocking the spawn; the forwarder's own bind failure is the backstop.
func listeningPID(ctx context.Context, port int) (int32, bool) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		slog.Warn("cannot read socket table, skipping port check", "error", err)
		return 0, false
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) {
			return c.Pid, true
		}
	}
	return 0, false
}
