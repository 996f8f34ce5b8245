// Package manager orchestrates the mapping lifecycle: it is the only place
// where validation, the store, and the supervisor meet. Each public method
// is one user-facing operation and owns the store lock for its whole
// read-modify-write sequence, so two concurrent portkeep invocations cannot
// interleave their store accesses.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"portkeep/internal/events"
	"portkeep/internal/model"
	"portkeep/internal/store"
	"portkeep/internal/supervise"
	"portkeep/internal/util"
	"portkeep/internal/validate"
)

// DuplicateError reports an add for a local endpoint that already has a
// mapping.
type DuplicateError struct {
	Local model.Endpoint
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("mapping for %s already exists", e.Local)
}

// NotFoundError reports a remove for a local endpoint with no mapping.
type NotFoundError struct {
	Local model.Endpoint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no mapping for %s", e.Local)
}

// Manager wires the validator, store, supervisor, and event journal into the
// add/remove/list/restore operations.
type Manager struct {
	store      *store.Store
	validator  *validate.Validator
	supervisor *supervise.Supervisor
	events     *events.Store
}

// New creates a Manager over the given collaborators. The event journal may
// be nil; journaling is best-effort and never fails an operation.
func New(st *store.Store, v *validate.Validator, sup *supervise.Supervisor, ev *events.Store) *Manager {
	return &Manager{store: st, validator: v, supervisor: sup, events: ev}
}

// Add validates both addresses, starts a forwarder, and records the mapping.
// Nothing is persisted unless the forwarder was observed to start. The
// returned warnings are non-fatal validator notes for the user.
func (m *Manager) Add(ctx context.Context, localArg, remoteArg string) (model.Mapping, []string, error) {
	local, warns, err := m.validator.Address(ctx, localArg, validate.RoleLocal)
	if err != nil {
		return model.Mapping{}, nil, err
	}
	remote, remoteWarns, err := m.validator.Address(ctx, remoteArg, validate.RoleRemote)
	if err != nil {
		return model.Mapping{}, warns, err
	}
	warns = append(warns, remoteWarns...)

	unlock, err := m.store.Lock()
	if err != nil {
		return model.Mapping{}, warns, err
	}
	defer unlock()

	if _, exists, err := m.store.FindByLocal(local); err != nil {
		return model.Mapping{}, warns, err
	} else if exists {
		return model.Mapping{}, warns, &DuplicateError{Local: local}
	}

	h, err := m.supervisor.Start(ctx, local, remote)
	if err != nil {
		return model.Mapping{}, warns, err
	}
	mp := model.Mapping{Local: local, Remote: remote, Handle: h}
	if err := m.store.Append(mp); err != nil {
		// Started but never recorded; take the forwarder back down.
		m.supervisor.Terminate(ctx, h)
		return model.Mapping{}, warns, err
	}
	m.journal(events.Event{
		EventType: events.TypeAdded,
		Local:     local.String(),
		Remote:    remote.String(),
		Handle:    h.String(),
	})
	return mp, warns, nil
}

// Remove terminates the mapping's forwarder and deletes its record. The
// record is deleted even when termination fails: an explicit remove states
// intent, and intent wins over observed process state.
func (m *Manager) Remove(ctx context.Context, localArg string) (model.Mapping, error) {
	local, _, err := m.validator.Address(ctx, localArg, validate.RoleLocal)
	if err != nil {
		return model.Mapping{}, err
	}

	unlock, err := m.store.Lock()
	if err != nil {
		return model.Mapping{}, err
	}
	defer unlock()

	mp, ok, err := m.store.FindByLocal(local)
	if err != nil {
		return model.Mapping{}, err
	}
	if !ok {
		return model.Mapping{}, &NotFoundError{Local: local}
	}

	if !m.supervisor.Terminate(ctx, mp.Handle) {
		slog.Warn("forwarder termination failed, removing record anyway",
			"local", mp.Local.String(), "handle", mp.Handle.String())
	}
	if err := m.store.DeleteByLocal(local); err != nil {
		return model.Mapping{}, err
	}
	m.journal(events.Event{
		EventType: events.TypeRemoved,
		Local:     mp.Local.String(),
		Remote:    mp.Remote.String(),
		Handle:    mp.Handle.String(),
	})
	return mp, nil
}

// List returns every mapping with its current liveness, in store order.
// Malformed store lines are skipped with a warning; doctor reports them.
func (m *Manager) List(ctx context.Context) ([]model.MappingStatus, error) {
	unlock, err := m.store.RLock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return m.statuses(ctx)
}

// statuses reads the store and probes liveness. Callers hold the lock.
func (m *Manager) statuses(ctx context.Context) ([]model.MappingStatus, error) {
	var out []model.MappingStatus
	for mp, err := range m.store.Records() {
		if err != nil {
			var le *store.LineError
			if errors.As(err, &le) {
				slog.Warn("skipping malformed store line", "error", le)
				continue
			}
			return nil, err
		}
		st := model.MappingStatus{Mapping: mp, Health: model.HealthDead}
		if m.supervisor.IsAlive(ctx, mp.Handle) {
			st.Health = model.HealthLive
			st.UptimeSec = int64(time.Since(mp.Handle.StartedAt()).Seconds())
		}
		out = append(out, st)
	}
	return out, nil
}

// RestoreResult summarizes one reconciliation pass.
type RestoreResult struct {
	Kept      []model.Mapping
	Restarted []model.Mapping
	Dropped   []DroppedMapping
}

// DroppedMapping is a record restore removed because its restart failed.
type DroppedMapping struct {
	Mapping model.Mapping
	Reason  error
}

// Restore walks the whole store: live mappings are kept unchanged, dead ones
// are restarted under a new handle, and dead ones whose restart fails are
// dropped from the store entirely, not retried and not retained. Every drop
// is reported in the result and in the event journal. The reconciled set
// replaces the store atomically at the end.
func (m *Manager) Restore(ctx context.Context) (RestoreResult, error) {
	unlock, err := m.store.Lock()
	if err != nil {
		return RestoreResult{}, err
	}
	defer unlock()

	var res RestoreResult
	var next []model.Mapping
	for mp, err := range m.store.Records() {
		if err != nil {
			var le *store.LineError
			if errors.As(err, &le) {
				slog.Warn("dropping malformed store line during restore", "error", le)
				continue
			}
			// I/O failure: abort before ReplaceAll can clobber anything.
			return res, err
		}
		if m.supervisor.IsAlive(ctx, mp.Handle) {
			next = append(next, mp)
			res.Kept = append(res.Kept, mp)
			continue
		}
		h, err := m.supervisor.Start(ctx, mp.Local, mp.Remote)
		if err != nil {
			slog.Warn("restart failed, dropping mapping",
				"local", mp.Local.String(), "remote", mp.Remote.String(), "error", err)
			res.Dropped = append(res.Dropped, DroppedMapping{Mapping: mp, Reason: err})
			m.journal(events.Event{
				EventType: events.TypeRestoreDropped,
				Local:     mp.Local.String(),
				Remote:    mp.Remote.String(),
				Handle:    mp.Handle.String(),
				Message:   err.Error(),
			})
			continue
		}
		mp.Handle = h
		next = append(next, mp)
		res.Restarted = append(res.Restarted, mp)
		m.journal(events.Event{
			EventType: events.TypeRestoreRestarted,
			Local:     mp.Local.String(),
			Remote:    mp.Remote.String(),
			Handle:    h.String(),
		})
	}
	if err := m.store.ReplaceAll(next); err != nil {
		return res, err
	}
	return res, nil
}

// Snapshot returns the same statuses as List plus a TCP latency probe of
// each live mapping's local endpoint. Probes run concurrently and the whole
// collection is bounded by the probe timeout, so a wedged forwarder cannot
// freeze the dashboard.
func (m *Manager) Snapshot(ctx context.Context) ([]model.MappingStatus, error) {
	out, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	type probeResult struct {
		index     int
		latencyMS int64
		err       error
	}

	results := make(chan probeResult, len(out))
	expected := 0
	for i, st := range out {
		if st.Health != model.HealthLive {
			continue
		}
		expected++
		go func(idx int, local string) {
			start := time.Now()
			conn, err := net.DialTimeout("tcp", local, util.ProbeTimeout)
			if err != nil {
				results <- probeResult{index: idx, err: err}
				return
			}
			_ = conn.Close()
			results <- probeResult{index: idx, latencyMS: time.Since(start).Milliseconds()}
		}(i, st.Local.String())
	}

	timeout := time.After(util.ProbeTimeout + 100*time.Millisecond)
	collected := 0
	for collected < expected {
		select {
		case result := <-results:
			if result.err != nil {
				// Don't flip health on a failed probe; liveness comes from
				// the process table, not the socket.
				slog.Debug("mapping probe failed", "local", out[result.index].Local.String(), "error", result.err)
			} else {
				out[result.index].LatencyMS = result.latencyMS
			}
			collected++
		case <-timeout:
			slog.Warn("mapping probe timeout", "collected", collected, "expected", expected)
			return out, nil
		}
	}
	return out, nil
}

func (m *Manager) journal(evt events.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Append(evt); err != nil {
		slog.Warn("failed to record event", "type", evt.EventType, "error", err)
	}
}
