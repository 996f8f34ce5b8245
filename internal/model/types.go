package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Endpoint is one side of a forwarding rule: a numeric IPv4 address or
// hostname plus a TCP port.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ParseEndpoint splits a colon-separated "host:port" pair. It checks shape
// only; semantic validation (port range, address class) happens in the
// validate package.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, ok := strings.Cut(s, ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: expected host:port", s)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: empty host", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: port is not a number", s)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Handle identifies one forwarder process. The PID alone is not enough to
// claim ownership because the kernel recycles PIDs; the process start time
// pins the handle to a single incarnation. Handles render as
// "<pid>:<start-unix-milli>" in the store file.
type Handle struct {
	PID     int   `json:"pid"`
	StartMS int64 `json:"start_ms"`
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.PID, h.StartMS)
}

func (h Handle) StartedAt() time.Time {
	return time.UnixMilli(h.StartMS)
}

// ParseHandle is the inverse of Handle.String. Bare "<pid>" is accepted for
// store files written before start times were recorded; such handles carry
// StartMS zero and never pass a liveness check.
func ParseHandle(s string) (Handle, error) {
	pidStr, msStr, found := strings.Cut(s, ":")
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return Handle{}, fmt.Errorf("handle %q: bad pid", s)
	}
	if !found {
		return Handle{PID: pid}, nil
	}
	ms, err := strconv.ParseInt(msStr, 10, 64)
	if err != nil || ms < 0 {
		return Handle{}, fmt.Errorf("handle %q: bad start time", s)
	}
	return Handle{PID: pid, StartMS: ms}, nil
}

// Health describes what a liveness probe concluded about a mapping's
// forwarder process.
type Health string

const (
	HealthLive Health = "live"
	HealthDead Health = "dead"
)

// Mapping is one persisted forwarding rule: traffic arriving on Local is
// relayed to Remote by the process identified by Handle.
type Mapping struct {
	Local  Endpoint `json:"local"`
	Remote Endpoint `json:"remote"`
	Handle Handle   `json:"handle"`
}

// Record renders the mapping as a store line: three space-separated fields.
func (m Mapping) Record() string {
	return fmt.Sprintf("%s %s %s", m.Local, m.Remote, m.Handle)
}

// ParseRecord is the inverse of Record. Lines with the wrong field count or
// unparseable fields are rejected; callers decide whether to skip or report.
func ParseRecord(line string) (Mapping, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Mapping{}, fmt.Errorf("record %q: expected 3 fields, got %d", line, len(fields))
	}
	local, err := ParseEndpoint(fields[0])
	if err != nil {
		return Mapping{}, fmt.Errorf("record %q: local: %w", line, err)
	}
	remote, err := ParseEndpoint(fields[1])
	if err != nil {
		return Mapping{}, fmt.Errorf("record %q: remote: %w", line, err)
	}
	handle, err := ParseHandle(fields[2])
	if err != nil {
		return Mapping{}, fmt.Errorf("record %q: %w", line, err)
	}
	return Mapping{Local: local, Remote: remote, Handle: handle}, nil
}

// MappingStatus pairs a mapping with the result of a liveness probe, for
// list output and the dashboard. LatencyMS is only filled by snapshot
// probes; plain list output leaves it zero.
type MappingStatus struct {
	Mapping
	Health    Health `json:"health"`
	UptimeSec int64  `json:"uptime_seconds"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}
