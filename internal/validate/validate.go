// Package validate checks forwarding-rule addresses before anything is
// spawned or persisted.
//
// Address syntax is deliberately narrow: a local endpoint must be a
// dotted-quad IPv4 literal with a port, a remote endpoint may substitute a
// hostname for the literal. Nothing that could contain whitespace or quoting
// ever passes, which is what keeps the store's space-separated record format
// safe without an escaping scheme.
package validate

import (
	"context"
	"fmt"
	"net"
	"strings"

	"portkeep/internal/model"
	"portkeep/internal/util"
)

// Role states which side of a mapping an address is for. Local addresses
// must be bindable here, so hostnames are not accepted for them.
type Role string

const (
	RoleLocal  Role = "local"
	RoleRemote Role = "remote"
)

// FormatError reports an address that does not fit the host:port shape or
// whose parts are out of range for its role.
type FormatError struct {
	Addr   string
	Role   Role
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s address %q: %s", e.Role, e.Addr, e.Reason)
}

// ResolutionError reports a remote hostname the system resolver could not
// answer for.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve host %q: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver is the one capability the validator needs from the outside world.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Validator checks addresses for use in mappings. A nil Resolver means no
// resolver is available on this system: remote hostnames are then accepted
// unresolved with a warning instead of being rejected.
type Validator struct {
	Resolver Resolver
}

// New returns a Validator backed by the OS resolver.
func New() *Validator {
	return &Validator{Resolver: net.DefaultResolver}
}

// Address parses and checks addr for the given role. It returns the parsed
// endpoint plus any non-fatal warnings. The only side effect is a resolver
// query for remote hostnames.
func (v *Validator) Address(ctx context.Context, addr string, role Role) (model.Endpoint, []string, error) {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return model.Endpoint{}, nil, &FormatError{Addr: addr, Role: role, Reason: "expected host:port"}
	}
	if host == "" {
		return model.Endpoint{}, nil, &FormatError{Addr: addr, Role: role, Reason: "empty host"}
	}
	port, err := util.ParsePort(portStr)
	if err != nil {
		return model.Endpoint{}, nil, &FormatError{Addr: addr, Role: role, Reason: err.Error()}
	}

	switch role {
	case RoleLocal:
		if !isIPv4(host) {
			return model.Endpoint{}, nil, &FormatError{Addr: addr, Role: role, Reason: "local host must be an IPv4 literal"}
		}
	case RoleRemote:
		if isIPv4(host) {
			break
		}
		if !isHostname(host) {
			return model.Endpoint{}, nil, &FormatError{Addr: addr, Role: role, Reason: "host is neither an IPv4 literal nor a valid hostname"}
		}
		if v.Resolver == nil {
			warn := fmt.Sprintf("no resolver available, accepting %q unresolved", host)
			return model.Endpoint{Host: host, Port: port}, []string{warn}, nil
		}
		if _, err := v.Resolver.LookupHost(ctx, host); err != nil {
			return model.Endpoint{}, nil, &ResolutionError{Host: host, Err: err}
		}
	default:
		return model.Endpoint{}, nil, fmt.Errorf("unknown address role %q", role)
	}

	return model.Endpoint{Host: host, Port: port}, nil, nil
}

// isIPv4 reports whether host is a dotted-quad IPv4 literal. The dot-count
// check rules out shorthand forms net.ParseIP tolerates.
func isIPv4(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil && strings.Count(host, ".") == 3
}

// isHostname reports whether host is made of alphanumeric/hyphen labels
// separated by dots, with no label empty or hyphen-edged.
func isHostname(host string) bool {
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if label == "" {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '-':
			default:
				return false
			}
		}
	}
	return true
}
