// Package util provides common utility functions and constants used across the
// portkeep application. This package is intentionally kept dependency-free
// (no imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "time"

const (
	// ProbeTimeout is the maximum time allowed for a single TCP health-check
	// probe against a mapping's local endpoint. If the connection is not
	// established within this duration, the probe is considered failed.
	//
	// This timeout is used in internal/manager/manager.go (Snapshot):
	//   - As the dial timeout for net.DialTimeout per mapping.
	//   - As the base for the overall probe collection timeout (ProbeTimeout + 100ms).
	//
	// The 500ms value balances responsiveness (the dashboard shouldn't freeze)
	// with reliability (loopback TCP connections should complete well under
	// 500ms unless the forwarder is genuinely unhealthy).
	ProbeTimeout = 500 * time.Millisecond

	// DefaultRefreshSeconds is the fallback interval (in seconds) for the TUI
	// dashboard's periodic mapping status refresh. This value is used when:
	//   - The user's config.yaml has an invalid or missing refresh_seconds value.
	//   - The application config has not been loaded yet.
	//
	// A 3-second interval provides near-real-time status updates without
	// generating excessive CPU load from health-check probes.
	// Used by: internal/appconfig/config.go (Default, Load); the dashboard
	// reads the loaded value through Config.UI.RefreshSeconds.
	DefaultRefreshSeconds = 3

	// DefaultWatchSeconds is the fallback interval (in seconds) between
	// reconciliation passes in `portkeep watch`. Each pass runs the same
	// logic as `portkeep restore`, so the interval bounds how long a crashed
	// forwarder stays down before it is relaunched.
	// Used by: internal/appconfig/config.go (Default, Load); the watch command
	// reads the loaded value through Config.Watch.IntervalSeconds.
	DefaultWatchSeconds = 30
)
