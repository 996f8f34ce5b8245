// Package logging points the process-wide slog default at the portkeep log
// file. The same file also receives the stdout/stderr of spawned forwarder
// processes, so the one file tells the whole story of a mapping.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Open appends to the log file at path and installs it as the default slog
// sink. When the file cannot be opened (no /var/log access on a stock user
// account, say) logging falls back to stderr and the open error is returned
// so the caller can warn; the program keeps running either way.
func Open(path string, debug bool) (io.Closer, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, opts)))
	return f, nil
}
