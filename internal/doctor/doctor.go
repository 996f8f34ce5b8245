package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"portkeep/internal/appconfig"
	"portkeep/internal/engine"
	"portkeep/internal/model"
	"portkeep/internal/store"
	"portkeep/internal/supervise"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

func (r Report) HasHigh() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Run executes local diagnostics for portkeep operations.
func Run(ctx context.Context) (Report, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return Report{}, err
	}

	var issues []Issue

	if err := engine.Ensure(cfg.Forwarder.Command); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "forwarder-binary",
			Target:         cfg.Forwarder.Command,
			Message:        err.Error(),
			Recommendation: "install socat or point forwarder.command at another relay binary",
		})
	}

	if dir, err := appconfig.ConfigDir(); err == nil {
		checkWritable(&issues, dir, false)
		checkWritable(&issues, filepath.Join(dir, "config.yaml"), true)
	}
	checkWritable(&issues, cfg.StoreFile, true)

	issues = append(issues, storeIssues(ctx, store.New(cfg.StoreFile))...)

	if f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "log-path",
			Target:         cfg.LogFile,
			Message:        fmt.Sprintf("log file is not writable: %v", err),
			Recommendation: "set log_file in config.yaml to a writable path",
		})
	} else {
		f.Close()
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

// storeIssues scans the mapping store under a shared lock and reports
// malformed lines, unreadable files, duplicate local endpoints, and
// mappings whose forwarder process is gone.
func storeIssues(ctx context.Context, st *store.Store) []Issue {
	var issues []Issue

	unlock, err := st.RLock()
	if err != nil {
		return append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "store-lock",
			Target:         st.LockPath(),
			Message:        fmt.Sprintf("cannot acquire store lock: %v", err),
			Recommendation: "verify the lock file path is writable",
		})
	}
	defer unlock()

	var mappings []model.Mapping
	for m, rerr := range st.Records() {
		if rerr != nil {
			var le *store.LineError
			if errors.As(rerr, &le) {
				issues = append(issues, Issue{
					Severity:       SeverityMedium,
					Check:          "store-malformed",
					Target:         fmt.Sprintf("line %d", le.N),
					Message:        le.Err.Error(),
					Recommendation: "remove the line by hand, or run `portkeep restore` to drop it",
				})
				continue
			}
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "store-unreadable",
				Target:         st.Path,
				Message:        rerr.Error(),
				Recommendation: "fix store file access before running add/remove/restore",
			})
			return issues
		}
		mappings = append(mappings, m)
	}

	seen := map[string]int{}
	for _, m := range mappings {
		seen[m.Local.String()]++
	}
	for local, n := range seen {
		if n < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local",
			Target:         local,
			Message:        fmt.Sprintf("local endpoint appears in %d records", n),
			Recommendation: "remove the stale records; only one forwarder can bind a local endpoint",
		})
	}

	sup := supervise.New(nil)
	for _, m := range mappings {
		if sup.IsAlive(ctx, m.Handle) {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityMedium,
			Check:          "dead-mapping",
			Target:         m.Local.String(),
			Message:        fmt.Sprintf("no live forwarder process for handle %s", m.Handle),
			Recommendation: "run `portkeep restore` to restart or drop it",
		})
	}
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// checkWritable flags paths that group or other users could rewrite.
func checkWritable(issues *[]Issue, path string, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*issues = append(*issues, Issue{
			Severity:       SeverityLow,
			Check:          "path-perms",
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode&0o022 != 0 {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*issues = append(*issues, Issue{
			Severity:       SeverityMedium,
			Check:          "path-perms",
			Target:         path,
			Message:        fmt.Sprintf("%s is writable by group or others (%#o)", kind, mode),
			Recommendation: "restrict write permission to the owner",
		})
	}
}
