// Package store persists the mapping table: one newline-terminated record per
// line, three space-separated fields "local remote handle", in insertion
// order. The file is the single source of truth for which mappings should
// exist; liveness is never stored, only derived.
//
// Store methods do not serialize against other portkeep invocations on their
// own. Multi-step read-modify-write sequences (lookup then append, scan then
// replace) are only safe under the advisory lock: callers take Lock or RLock
// for the whole sequence and release it when done. Single commands in the cli
// package do exactly that.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"portkeep/internal/model"
)

// Store reads and writes the mapping file at Path.
type Store struct {
	Path string
}

// LineError reports a store line that does not parse as a record. Records
// yields it in place of a mapping so iteration can continue; any other error
// from Records is an I/O failure and ends the iteration. The distinction
// matters: a malformed line is skippable, an unreadable store must never be
// treated as empty.
type LineError struct {
	N   int // 1-based line number
	Err error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.N, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// New returns a Store over the mapping file at path.
func New(path string) *Store {
	return &Store{Path: path}
}

// LockPath returns the sidecar file the advisory lock is held on. The lock
// cannot live on the store file itself: ReplaceAll swaps the inode via
// rename, which would strand a lock taken on the old inode while a second
// process locks the new one.
func (s *Store) LockPath() string {
	return s.Path + ".lock"
}

func (s *Store) flock(how int) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.LockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", s.LockPath(), err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

// Lock takes the exclusive advisory lock, blocking until it is free. The
// returned func releases it.
func (s *Store) Lock() (func(), error) {
	return s.flock(unix.LOCK_EX)
}

// RLock takes the shared advisory lock for read-only sequences.
func (s *Store) RLock() (func(), error) {
	return s.flock(unix.LOCK_SH)
}

// Append adds one record to the end of the file, creating it if needed.
// Pre-conditions (the command handler's job, not enforced here): no existing
// record shares the local endpoint, and the caller holds the exclusive lock.
func (s *Store) Append(m model.Mapping) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	_, werr := fmt.Fprintln(f, m.Record())
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append record: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("append record: %w", cerr)
	}
	return nil
}

// Records yields every record in file order. Malformed lines yield a
// *LineError in place of a mapping and iteration continues, so callers
// choose between skipping bad lines (list, restore) and reporting them
// (doctor). An I/O failure yields its error and stops. A missing file yields
// nothing. The sequence can be ranged over any number of times; each range
// re-reads the file.
func (s *Store) Records() iter.Seq2[model.Mapping, error] {
	return func(yield func(model.Mapping, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return
			}
			yield(model.Mapping{}, fmt.Errorf("open store: %w", err))
			return
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		n := 0
		for sc.Scan() {
			n++
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			m, err := model.ParseRecord(line)
			if err != nil {
				if !yield(model.Mapping{}, &LineError{N: n, Err: err}) {
					return
				}
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(model.Mapping{}, fmt.Errorf("read store: %w", err))
		}
	}
}

// All collects every well-formed record, skipping malformed lines. I/O
// failures are returned, never swallowed.
func (s *Store) All() ([]model.Mapping, error) {
	var out []model.Mapping
	for m, err := range s.Records() {
		if err != nil {
			var le *LineError
			if errors.As(err, &le) {
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// FindByLocal returns the first record bound to local.
func (s *Store) FindByLocal(local model.Endpoint) (model.Mapping, bool, error) {
	for m, err := range s.Records() {
		if err != nil {
			var le *LineError
			if errors.As(err, &le) {
				continue
			}
			return model.Mapping{}, false, err
		}
		if m.Local == local {
			return m, true, nil
		}
	}
	return model.Mapping{}, false, nil
}

// DeleteByLocal removes every record whose local endpoint matches. When
// nothing matches the file is left untouched, byte for byte. Lines that do
// not parse as records are never deleted here; doctor reports them and
// ReplaceAll is what clears them out.
func (s *Store) DeleteByLocal(local model.Endpoint) error {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open store: %w", err)
	}
	var kept []string
	removed := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		m, err := model.ParseRecord(line)
		if err == nil && m.Local == local {
			removed = true
			continue
		}
		kept = append(kept, line)
	}
	serr := sc.Err()
	f.Close()
	if serr != nil {
		return fmt.Errorf("read store: %w", serr)
	}
	if !removed {
		return nil
	}
	return s.writeAtomic(kept)
}

// ReplaceAll atomically swaps the entire record set. Used by restore so a
// concurrent reader never observes a half-written table.
func (s *Store) ReplaceAll(ms []model.Mapping) error {
	lines := make([]string, 0, len(ms))
	for _, m := range ms {
		lines = append(lines, m.Record())
	}
	return s.writeAtomic(lines)
}

// writeAtomic writes lines to a temp file beside the store, then renames it
// into place.
func (s *Store) writeAtomic(lines []string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
