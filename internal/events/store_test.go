package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreAppendReadAndFilters(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s := NewStore()

	base := time.Now().Add(-2 * time.Hour).UTC()
	seed := []Event{
		{Timestamp: base, Local: "127.0.0.1:8080", EventType: TypeAdded},
		{Timestamp: base.Add(10 * time.Minute), Local: "127.0.0.1:8080", EventType: TypeRestoreRestarted},
		{Timestamp: base.Add(20 * time.Minute), Local: "127.0.0.1:9090", EventType: TypeRestoreDropped},
	}
	for _, evt := range seed {
		if err := s.Append(evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := s.Read(Query{})
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	localOnly, err := s.Read(Query{Local: "127.0.0.1:8080"})
	if err != nil {
		t.Fatalf("read local: %v", err)
	}
	if len(localOnly) != 2 {
		t.Fatalf("expected 2 events for local, got %d", len(localOnly))
	}

	limited, err := s.Read(Query{Limit: 1})
	if err != nil {
		t.Fatalf("read limit: %v", err)
	}
	if len(limited) != 1 || limited[0].EventType != TypeRestoreDropped {
		t.Fatalf("unexpected limited result: %+v", limited)
	}

	since, err := s.Read(Query{Since: base.Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("read since: %v", err)
	}
	if len(since) != 1 || since[0].Local != "127.0.0.1:9090" {
		t.Fatalf("unexpected since result: %+v", since)
	}
}

func TestStoreReadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s := NewStore()
	got, err := s.Read(Query{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %+v", got)
	}
}

func TestStoreSkipsMalformedLines(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	s := NewStore()
	if err := s.Append(Event{Local: "127.0.0.1:8080", EventType: TypeAdded}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(xdg, "portkeep", "events.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{broken json\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := s.Append(Event{Local: "127.0.0.1:9090", EventType: TypeRemoved}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Read(Query{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events around the bad line, got %d", len(got))
	}
}
