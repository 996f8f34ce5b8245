package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forwarder.Command != "socat" {
		t.Fatalf("unexpected forwarder command: %s", cfg.Forwarder.Command)
	}
	if cfg.UI.RefreshSeconds != 3 {
		t.Fatalf("unexpected refresh seconds: %d", cfg.UI.RefreshSeconds)
	}
	if cfg.Watch.IntervalSeconds != 30 {
		t.Fatalf("unexpected watch interval: %d", cfg.Watch.IntervalSeconds)
	}
	want := filepath.Join(xdg, "portkeep", "mappings")
	if cfg.StoreFile != want {
		t.Fatalf("store file = %s, want %s", cfg.StoreFile, want)
	}
	if cfg.LogFile != "/var/log/portkeep.log" {
		t.Fatalf("unexpected log file: %s", cfg.LogFile)
	}
}

func TestLoad_CreatesConfigFile(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if _, err := Load(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(xdg, "portkeep", "config.yaml")); err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
}

func TestLoad_NormalizesInvalidValues(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, "portkeep")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	content := []byte(strings.Join([]string{
		"forwarder:",
		"  command: \"\"",
		"ui:",
		"  refresh_seconds: -1",
		"watch:",
		"  interval_seconds: 0",
		"",
	}, "\n"))
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forwarder.Command != "socat" {
		t.Fatalf("expected normalized forwarder command, got %s", cfg.Forwarder.Command)
	}
	if cfg.UI.RefreshSeconds != 3 {
		t.Fatalf("expected normalized refresh seconds, got %d", cfg.UI.RefreshSeconds)
	}
	if cfg.Watch.IntervalSeconds != 30 {
		t.Fatalf("expected normalized watch interval, got %d", cfg.Watch.IntervalSeconds)
	}
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, "portkeep")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	content := []byte("store_file: /tmp/from-yaml\nforwarder:\n  command: socat\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORTKEEP_STORE_FILE", "/tmp/from-env")
	t.Setenv("PORTKEEP_LOG_FILE", "/tmp/env.log")
	t.Setenv("PORTKEEP_FORWARDER", "socat-wrapper")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreFile != "/tmp/from-env" {
		t.Fatalf("store file = %s, want env override", cfg.StoreFile)
	}
	if cfg.LogFile != "/tmp/env.log" {
		t.Fatalf("log file = %s, want env override", cfg.LogFile)
	}
	if cfg.Forwarder.Command != "socat-wrapper" {
		t.Fatalf("forwarder = %s, want env override", cfg.Forwarder.Command)
	}
}
