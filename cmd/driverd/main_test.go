package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("DRIVERD_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("DRIVERD_CONFIG", "/etc/driverd.yaml")
	if got := getConfigPath(); got != "/etc/driverd.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestRun_MissingConfig(t *testing.T) {
	t.Setenv("DRIVERD_CONFIG", "/nonexistent/path/driverd.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config failure", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driverd.yaml")
	content := `
database:
  path: ""
logging:
  level: error
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("DRIVERD_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an empty database path")
	}
}

// TestRun_Standalone starts the process with MQTT, InfluxDB and the API
// disabled and an empty definitions file, then shuts it down.
func TestRun_Standalone(t *testing.T) {
	dir := t.TempDir()
	defsPath := filepath.Join(dir, "drivers.yaml")
	if err := os.WriteFile(defsPath, []byte("drivers: []\n"), 0o600); err != nil {
		t.Fatalf("writing definitions: %v", err)
	}
	path := filepath.Join(dir, "driverd.yaml")
	content := `
database:
  path: ` + filepath.Join(dir, "driverd.db") + `
drivers:
  file: ` + defsPath + `
  watch: true
mqtt:
  enabled: false
influxdb:
  enabled: false
api:
  enabled: false
logging:
  level: error
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("DRIVERD_CONFIG", path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
	if _, err := os.Stat(filepath.Join(dir, "driverd.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}
