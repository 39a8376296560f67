package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"firestige.xyz/meshnode/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
meshnode:
  node:
    hostname: "node-1"
  control:
    socket: "/tmp/test.sock"
    pid_file: "/tmp/test.pid"
  classifier:
    enable_ipv4: true
    enable_ipv6: false
    dns_capture: true
  dataplane:
    enabled: true
    bpffs_path: "/sys/fs/bpf/test"
  metrics:
    enabled: true
    listen: ":9099"
  log:
    level: "debug"
    format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Node.Hostname != "node-1" {
		t.Errorf("Expected hostname node-1, got %s", cfg.Node.Hostname)
	}
	if cfg.Control.Socket != "/tmp/test.sock" {
		t.Errorf("Expected socket /tmp/test.sock, got %s", cfg.Control.Socket)
	}
	if !cfg.Classifier.DNSCapture {
		t.Error("Expected dns_capture true")
	}
	if cfg.Classifier.EnableIPv6 {
		t.Error("Expected enable_ipv6 false")
	}
	if !cfg.Dataplane.Enabled || cfg.Dataplane.BPFFSPath != "/sys/fs/bpf/test" {
		t.Errorf("Unexpected dataplane config: %+v", cfg.Dataplane)
	}
	if cfg.Metrics.Listen != ":9099" {
		t.Errorf("Expected metrics listen :9099, got %s", cfg.Metrics.Listen)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "meshnode: {}\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Control.Socket != "/var/run/meshnode.sock" {
		t.Errorf("Unexpected default socket: %s", cfg.Control.Socket)
	}
	if !cfg.Classifier.EnableIPv4 || !cfg.Classifier.EnableIPv6 {
		t.Error("Both families should default to enabled")
	}
	if cfg.Classifier.DNSCapture {
		t.Error("dns_capture should default to disabled")
	}
	if cfg.Dataplane.Enabled {
		t.Error("dataplane should default to disabled")
	}
	if cfg.Node.Hostname == "" {
		t.Error("Hostname should be auto-detected")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log defaults: %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	_, err := Load(writeConfig(t, `
meshnode:
  log:
    level: "verbose"
`))
	if err == nil {
		t.Fatal("Expected error for invalid log level")
	}
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadBothFamiliesDisabled(t *testing.T) {
	_, err := Load(writeConfig(t, `
meshnode:
  classifier:
    enable_ipv4: false
    enable_ipv6: false
`))
	if err == nil {
		t.Fatal("Expected error when both families disabled")
	}
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yml"); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}
