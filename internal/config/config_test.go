package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/l2vpn/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "l2vpn.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
l2vpn:
  switch:
    listen: "127.0.0.1:4000"
    base: "10.0.0"
    vendor: "aa:bb:cc"
    write_timeout: "2s"
    flood_multicast: true
  client:
    interface: "tap7"
    server: "192.0.2.1:4000"
    handshake_timeout: "3s"
  control:
    socket: "/tmp/test.sock"
    pid_file: "/tmp/test.pid"
  log:
    level: "debug"
    format: "json"
  events:
    type: "kafka"
    queue_size: 16
    options:
      brokers: ["localhost:9092"]
      topic: "l2vpn-sessions"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Switch.Listen != "127.0.0.1:4000" {
		t.Errorf("Expected listen 127.0.0.1:4000, got %s", cfg.Switch.Listen)
	}
	if cfg.Switch.Base != "10.0.0" {
		t.Errorf("Expected base 10.0.0, got %s", cfg.Switch.Base)
	}
	if cfg.Switch.Vendor != "aa:bb:cc" {
		t.Errorf("Expected vendor aa:bb:cc, got %s", cfg.Switch.Vendor)
	}
	if cfg.Switch.WriteTimeout != 2*time.Second {
		t.Errorf("Expected write timeout 2s, got %v", cfg.Switch.WriteTimeout)
	}
	if !cfg.Switch.FloodMulticast {
		t.Error("Expected flood_multicast true")
	}
	if cfg.Client.Interface != "tap7" || cfg.Client.HandshakeTimeout != 3*time.Second {
		t.Errorf("Unexpected client config: %+v", cfg.Client)
	}
	if cfg.Control.PIDFile != "/tmp/test.pid" {
		t.Errorf("Expected PIDFile /tmp/test.pid, got %s", cfg.Control.PIDFile)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if cfg.Events.Type != "kafka" || cfg.Events.QueueSize != 16 {
		t.Errorf("Unexpected events config: %+v", cfg.Events)
	}
	if cfg.Events.Options["topic"] != "l2vpn-sessions" {
		t.Errorf("Expected events.options.topic, got %v", cfg.Events.Options)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Switch.Base != DefaultBase {
		t.Errorf("Expected default base %s, got %s", DefaultBase, cfg.Switch.Base)
	}
	if cfg.Switch.Vendor != DefaultVendor {
		t.Errorf("Expected default vendor %s, got %s", DefaultVendor, cfg.Switch.Vendor)
	}
	if cfg.Switch.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("Expected default write timeout, got %v", cfg.Switch.WriteTimeout)
	}
	if cfg.Switch.FloodMulticast {
		t.Error("Expected flood_multicast off by default")
	}
	if cfg.Control.Socket != DefaultSocket {
		t.Errorf("Expected default socket %s, got %s", DefaultSocket, cfg.Control.Socket)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.Events.Type != "none" {
		t.Errorf("Expected default events type none, got %s", cfg.Events.Type)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
l2vpn:
  log:
    level: "invalid"
`)

	_, err := Load(path)
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid for invalid log level, got %v", err)
	}
}

func TestLoadInvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
l2vpn:
  log:
    format: "xml"
`)

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid log format, got nil")
	}
}

func TestLoadInvalidEventsType(t *testing.T) {
	path := writeConfig(t, `
l2vpn:
  events:
    type: "carrier-pigeon"
`)

	if _, err := Load(path); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid for unknown events type, got %v", err)
	}
}

func TestLoadInvalidListen(t *testing.T) {
	path := writeConfig(t, `
l2vpn:
  switch:
    listen: "no-port"
`)

	if _, err := Load(path); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid for bad listen address, got %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
l2vpn:
  log:
    level: "info"
`)

	t.Setenv("L2VPN_LOG_LEVEL", "debug")
	t.Setenv("L2VPN_SWITCH_BASE", "10.9.8")
	t.Setenv("L2VPN_SWITCH_WRITE_TIMEOUT", "750ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
	if cfg.Switch.Base != "10.9.8" {
		t.Errorf("Expected base 10.9.8 from env var, got %s", cfg.Switch.Base)
	}
	if cfg.Switch.WriteTimeout != 750*time.Millisecond {
		t.Errorf("Expected write timeout 750ms from env var, got %v", cfg.Switch.WriteTimeout)
	}
}

func TestLoadEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("L2VPN_SWITCH_VENDOR=de:ad:be\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	// Registered so the variable is restored after the test.
	t.Setenv("L2VPN_SWITCH_VENDOR", "")
	os.Unsetenv("L2VPN_SWITCH_VENDOR")

	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Switch.Vendor != "de:ad:be" {
		t.Errorf("Expected vendor de:ad:be from env file, got %s", cfg.Switch.Vendor)
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	if err := LoadEnvFile(""); err != nil {
		t.Errorf("Empty env file path should be a no-op, got %v", err)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Error("Expected error for missing env file, got nil")
	}
}
