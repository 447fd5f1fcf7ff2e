package daemon

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"firestige.xyz/l2vpn/internal/command"
	"firestige.xyz/l2vpn/internal/config"
	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/endpoint"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Switch.Listen = "127.0.0.1:0"
	cfg.Switch.Base = "10.9.0"
	cfg.Control.Socket = filepath.Join(tmpDir, "l2vpn.sock")
	cfg.Control.PIDFile = filepath.Join(tmpDir, "l2vpn.pid")
	cfg.Events.Type = "log"
	return cfg
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(cfg, "")
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	// Verify PID file was created
	pid, err := ReadPID(cfg.Control.PIDFile)
	if err != nil {
		t.Fatalf("PID file not readable: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("PID = %d, want %d", pid, os.Getpid())
	}

	// Verify UDS socket accepts connections
	if !SocketAlive(cfg.Control.Socket) {
		t.Errorf("UDS socket not alive: %s", cfg.Control.Socket)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	// A client joins through the switch port.
	host, portStr, _ := net.SplitHostPort(d.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ep, err := endpoint.Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("connect to switch: %v", err)
	}
	defer ep.Close()
	if !netip.MustParsePrefix("10.9.0.0/24").Contains(ep.IP()) {
		t.Errorf("assigned ip = %s, want one in 10.9.0.0/24", ep.IP())
	}

	client := command.NewUDSClient(cfg.Control.Socket, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	list, err := client.SessionList(ctx)
	if err != nil {
		t.Fatalf("session_list: %v", err)
	}
	if list.Count != 1 || list.Sessions[0].MAC != ep.MAC().String() {
		t.Errorf("sessions = %+v", list.Sessions)
	}

	status, err := client.SwitchStatus(ctx)
	if err != nil {
		t.Fatalf("switch_status: %v", err)
	}
	if status.Switch.Base != "10.9.0" || status.Switch.Sessions != 1 {
		t.Errorf("status = %+v", status.Switch)
	}

	// Stop through the control socket
	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("daemon_shutdown: %v", err)
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	// The session was closed by the shutdown
	if _, err := ep.Receive(ctx); err == nil {
		t.Error("expected session to be closed after shutdown")
	}

	if _, err := os.Stat(cfg.Control.PIDFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", cfg.Control.PIDFile)
	}
	if _, err := os.Stat(cfg.Control.Socket); !os.IsNotExist(err) {
		t.Errorf("UDS socket was not removed after shutdown: %s", cfg.Control.Socket)
	}
}

func TestDaemon_TriggerShutdownTwice(t *testing.T) {
	d, err := New(testConfig(t), "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	d.TriggerShutdown()
	d.TriggerShutdown()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	d.Stop()
}

func TestDaemon_StartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Switch.Listen = ln.Addr().String()

	d, err := New(cfg, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err == nil {
		t.Fatal("expected start to fail on a busy port")
	}

	if _, err := os.Stat(cfg.Control.PIDFile); !os.IsNotExist(err) {
		t.Error("PID file left behind after failed start")
	}
}

func TestDaemon_StartFailsOnBadBase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Switch.Base = "10.0"

	d, err := New(cfg, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	err = d.Start()
	if !errors.Is(err, core.ErrInvalidAddress) {
		t.Errorf("start error = %v, want ErrInvalidAddress", err)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "verbose"

	if _, err := New(cfg, ""); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("New error = %v, want ErrConfigInvalid", err)
	}
}

func TestDaemon_ReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "l2vpn.yml")
	socketPath := filepath.Join(tmpDir, "l2vpn.sock")

	writeConfig := func(level string) {
		content := `
l2vpn:
  switch:
    listen: 127.0.0.1:0
    base: "10.8.0"
  control:
    socket: ` + socketPath + `
    pid_file: ` + filepath.Join(tmpDir, "l2vpn.pid") + `
  log:
    level: ` + level + `
    format: text
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}

	writeConfig("info")
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	d, err := New(cfg, configPath)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if got := d.LogConfig().Level; got != "info" {
		t.Fatalf("expected initial level info, got %s", got)
	}

	writeConfig("debug")
	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := d.LogConfig().Level; got != "debug" {
		t.Errorf("level after reload = %s, want debug", got)
	}

	// The same reload through the control socket
	writeConfig("warn")
	client := command.NewUDSClient(socketPath, 2*time.Second)
	if err := client.ConfigReload(context.Background()); err != nil {
		t.Fatalf("config_reload: %v", err)
	}
	if got := d.LogConfig().Level; got != "warn" {
		t.Errorf("level after config_reload = %s, want warn", got)
	}

	// A bad level is rejected and the old one stays
	writeConfig("loud")
	if err := d.Reload(); err == nil {
		t.Error("expected reload to fail on invalid level")
	}
	if got := d.LogConfig().Level; got != "warn" {
		t.Errorf("level after failed reload = %s, want warn", got)
	}
}

func TestRestartRequired(t *testing.T) {
	running := testConfig(t)

	same := *running
	if got := restartRequired(running, &same); len(got) != 0 {
		t.Errorf("unchanged config reported %v", got)
	}

	changed := *running
	changed.Switch.Base = "10.7.0"
	changed.Events.Type = "none"
	changed.Log.Level = "debug"
	got := restartRequired(running, &changed)
	want := []string{"switch.base/vendor", "events.type"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("restartRequired = %v, want %v", got, want)
	}
}

func TestDaemon_ReloadReappliesOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "l2vpn.yml")
	logPath := filepath.Join(tmpDir, "l2vpn.log")

	writeConfig := func(base string) {
		content := `
l2vpn:
  switch:
    listen: 127.0.0.1:0
    base: "` + base + `"
  control:
    socket: ` + filepath.Join(tmpDir, "l2vpn.sock") + `
    pid_file: ` + filepath.Join(tmpDir, "l2vpn.pid") + `
  log:
    level: info
    format: text
    outputs:
      file:
        enabled: true
        path: ` + logPath + `
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}

	// the command line moved the pool to 10.7.0
	overrides := func(c *config.Config) error {
		c.Switch.Base = "10.7.0"
		return nil
	}

	writeConfig("10.8.0")
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := overrides(cfg); err != nil {
		t.Fatalf("overrides: %v", err)
	}

	d, err := New(cfg, configPath, WithOverrides(overrides))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	reloadedLine := func() string {
		t.Helper()
		if err := d.Reload(); err != nil {
			t.Fatalf("reload: %v", err)
		}
		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		var last string
		for _, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, "configuration reloaded") {
				last = line
			}
		}
		return last
	}

	if line := reloadedLine(); !strings.Contains(line, "requires_restart=[]") {
		t.Errorf("unchanged file reported a restart: %s", line)
	}

	// the override still wins over a file edit
	writeConfig("10.6.0")
	if line := reloadedLine(); !strings.Contains(line, "requires_restart=[]") {
		t.Errorf("overridden base reported a restart: %s", line)
	}
	if d.config.Switch.Base != "10.7.0" {
		t.Errorf("running base = %s, want 10.7.0", d.config.Switch.Base)
	}
}
