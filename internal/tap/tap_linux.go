//go:build linux

package tap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

const cloneDevice = "/dev/net/tun"

// Interface is an open TAP device.
type Interface struct {
	file *os.File
	name string
}

// Open creates (or attaches to) the TAP interface cfg.Name without packet information headers,
// then assigns cfg.MAC and cfg.IP/24 and brings it up. Requires CAP_NET_ADMIN.
func Open(ctx context.Context, cfg Config, run Runner) (*Interface, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if run == nil {
		run = ExecRunner
	}

	fd, err := unix.Open(cloneDevice, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cloneDevice, err)
	}

	ifr, err := unix.NewIfreq(cfg.Name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("interface request %q: %w", cfg.Name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF %q: %w", cfg.Name, err)
	}

	// Non-blocking fds are registered with the runtime poller, so Close unblocks a pending Read.
	iface := &Interface{
		file: os.NewFile(uintptr(fd), cloneDevice),
		name: ifr.Name(),
	}

	if err := Configure(ctx, run, iface.name, cfg.MAC, cfg.IP); err != nil {
		iface.Close()
		return nil, err
	}

	slog.Info("tap interface up", "name", iface.name, "mac", cfg.MAC.String(), "ip", cfg.IP.String())
	return iface, nil
}

func (i *Interface) Name() string { return i.name }

func (i *Interface) Read(p []byte) (int, error) { return i.file.Read(p) }

func (i *Interface) Write(p []byte) (int, error) { return i.file.Write(p) }

func (i *Interface) Close() error { return i.file.Close() }
