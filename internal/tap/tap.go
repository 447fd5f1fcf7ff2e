// Package tap binds the client to a kernel TAP interface.
package tap

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"strings"

	"firestige.xyz/l2vpn/internal/wire"
)

// IFNAMSIZ minus the terminating NUL.
const maxNameLen = 15

// PrefixLen of the address added to the interface.
const PrefixLen = 24

// ErrUnsupported is returned on platforms without TAP support.
var ErrUnsupported = errors.New("l2vpn: tap devices are not supported on this platform")

// Device is a layer-2 virtual interface. Each Read returns one frame.
type Device interface {
	Name() string
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Config describes the interface to create.
type Config struct {
	Name string
	MAC  wire.MAC
	IP   netip.Addr
}

func (c Config) validate() error {
	if c.Name == "" || len(c.Name) > maxNameLen {
		return fmt.Errorf("interface name %q must be 1-%d bytes", c.Name, maxNameLen)
	}
	if !c.IP.Is4() {
		return fmt.Errorf("interface address %s is not IPv4", c.IP)
	}
	return nil
}

// Runner executes a configuration command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// commands returns the ip(8) invocations that assign mac and ip/24 to name and bring it up.
func commands(name string, mac wire.MAC, ip netip.Addr) [][]string {
	prefix := netip.PrefixFrom(ip, PrefixLen)
	return [][]string{
		{"ip", "link", "set", "dev", name, "address", mac.String()},
		{"ip", "addr", "add", prefix.String(), "dev", name},
		{"ip", "link", "set", name, "up"},
	}
}

// Configure assigns the identity to an existing interface.
func Configure(ctx context.Context, run Runner, name string, mac wire.MAC, ip netip.Addr) error {
	for _, argv := range commands(name, mac, ip) {
		out, err := run(ctx, argv[0], argv[1:]...)
		if err != nil {
			return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
