package cmd

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/l2vpn/internal/config"
	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/daemon"
)

// switchCmd runs the switch daemon in the foreground.
var switchCmd = &cobra.Command{
	Use:   "switch <bind-ip> <bind-port>",
	Short: "Run the switch",
	Long: `Run the central switch in the foreground.

The switch will:
  1. Load configuration (file, environment, then flags and arguments)
  2. Initialize logging, metrics and the session event reporter
  3. Listen for clients on <bind-ip>:<bind-port>
  4. Start the control socket for status, sessions, kick, reload and stop
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

Examples:
  l2vpn switch 0.0.0.0 1194
  l2vpn switch 0.0.0.0 1194 --base 10.0.0 --vendor fc:d8:47`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		opts := switchOptions{
			base:           switchBase,
			vendor:         switchVendor,
			floodMulticast: switchFloodMulticast,
			baseSet:        cmd.Flags().Changed("base"),
			vendorSet:      cmd.Flags().Changed("vendor"),
			floodSet:       cmd.Flags().Changed("flood-multicast"),
		}
		overrides := func(c *config.Config) error {
			if socketPath != "" {
				c.Control.Socket = socketPath
			}
			return applySwitchArgs(c, args, opts)
		}
		if err := overrides(cfg); err != nil {
			return err
		}
		return runSwitch(cfg, overrides)
	},
}

var (
	switchBase           string
	switchVendor         string
	switchFloodMulticast bool
)

func init() {
	switchCmd.Flags().StringVar(&switchBase, "base", config.DefaultBase,
		"three-octet IPv4 prefix of the client addresses")
	switchCmd.Flags().StringVar(&switchVendor, "vendor", config.DefaultVendor,
		"three-octet MAC prefix of the client addresses")
	switchCmd.Flags().BoolVar(&switchFloodMulticast, "flood-multicast", false,
		"flood multicast frames like broadcast")

	rootCmd.AddCommand(switchCmd)
}

type switchOptions struct {
	base, vendor       string
	floodMulticast     bool
	baseSet, vendorSet bool
	floodSet           bool
}

// applySwitchArgs overrides cfg with the positional arguments and the flags that were set.
func applySwitchArgs(cfg *config.Config, args []string, opts switchOptions) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: expected <bind-ip> <bind-port>", core.ErrConfigInvalid)
	}
	ip, err := netip.ParseAddr(args[0])
	if err != nil {
		return fmt.Errorf("%w: bind ip %q: %v", core.ErrConfigInvalid, args[0], err)
	}
	port, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("%w: bind port %q", core.ErrConfigInvalid, args[1])
	}
	cfg.Switch.Listen = net.JoinHostPort(ip.String(), strconv.FormatUint(port, 10))

	if opts.baseSet {
		cfg.Switch.Base = opts.base
	}
	if opts.vendorSet {
		cfg.Switch.Vendor = opts.vendor
	}
	if opts.floodSet {
		cfg.Switch.FloodMulticast = opts.floodMulticast
	}
	return cfg.Validate()
}

func runSwitch(cfg *config.Config, overrides func(*config.Config) error) error {
	d, err := daemon.New(cfg, configFile, daemon.WithOverrides(overrides))
	if err != nil {
		return fmt.Errorf("failed to create switch: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start switch: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
