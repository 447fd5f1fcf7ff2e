package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/l2vpn/internal/client"
	"firestige.xyz/l2vpn/internal/config"
	"firestige.xyz/l2vpn/internal/core"
	logpkg "firestige.xyz/l2vpn/internal/log"
)

var clientCmd = &cobra.Command{
	Use:   "client <iface-name> <server-ip> <server-port>",
	Short: "Join this host to a switch",
	Long: `Connect to a switch, create the TAP interface <iface-name> with the MAC and
IPv4 address the switch assigns, and relay frames until interrupted.

Needs CAP_NET_ADMIN and the ip(8) command.

Example:
  l2vpn client tap0 203.0.113.10 1194`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := applyClientArgs(cfg, args); err != nil {
			return err
		}
		if quietTrace {
			cfg.Client.Trace.Enabled = false
		}
		return runClient(cmd.Context(), cfg)
	},
}

var quietTrace bool

func init() {
	clientCmd.Flags().BoolVarP(&quietTrace, "quiet", "q", false,
		"do not print the per-frame trace")

	rootCmd.AddCommand(clientCmd)
}

// applyClientArgs overrides cfg.Client with the positional arguments.
func applyClientArgs(cfg *config.Config, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: expected <iface-name> <server-ip> <server-port>", core.ErrConfigInvalid)
	}
	name, host, portStr := args[0], args[1], args[2]
	if name == "" {
		return fmt.Errorf("%w: empty interface name", core.ErrConfigInvalid)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return fmt.Errorf("%w: server port %q", core.ErrConfigInvalid, portStr)
	}
	cfg.Client.Interface = name
	cfg.Client.Server = net.JoinHostPort(host, strconv.FormatUint(port, 10))
	return nil
}

func runClient(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := logpkg.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trace := logpkg.NewTrace(cfg.Client.Trace, os.Stdout)
	return client.Run(ctx, cfg.Client, trace, client.OpenTAP)
}
