package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/daemon"
)

var outputFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show switch status",
	Long: `Query a running switch for version, uptime, pool usage and forwarding counters.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		return runStatus(cmd.Context(), client, cmd.OutOrStdout(), outputFormat)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List connected clients",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		return runSessions(cmd.Context(), client, cmd.OutOrStdout(), outputFormat)
	},
}

var kickCmd = &cobra.Command{
	Use:   "kick <mac>",
	Short: "Disconnect the client owning a MAC",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		return runKick(cmd.Context(), client, cmd.OutOrStdout(), args[0])
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long:  `Ask a running switch to re-read its config file. Only log settings apply without a restart.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		return runReload(cmd.Context(), client, cmd.OutOrStdout())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running switch",
	Long: `Stop a running switch gracefully.

The shutdown request goes over the control socket. If the socket does not answer,
SIGTERM is sent to the process named in the PID file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		pidFile := ""
		if cfg, err := loadConfig(); err == nil {
			pidFile = cfg.Control.PIDFile
		}
		return runStop(cmd.Context(), client, cmd.OutOrStdout(), pidFile)
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, sessionsCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", "text", "output format: text|json|yaml")
	}

	rootCmd.AddCommand(statusCmd, sessionsCmd, kickCmd, reloadCmd, stopCmd)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, controlTimeout)
}

// render writes v as json or yaml. It returns false for the text format.
func render(out io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case "", "text":
		return false, nil
	default:
		return true, fmt.Errorf("%w: output format %q (must be text/json/yaml)", core.ErrConfigInvalid, format)
	}
}

func runStatus(ctx context.Context, client ClientInterface, out io.Writer, format string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	status, err := client.SwitchStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to query switch status: %w", err)
	}
	if done, err := render(out, format, status); done {
		return err
	}

	s := status.Switch
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "version:\t%s\n", status.Version)
	fmt.Fprintf(w, "uptime:\t%s\n", (time.Duration(status.UptimeSec) * time.Second).String())
	fmt.Fprintf(w, "listen:\t%s\n", s.Listen)
	fmt.Fprintf(w, "base / vendor:\t%s.0/24  %s\n", s.Base, s.Vendor)
	fmt.Fprintf(w, "sessions:\t%d\n", s.Sessions)
	fmt.Fprintf(w, "pool:\t%d free of %d\n", s.PoolFree, s.PoolCapacity)
	fmt.Fprintf(w, "accepted / rejected / closed:\t%d / %d / %d\n", s.Accepted, s.Rejected, s.Closed)
	fmt.Fprintf(w, "unicast / flooded / dropped / noise:\t%d / %d / %d / %d\n", s.Unicast, s.Flooded, s.Dropped, s.Noise)
	fmt.Fprintf(w, "flood multicast:\t%t\n", s.FloodMulticast)
	return w.Flush()
}

func runSessions(ctx context.Context, client ClientInterface, out io.Writer, format string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	list, err := client.SessionList(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if done, err := render(out, format, list); done {
		return err
	}

	if list.Count == 0 {
		fmt.Fprintln(out, "No connected clients.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMAC\tIP\tREMOTE\tCONNECTED\tRX FRAMES\tTX FRAMES")
	for _, s := range list.Sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.MAC, s.IP, s.Remote,
			s.ConnectedAt.Format(time.RFC3339), s.RxFrames, s.TxFrames)
	}
	return w.Flush()
}

func runKick(ctx context.Context, client ClientInterface, out io.Writer, mac string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := client.SessionKick(ctx, mac); err != nil {
		return fmt.Errorf("failed to kick %s: %w", mac, err)
	}
	fmt.Fprintf(out, "✓ Session %s disconnected\n", mac)
	return nil
}

func runReload(ctx context.Context, client ClientInterface, out io.Writer) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := client.ConfigReload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}

func runStop(ctx context.Context, client ClientInterface, out io.Writer, pidFile string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := client.Shutdown(ctx)
	if err == nil {
		fmt.Fprintln(out, "✓ Switch is shutting down")
		return nil
	}
	if pidFile == "" {
		return fmt.Errorf("failed to stop switch: %w", err)
	}

	if sigErr := daemon.Signal(pidFile, controlTimeout); sigErr != nil {
		if errors.Is(sigErr, core.ErrDaemonNotRunning) {
			return fmt.Errorf("failed to stop switch: %w", sigErr)
		}
		return fmt.Errorf("failed to stop switch: %v; signal fallback: %w", err, sigErr)
	}
	fmt.Fprintln(out, "✓ Switch stopped (SIGTERM)")
	return nil
}
