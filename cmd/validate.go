package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/l2vpn/internal/config"
	"firestige.xyz/l2vpn/internal/pool"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration the way the switch and client would (file, env file and
environment) and report whether it is valid, without starting anything.

Examples:
  l2vpn validate -c /etc/l2vpn/l2vpn.yml
  L2VPN_SWITCH_BASE=10.0.0 l2vpn validate`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("INVALID: %w", err)
		}
		return runValidate(cfg, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// runValidate checks what config.Validate leaves to the pool and prints a summary.
func runValidate(cfg *config.Config, out io.Writer) error {
	p, err := pool.New(cfg.Switch.Base, cfg.Switch.Vendor)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	fmt.Fprintf(out, "VALID: switch %s, pool %s.0/24 (%d addresses), vendor %s, events %s\n",
		cfg.Switch.Listen,
		p.Base(),
		p.Capacity(),
		p.Vendor(),
		cfg.Events.Type,
	)
	return nil
}
