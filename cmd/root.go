// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/l2vpn/internal/command"
	"firestige.xyz/l2vpn/internal/config"
)

var (
	// Global flags
	configFile string
	socketPath string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "l2vpn",
	Short: "l2vpn - layer-2 VPN over TCP",
	Long: `l2vpn joins remote hosts into one Ethernet segment.

A central switch accepts TCP connections, assigns each client a MAC and an IPv4
address from its pool, learns which connection owns which MAC and forwards
Ethernet frames between them. Each client creates a TAP interface with the
assigned identity and relays frames between the interface and the switch.

Running switches are controlled over a Unix domain socket:
  l2vpn status | sessions | kick <mac> | reload | stop`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"control socket path (default from config, "+config.DefaultSocket+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"dotenv file exported before the config is loaded")
}

// loadConfig reads the env file and the config file named by the global flags. The
// --socket flag overrides control.socket.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Control.Socket = socketPath
	}
	return cfg, nil
}
