// Package commands implements the nexusd server's CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "nexusd",
	Short: "Nexus RPC runtime daemon",
	Long: `nexusd runs a Nexus endpoint: the Session-Management Thread, the
Background Worker Pool, and one or more single-threaded RPC Instances
driving spec'd request/response traffic over a configured transport.

Use "nexusd start" to run the daemon in the foreground.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/nexus/config.yaml)")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return configFile
}
