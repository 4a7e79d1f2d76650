package commands

import (
	"fmt"

	"github.com/marmos91/nexus/pkg/config"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a default Nexus configuration file to the standard location
($XDG_CONFIG_HOME/nexus/config.yaml), or to the path given by --config.

Examples:
  # Initialize config file at the default location
  nexusd init

  # Initialize at a custom path, overwriting if it exists
  nexusd init --config /etc/nexus/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	var (
		path string
		err  error
	)

	if configFile != "" {
		err = config.InitConfigToPath(configFile, forceInit)
		path = configFile
	} else {
		path, err = config.InitConfig(forceInit)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("Start the server with: nexusd start")
	return nil
}
