package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hieund/wifiwarden/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "wifiwarden",
		Short: "Wifiwarden - WiFi connectivity supervisor",
		Long: `Wifiwarden - WiFi connectivity supervisor

Monitors internet reachability and works through captive portal logins,
hardware address randomization and connection sharing to keep a flaky
WiFi connection alive.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", core.DefaultConfigPath(), "config file",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewRunCommand(),
		NewCheckCommand(),
		NewCredentialsCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// loadConfig reads and validates the config file named by the --config
// flag and carries the verbosity into it.
func loadConfig(cmd *cobra.Command) (*core.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetCount("verbose")

	cfg, err := core.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Verbose = verbose
	return cfg, nil
}
