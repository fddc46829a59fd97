package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hieund/wifiwarden/internal/daemon"
)

func NewRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the connectivity supervisor",
		Long:  `Run the connectivity supervisor in the foreground until interrupted`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return daemon.New(cfg).Run()
		},
	}

	return runCmd
}
