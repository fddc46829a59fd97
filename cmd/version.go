package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hieund/wifiwarden/internal/core"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "wifiwarden %s\n", core.Version)
		},
	}

	return versionCmd
}
