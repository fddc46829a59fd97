package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hieund/wifiwarden/internal/secrets"
)

func NewCredentialsCommand() *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage stored captive portal credentials",
		Long:    `Store and delete portal credentials. Credentials are stored securely in the system keyring.`,
	}

	setCmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store credentials under a key",
		Long:  `Store a username and password under a key. Reference the key from portal.credentials_key in the config.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			key := args[0]

			creds, err := secrets.PromptCredentials(key)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read credentials: %v", err))
				os.Exit(1)
			}

			if err := secrets.Set(key, *creds); err != nil {
				slog.Error(fmt.Sprintf("Failed to store credentials: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Credentials stored securely under %q", key))
		},
	}

	deleteCmd := &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"del", "remove", "rm"},
		Short:   "Delete stored credentials",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			key := args[0]

			if err := secrets.Delete(key); err != nil {
				slog.Error(fmt.Sprintf("Failed to delete credentials: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Credentials deleted for %q", key))
		},
	}

	credentialsCmd.AddCommand(setCmd, deleteCmd)
	return credentialsCmd
}
