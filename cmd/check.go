package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hieund/wifiwarden/internal/probe"
	"github.com/hieund/wifiwarden/internal/sharing"
)

type checkReport struct {
	Reachable bool   `json:"reachable"`
	Sharing   string `json:"sharing,omitempty"` // active / inactive / unavailable
}

func NewCheckCommand() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run a one-shot connectivity check",
		Long:  `Probe the configured endpoints once and report reachability and sharing state`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			report := checkReport{
				Reachable: probe.New(cfg.Probe, nil).Reachable(ctx),
			}

			if cfg.Sharing.Enabled {
				report.Sharing = "unavailable"
				if ctrl, err := sharing.New(cfg.Sharing, nil); err == nil {
					if active, err := ctrl.Active(ctx, true); err == nil {
						report.Sharing = "inactive"
						if active {
							report.Sharing = "active"
						}
					}
				}
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				if report.Reachable {
					fmt.Println("Internet: reachable")
				} else {
					fmt.Println("Internet: unreachable")
				}
				if report.Sharing != "" {
					fmt.Printf("Sharing:  %s\n", report.Sharing)
				}
			case "json":
				jsonBytes, _ := json.Marshal(report)
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}

			// Make the result scriptable
			if !report.Reachable {
				os.Exit(1)
			}
			return nil
		},
	}
	checkCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return checkCmd
}
