package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/copilot-relay/pkg/auth"
	"github.com/lkarlslund/copilot-relay/pkg/config"
)

var loginConfigPath string

func init() {
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with GitHub via the OAuth device flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreate(loginConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			manager := auth.NewManager(cfg, auth.NewStore(cfg.TokenDir), auth.NewDeviceFlow(cfg))

			ctx := cmd.Context()
			code, err := manager.StartDeviceFlow(ctx)
			if err != nil {
				return fmt.Errorf("start device flow: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open %s and enter the code %s\n", code.VerificationURI, code.UserCode)
			fmt.Fprintln(out, "Waiting for authorization...")

			interval := time.Duration(code.Interval) * time.Second
			deadline := time.Now().Add(time.Duration(code.ExpiresIn) * time.Second)
			for {
				if time.Now().After(deadline) {
					return fmt.Errorf("device flow expired after %ds, run login again", code.ExpiresIn)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}

				res, err := manager.PollDeviceFlow(ctx, code.DeviceCode)
				if err != nil {
					return fmt.Errorf("device flow: %w", err)
				}
				if res.SlowDown {
					interval += 5 * time.Second
				}
				if res.Pending {
					continue
				}
				fmt.Fprintln(out, "Authenticated.")
				return nil
			}
		},
	}
	loginCmd.Flags().StringVar(&loginConfigPath, "config", config.DefaultConfigPath(), "Config TOML path")
	rootCmd.AddCommand(loginCmd)
}
