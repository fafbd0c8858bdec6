package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/copilot-relay/pkg/auth"
	"github.com/lkarlslund/copilot-relay/pkg/config"
)

var statusConfigPath string

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreate(statusConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store := auth.NewStore(cfg.TokenDir)
			manager := auth.NewManager(cfg, store, auth.NewDeviceFlow(cfg))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account type:  %s\n", cfg.AccountType)
			fmt.Fprintf(out, "Upstream:      %s\n", cfg.APIBaseURL())
			fmt.Fprintf(out, "Token dir:     %s\n", cfg.TokenDir)
			if !manager.IsAuthenticated() {
				fmt.Fprintln(out, "Authenticated: no (run `copilot-relay login`)")
				return nil
			}
			fmt.Fprintln(out, "Authenticated: yes")
			if tok, err := store.LoadCopilotToken(); err == nil {
				expires := time.Unix(tok.ExpiresAt, 0)
				if time.Now().Before(expires) {
					fmt.Fprintf(out, "Access token:  valid until %s\n", expires.Format(time.RFC3339))
				} else {
					fmt.Fprintf(out, "Access token:  expired %s (refreshed on next request)\n", expires.Format(time.RFC3339))
				}
			} else {
				fmt.Fprintln(out, "Access token:  none cached (fetched on next request)")
			}
			return nil
		},
	}
	statusCmd.Flags().StringVar(&statusConfigPath, "config", config.DefaultConfigPath(), "Config TOML path")
	rootCmd.AddCommand(statusCmd)
}
