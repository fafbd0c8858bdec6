package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/copilot-relay/pkg/auth"
	"github.com/lkarlslund/copilot-relay/pkg/config"
)

var logoutConfigPath string

func init() {
	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreate(logoutConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			manager := auth.NewManager(cfg, auth.NewStore(cfg.TokenDir), auth.NewDeviceFlow(cfg))
			if err := manager.Logout(); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
	logoutCmd.Flags().StringVar(&logoutConfigPath, "config", config.DefaultConfigPath(), "Config TOML path")
	rootCmd.AddCommand(logoutCmd)
}
