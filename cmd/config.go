package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/copilot-relay/pkg/config"
)

var configPathFlag string

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadOrCreate(configPathFlag); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			raw, err := os.ReadFile(configPathFlag)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", configPathFlag)
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}
	configCmd.Flags().StringVar(&configPathFlag, "config", config.DefaultConfigPath(), "Config TOML path")
	rootCmd.AddCommand(configCmd)
}
