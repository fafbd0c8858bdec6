package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/copilot-relay/pkg/logutil"
	"github.com/lkarlslund/copilot-relay/pkg/version"
)

var rootLogLevel string

var rootCmd = &cobra.Command{
	Use:     "copilot-relay",
	Short:   "OpenAI-compatible relay for GitHub Copilot",
	Long:    "Copilot-relay exposes an OpenAI-compatible chat, embeddings and models API backed by a GitHub Copilot subscription.",
	Version: version.String(),
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: running as root")
		}
		return logutil.Configure(rootLogLevel)
	}
}
