package main

import (
	"fmt"
	"os"

	"github.com/danmuck/chatlink/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Chat session client and local development server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "connect" {
				logging.ConfigureInteractive()
			} else {
				logging.ConfigureRuntime()
			}
			if logLevel != "" && !logging.SetLevel(logLevel) {
				return fmt.Errorf("unknown log level: %s", logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug|info|warn|error)")
	root.AddCommand(newConnectCmd(), newDevServerCmd(), newConfigCmd())
	return root
}
