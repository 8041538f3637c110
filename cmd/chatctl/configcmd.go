package main

import (
	"fmt"

	"github.com/danmuck/chatlink/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check client config files",
	}

	var (
		kind  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "toml", "template format (toml|yaml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load and validate a config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			backend, err := cfg.SelectBackend()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: transport=%s backend=%s (%s:%d)\n", cfg.Transport, backend.Name, backend.Endpoint, backend.Port)
			return nil
		},
	}

	convertCmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Re-encode a config as TOML or YAML by output extension",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Save(args[1], cfg, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
			return nil
		},
	}
	convertCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd, validateCmd, convertCmd)
	return cmd
}
