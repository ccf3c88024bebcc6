package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/na4wx/nexdigi/internal/config"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the node configuration file",
	}
	cmd.AddCommand(newConfigValidateCmd(flags))
	return cmd
}

func newConfigValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and schema-check the config file without starting transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (callsign=%s, rf=%v, internet=%v/%s)\n",
				flags.configPath, cfg.LocalCallsign, cfg.Transports.RF.Enabled,
				cfg.Transports.Internet.Enabled, cfg.Transports.Internet.Mode)
			return nil
		},
	}
}
