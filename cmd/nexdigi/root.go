package main

import (
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand (spec AMBIENT STACK: "--config
// default /etc/nexdigi/config.json, --log-level").
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "nexdigi",
		Short: "Packet-radio backbone router",
		Long: "nexdigi bridges an RF/AX.25 neighborhood and a TCP/TLS Internet mesh,\n" +
			"routing DATA packets between them by messageId rather than by session.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/nexdigi/config.json", "path to the node's JSON config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level from the config file")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newStatusCmd(flags))

	return root
}
