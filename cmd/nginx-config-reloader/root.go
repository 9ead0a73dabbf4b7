package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var socketFlag string
	var configFlag string
	var overrides configOverrides

	ctx := newCommandContext(&socketFlag, &configFlag, &overrides)

	rootCmd := &cobra.Command{
		Use:           "nginx-config-reloader",
		Short:         "Install and reload user-managed nginx configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&socketFlag, "socket", "", "Path to the daemon socket")
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&overrides.watchDir, "watchdir", "", "Directory to watch for configuration changes")
	flags.BoolVar(&overrides.recursive, "recursivewatch", false, "Also watch subdirectories of the watched directory")
	flags.BoolVar(&overrides.useSystemd, "use-systemd", false, "Reload nginx through systemctl instead of SIGHUP")
	flags.StringVar(&overrides.natsServer, "nats-server", "", "NATS server used to fan reloads out to peers")
	flags.BoolVar(&overrides.noMagento, "nomagentoconfig", false, "Do not link the Magento 1/2 config")
	flags.BoolVar(&overrides.noCustom, "nocustomconfig", false, "Do not install the watched directory, only validate and reload")
	flags.BoolVar(&overrides.allowIncludes, "allow-includes", false, "Permit include directives outside the main config directory")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newApplyCommand(ctx))
	for _, cmd := range newDaemonCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newReloadCommand(ctx))
	rootCmd.AddCommand(newEventsCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
