package main

import (
	"github.com/spf13/cobra"

	"spectator-recorder/internal/platform/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "recorder",
		Short:         "Record spectator sessions chunk by chunk",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML)")

	rootCmd.AddCommand(newRecordCommand(&configFlag))
	rootCmd.AddCommand(newInspectCommand())

	return rootCmd
}

// loadConfig layers defaults, the optional TOML file and the environment
// (including a .env file in the working directory).
func loadConfig(path string) (config.Config, error) {
	_ = config.LoadEnv()
	return config.Load(path)
}
