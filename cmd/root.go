package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rshstkv/foodtray-annotations-sub002/cmd/config"
	"github.com/rshstkv/foodtray-annotations-sub002/cmd/migrate"
	"github.com/rshstkv/foodtray-annotations-sub002/cmd/serve"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trayval",
		Short: "Food tray validation workflow engine",
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		serve.Command(settings),
		migrate.Command(settings),
		config.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags binds global flags to viper so the config file, environment
// and command line follow the usual precedence order.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Main.Debug, "debug", "d", viper.GetBool("main.debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	return nil
}
