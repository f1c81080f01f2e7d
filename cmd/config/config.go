// Package config implements the config command, which writes the active
// settings to a yaml file as a starting point for local edits.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/conf"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/logging"
)

// Command creates the config subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the active configuration to a yaml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Path of the config file to write (default: first config search path)")
	return cmd
}

func run(settings *conf.Settings, output string) error {
	path := output
	if path == "" {
		paths, err := conf.GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		path = filepath.Join(paths[0], "config.yaml")
	}

	// never clobber a config the operator already edited
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file %s already exists, pass --output to write elsewhere", path).
			Component("config").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.SaveYAML(path); err != nil {
		return err
	}
	logging.HumanReadable().Info("configuration written", "path", path)
	return nil
}
