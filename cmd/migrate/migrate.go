// Package migrate implements the migrate command, which opens the
// configured database and runs schema migration without starting the server.
package migrate

import (
	"github.com/spf13/cobra"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/conf"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/logging"
)

// Command creates the migrate subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database schema migration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	log := logging.ForService("migrate")

	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output enabled in configuration").
			Component("migrate").
			Category(errors.CategoryConfiguration).
			Build()
	}

	// Open runs auto-migration as part of connecting.
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close datastore", "error", err)
		}
	}()

	log.Info("schema migration complete")
	return nil
}
