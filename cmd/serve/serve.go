// Package serve implements the serve command, which runs the validation
// API server until interrupted.
package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/api"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/conf"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/logging"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/workflow"
)

// Command creates the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the validation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}

	cmd.Flags().StringVar(&settings.Web.Port, "port", settings.Web.Port, "Port to listen on")

	return cmd
}

func run(settings *conf.Settings) error {
	log := logging.ForService("serve")

	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output enabled in configuration").
			Component("serve").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return errors.New(err).
			Component("serve").
			Category(errors.CategoryDatabase).
			Build()
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close datastore", "error", err)
		}
	}()

	engine := workflow.New(store, settings)
	server := api.New(engine)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(settings.Web.Port)
	}()
	log.Info("validation API listening", "port", settings.Web.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
		return nil
	}
}
