package main

import (
	"log/slog"

	"github.com/rshstkv/foodtray-annotations-sub002/cmd"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/conf"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		logging.Fatal("error loading configuration", "error", err)
	}
	if settings.Main.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		logging.Fatal("command failed", "error", err)
	}
}
