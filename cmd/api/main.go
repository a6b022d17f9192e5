package main

import (
	"context"
	"os"

	"github.com/spf13/pflag"

	"github.com/yigit/clubchat/internal/pkg/logger"
	"github.com/yigit/clubchat/internal/server"
)

func main() {
	var opts server.Options
	pflag.StringVarP(&opts.ConfigPath, "config", "c", "configs/config.yaml", "path to the YAML configuration file")
	pflag.StringVar(&opts.EnvFile, "env-file", ".env", "optional .env file loaded before the environment")
	pflag.Parse()

	srv, err := server.NewServer(context.Background(), opts)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize server")
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		logger.Error().Err(err).Msg("Server execution failed or shutdown encountered errors")
		os.Exit(1)
	}

	logger.Info().Msg("Application finished gracefully.")
}
