package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fetchd/fetchd/internal/logging"
	"github.com/fetchd/fetchd/internal/observability"
	"github.com/fetchd/fetchd/internal/server"
)

func main() {
	configPath := flag.String("config", "cmd/fetchd/config.toml", "path to config.toml")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("fetchd")

	cfg := server.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load fetchd config")
		}
		cfg = loaded
		log.Info().Str("path", *configPath).Msg("loaded fetchd config")
	} else {
		log.Info().Str("path", *configPath).Msg("no config file, using defaults")
	}

	svc := server.NewService(cfg, log.Logger)
	if err := svc.Run(); err != nil {
		log.Fatal().Err(err).Msg("fetchd stopped")
	}
}
