package main

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/config"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/database"
	httpHandlers "github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/http"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/registry"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/service"
)

// Read-only submission history served from Postgres, for running next to
// one or more bridges that share the same database.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if config.DatabaseDSN() == "" {
		log.Fatal().Msg("DB_DSN is required")
	}

	file, err := config.LoadMeterFile(config.MeterConfigPath())
	if err != nil {
		log.Fatal().Err(err).Msg("meter config load failed")
	}
	reg, err := registry.New(file.Meters)
	if err != nil {
		log.Fatal().Err(err).Msg("meter registry invalid")
	}

	db, err := database.Connect(context.Background(), config.DatabaseDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	svcs := service.New(db, service.Cloud{})
	app := fiber.New()

	httpHandlers.Register(app, httpHandlers.Deps{
		Registry: reg,
		History:  svcs.History,
	})

	addr := config.APIAddr()
	log.Info().Str("addr", addr).Msg("api listening")
	log.Fatal().Err(app.Listen(addr)).Msg("server exit")
}
