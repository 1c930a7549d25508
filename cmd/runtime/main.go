package main

import (
	"os"
	"time"

	"github.com/andrew-solarstorm/go-packages/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	container "github.com/thehyperflames/dicontainer-go"

	runtimecommon "github.com/hxuan190/hybrid-router/internal/common"
	"github.com/hxuan190/hybrid-router/internal/config"
	"github.com/hxuan190/hybrid-router/internal/http"
	"github.com/hxuan190/hybrid-router/internal/services/ledger"
	"github.com/hxuan190/hybrid-router/internal/services/router"
	"github.com/hxuan190/hybrid-router/internal/services/settlement"
	"github.com/hxuan190/hybrid-router/internal/services/venue"
)

// @title Hybrid Router API
// @version 1.0
// @description Routes orders across an AMM pool and a central limit order book, chunk by chunk,
// @description always executing on whichever venue currently offers the better price.
// @description
// @description ## - Flow
// @description - **Route**: each chunk goes to the cheaper venue; the AMM is swapped only until its
// @description   price meets the best book level, then the book level is drained
// @description - **Ledger**: every fill is recorded with its venue, price and settlement state
// @description - **Settlement**: book trades are queued and settled on chain in batches
// @description
// @description ## - Usage Tips
// @description - Amounts are human units (1.5 WETH, not wei)
// @description - POST /api/v1/orders returns once routing stops; check `stats.stopReason` for under-fills
// @description - GET /api/v1/route is a dry run and executes nothing
// @description - Rate Limit: 10 requests/second per IP (burst: 20) by default
// @BasePath /
// @schemes http https
// @tag.name orders
// @tag.description Submit, inspect and cancel routed orders
// @tag.name route
// @tag.description Estimate how an order would be split
// @tag.name book
// @tag.description Order book depth and local book administration
// @tag.name settlement
// @tag.description Settlement queue inspection and operator actions

func main() {
	runtimecommon.InitRuntime()

	// load env; a missing .env is fine when the environment is already set
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file loaded")
	}
	setupLogger(common.GetEnvOrDefault("LOG_LEVEL", "info"), common.GetEnvOrDefault("ENV", config.DevEnv))

	// di container config
	conf := container.NewConf(
		&config.GeneralConfig{},
		&config.RouterConfig{},
		&config.VenueConfig{},
		&config.LedgerConfig{},
		&config.SettlementConfig{},
	)

	// di container; dependencies come before their dependents
	dic, err := container.New(
		conf,

		&settlement.Service{},
		&ledger.Service{},
		&venue.Service{},
		&router.Service{},

		&http.HTTPService{},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to create di container")
		return
	}

	// Run blocks until SIGINT/SIGTERM
	if err := dic.Run(); err != nil {
		log.Error().Err(err).Msg("failed to run di container")
		return
	}

	log.Info().Msg("Shutting down services...")
	if err := dic.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	log.Info().Msg("Shutdown complete")
}

func setupLogger(level, env string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if env == config.DevEnv {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
