package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/beta9-preloader/pkg/config"
	"github.com/beam-cloud/beta9-preloader/pkg/invoker"
)

func main() {
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{Dsn: dsn})
		if err != nil {
			log.Error().Err(err).Msg("sentry.Init failed")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	configManager, err := config.NewManager[config.AppConfig]()
	if err != nil {
		log.Fatal().Err(err).Msg("error creating config manager")
	}
	cfg := configManager.GetConfig()

	if cfg.PrettyLogs {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	inv := invoker.New(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("invokerId", cfg.InvokerID).Msg("starting invoker")
	if err := inv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("invoker exited with error")
	}
	log.Info().Msg("invoker stopped")
}
