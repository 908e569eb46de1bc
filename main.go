package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raine/resellkit/config"
	"github.com/raine/resellkit/internal/app"
	"github.com/raine/resellkit/internal/brain"
	"github.com/raine/resellkit/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFile()

	if config.NeedsSetup() && config.IsInteractiveTerminal() {
		if !config.RunSetupWizard(checkAPI) {
			config.WaitOnWindows()
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	// JOURNAL_STREAM is set by systemd, journald keeps the logs there.
	_, underSystemd := os.LookupEnv("JOURNAL_STREAM")
	if cfg.LogFile == "" || underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open log file")
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
		log.Info().Str("logFile", cfg.LogFile).Msg("logging to file")
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(cfg.ListenAddr, a.Handler(), cfg.ShutdownTimeout).Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("shutting down")
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	log.Info().Msg("shutdown complete")
}

func checkAPI(baseURL, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := brain.NewClient(brain.ClientOpts{BaseURL: baseURL, Auth: token})
	_, err := client.CheckHealth(ctx)
	return err
}
