package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/config"
	"github.com/room4-2/aiticulate/gemini"
	"github.com/room4-2/aiticulate/history"
	"github.com/room4-2/aiticulate/server"
	"github.com/room4-2/aiticulate/storage"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown LOG_LEVEL, using info")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.Open(ctx, cfg)
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	var opts []server.Option

	archive, err := history.Open(cfg.HistoryDB)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.HistoryDB).Msg("game history disabled")
	} else {
		defer archive.Close()
		opts = append(opts, server.WithArchive(archive))
	}

	if cfg.GeminiAPIKey != "" {
		guesser, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create Gemini client")
		}
		demo := gemini.NewDemo(guesser, gemini.WithStreamIdleTimeout(cfg.StreamIdleTimeout))
		opts = append(opts, server.WithDemo(demo))
		log.Info().Str("model", cfg.GeminiModel).Msg("guest play enabled")
	} else {
		log.Info().Msg("GEMINI_API_KEY not set, only logged-in players can connect")
	}

	srv := server.New(cfg, store, opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}
