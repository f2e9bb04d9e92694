package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hudjsw143/royal-ishq/internal/catalog"
	"github.com/hudjsw143/royal-ishq/internal/config"
	"github.com/hudjsw143/royal-ishq/internal/server"
	"github.com/hudjsw143/royal-ishq/internal/session"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		lg := zerolog.New(os.Stderr)
		lg.Fatal().Err(err).Msg("load config")
	}

	log := newLogger(cfg.LogLevel)

	prompts, err := catalog.Load(cfg.PromptsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PromptsPath).Msg("load prompt catalog")
	}
	catalogJSON, err := os.ReadFile(cfg.PromptsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("read prompt catalog")
	}
	log.Info().Int("prompts", prompts.Len()).Msg("prompt catalog loaded")

	store := session.NewMemoryStore()
	sync := server.New(store, catalogJSON, log)

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     sync.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("sync server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
