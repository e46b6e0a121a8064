// Package main runs the development API server the citizen and moderator
// commands talk to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/internal/config"
	"github.com/jawaracloud/akim-queue/internal/devserver"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()

	var store devserver.Store = devserver.NewMemStore()
	if cfg.RedisAddr != "" {
		rs, err := devserver.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable")
		}
		store = rs
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	}

	broker, err := devserver.ConnectBroker(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("NATS unavailable")
	}
	defer broker.Close()
	if broker != nil {
		log.Info().Str("url", cfg.NATSURL).Msg("publishing queue events")
	}

	svc := devserver.NewService(store, broker, log, devserver.Config{
		JWTSecret:  cfg.JWTSecret,
		MeetingURL: cfg.MeetingURL,
		BufferSize: cfg.BufferSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go svc.RunMaintenance(ctx, 5*time.Second)

	h := devserver.NewHandler(svc, log, cfg.AdminUser, cfg.AdminPassword)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("starting server")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}
