package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veilmail/webhook-receiver/internal/config"
	"github.com/veilmail/webhook-receiver/internal/httpserver"
	"github.com/veilmail/webhook-receiver/internal/store"
)

// main boots the service: config → storage backend → schema → HTTP
// server, then blocks until a shutdown signal. Any startup failure is
// fatal; the process never serves traffic in a partial-ready state.
func main() {
	// Local dev convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.FromEnvFile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Log)

	st, err := store.New(cfg.Database.Type, cfg.Database.URL, cfg.TableName)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid storage configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := st.Connect(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("storage connection failed")
	}
	if err := st.EnsureSchema(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("schema setup failed")
	}
	cancel()

	router := httpserver.NewRouter(cfg, st, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Str("database", st.Kind()).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		_ = st.Close()
		logger.Fatal().Err(err).Msg("server failed")
	case <-sigCtx.Done():
	}

	logger.Info().Msg("shutting down")

	// Stop accepting connections and drain in-flight requests before
	// closing the store; reversing this order would fail requests that
	// are mid-write.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}

	logger.Info().Msg("stopped")
}
