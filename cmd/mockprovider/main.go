// Command mockprovider runs a local stand-in for the upstream wholesale eSIM API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/esim-gateway/internal/mockprovider"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	gin.SetMode(gin.ReleaseMode)

	port := getEnv("PORT", "8090")
	opts := mockprovider.Options{
		Username:    os.Getenv("MOCK_PROVIDER_USERNAME"),
		Password:    os.Getenv("MOCK_PROVIDER_PASSWORD"),
		TokenTTL:    getEnvDuration("TOKEN_TTL", time.Hour),
		FailureRate: getEnvFloat("FAILURE_RATE", 0),
		MinDelay:    getEnvDuration("MIN_DELAY", 50*time.Millisecond),
		MaxDelay:    getEnvDuration("MAX_DELAY", 300*time.Millisecond),
	}

	log.Info().
		Str("port", port).
		Float64("failure_rate", opts.FailureRate).
		Dur("token_ttl", opts.TokenTTL).
		Msg("starting mock provider")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mockprovider.SetupRouter(mockprovider.NewMockProvider(opts)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
