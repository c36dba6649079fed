package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"crafter/internal/infra"
	"crafter/internal/relay"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	srv, err := relay.New(relay.Options{
		BFLTargetURL:    cfg.BFLTargetURL,
		AllowedOrigins:  cfg.AllowedOrigins,
		ProxyTimeout:    cfg.ProxyTimeout,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid relay configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := infra.NewHTTPServer(cfg, srv.Router())
	logger.Info().
		Str("addr", server.Addr()).
		Str("bfl_target", cfg.BFLTargetURL).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("relay listening")
	logger.Info().Msgf("health check: http://localhost:%s/health", cfg.Port)
	logger.Info().Msgf("bfl proxy: http://localhost:%s/api/bfl", cfg.Port)

	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("relay stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("relay stopped")
}
