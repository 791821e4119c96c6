package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pixelbot/internal/adapter/repo"
	"pixelbot/internal/backend"
	"pixelbot/internal/dispatch"
	"pixelbot/internal/http/handlers"
	"pixelbot/internal/http/httpapi"
	"pixelbot/internal/infra"
	"pixelbot/internal/infra/geoip"
	"pixelbot/internal/ledger"
	"pixelbot/internal/queue"
	"pixelbot/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	template, err := backend.LoadTemplate(cfg.WorkflowPath, cfg.PromptNodeID, cfg.PromptNodeField)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load workflow template")
	}

	countries, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	users := repo.NewUserRepository(pool)
	generations := repo.NewGenerationRepository(pool)
	led := ledger.New(users, generations, cfg.DailyFreeLimit, logger)

	q := queue.New(cfg.QueueCapacity)
	gate := queue.NewGate()

	backendClient := backend.NewClient(backend.Options{
		BaseURL:    cfg.RunPodBaseURL,
		EndpointID: cfg.RunPodEndpointID,
		APIKey:     cfg.RunPodAPIKey,
	}, template)
	bot := telegram.NewClient(telegram.Options{
		Token:   cfg.TelegramToken,
		BaseURL: cfg.TelegramBaseURL,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Queue:        q,
		Gate:         gate,
		Backend:      backendClient,
		Notifier:     bot,
		Generations:  generations,
		Ledger:       led,
		Logger:       logger,
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		MaxPollTime:  cfg.MaxPollTime,
	})
	// Settle anything a previous run left behind before taking new work.
	if err := dispatcher.Reconcile(ctx); err != nil {
		logger.Fatal().Err(err).Msg("reconciliation failed")
	}
	dispatcher.Start(ctx)

	app := &handlers.App{
		Logger:      logger,
		Ledger:      led,
		Users:       users,
		Generations: generations,
		Queue:       q,
		Gate:        gate,
		Sender:      bot,
		BlockOnFull: cfg.QueueBlockOnFull,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:             logger,
		Countries:          countries,
		RateLimitPerMinute: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Int("workers", cfg.WorkerCount).Msg("bot listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Workers observe ctx.Done and settle their in-flight jobs on the way out.
	dispatcher.Wait()
	logger.Info().Msg("bot stopped")
}
