package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"polar-fitness-sync/internal/config"
	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/events"
	"polar-fitness-sync/internal/gamification"
	"polar-fitness-sync/internal/handlers"
	"polar-fitness-sync/internal/metrics"
	"polar-fitness-sync/internal/oauth"
	"polar-fitness-sync/internal/polar"
	"polar-fitness-sync/internal/session"
	"polar-fitness-sync/internal/supervisor"
	"polar-fitness-sync/internal/syncer"
	"polar-fitness-sync/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting polar-fitness-sync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"categories", cfg.SyncCategories,
		"log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	logger.Info("Store opened successfully", "backend", cfg.StoreBackend)

	allowList, err := config.LoadAllowList(cfg.AllowListPath)
	if err != nil {
		logger.Error("Failed to load allow-list", "error", err)
		os.Exit(1)
	}

	repo := database.NewRepository(store)
	broker := events.NewBroker()

	polarClient := polar.NewClient(polar.Options{
		ClientID:          cfg.PolarClientID,
		ClientSecret:      cfg.PolarClientSecret,
		RedirectURI:       cfg.PolarRedirectURI,
		BaseURL:           cfg.PolarAPIBaseURL,
		TokenURL:          cfg.PolarTokenURL,
		AuthURL:           cfg.PolarAuthURL,
		RequestsPerSecond: cfg.PolarRequestsPerSecond,
		BreakerFailures:   cfg.PolarBreakerFailures,
	})

	dataSyncer := syncer.New(polarClient, repo, allowList, cfg.SyncCategories, broker)
	achievements := gamification.NewAchievementsService(repo, gamification.DefaultDefinitions, broker)
	workerInstance := worker.NewWorker(dataSyncer, achievements, cfg.WorkerQueueSize)
	oauthManager := oauth.NewManager(polarClient, repo, workerInstance, broker)

	router := handlers.NewRouter(handlers.RouterConfig{
		Session: session.Config{
			Secret: cfg.SessionSecret,
			Issuer: cfg.SessionIssuer,
		},
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, handlers.Handlers{
		OAuth:   handlers.NewOAuthHandler(oauthManager, cfg.AppScheme),
		Cron:    handlers.NewCronHandler(dataSyncer, cfg.CronSecret),
		Webhook: handlers.NewWebhookHandler(repo, workerInstance, cfg.PolarWebhookSecret),
		API:     handlers.NewAPIHandler(dataSyncer, achievements, repo),
		Events:  handlers.NewEventsHandler(broker),
		Health:  handlers.NewHealthHandler(store, polarClient, workerInstance),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 35 * time.Second, // Slightly more than long-poll timeout
		// The cron batch sync runs inside the request
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	sup := supervisor.New("polar-fitness-sync", logger, supervisor.DefaultConfig())
	sup.Add(workerInstance)
	sup.Add(oauthManager)
	sup.Add(supervisor.NewHTTPService("http-server", server, 10*time.Second))
	logger.Info("HTTP server listening", "addr", addr)

	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		sup.Add(supervisor.NewHTTPService("metrics-server", &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}, 5*time.Second))
		logger.Info("Metrics server listening", "addr", metricsAddr)

		sup.Add(supervisor.Func("queue-depth-collector", func(ctx context.Context) error {
			metrics.StartQueueDepthCollector(ctx, workerInstance, 15*time.Second)
			return ctx.Err()
		}))
	}

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Supervisor stopped unexpectedly", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped")
}

// openStore opens the configured document store backend
func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendFirestore:
		return database.OpenFirestore(ctx, cfg.FirestoreProjectID)
	default:
		db, err := database.Open(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		if err := db.Init(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return db, nil
	}
}
