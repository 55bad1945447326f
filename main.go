package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"ab-gateway/internal/analytics"
	"ab-gateway/internal/auth"
	"ab-gateway/internal/common/cache"
	"ab-gateway/internal/common/logging"
	"ab-gateway/internal/config"
	"ab-gateway/internal/defcache"
	"ab-gateway/internal/handlers"
	"ab-gateway/internal/jobs"
	"ab-gateway/internal/middleware"
	"ab-gateway/internal/pipeline"
	"ab-gateway/internal/ratelimit"
	"ab-gateway/internal/redis"
	"ab-gateway/internal/report"
	"ab-gateway/internal/server"
	"ab-gateway/internal/session"
	"ab-gateway/internal/storage"
	"ab-gateway/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()

	// Storage
	dsn := cfg.DatabasePath
	if cfg.DatabaseType == "postgres" || cfg.DatabaseType == "postgresql" {
		dsn = storage.PostgresDSN(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB,
			cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresSSLMode)
	}
	store, err := storage.Open(cfg.DatabaseType, dsn)
	if err != nil {
		fatal("Failed to open database", err)
	}
	defer store.Close()

	// Redis is optional; without it the caches fall back to in-process
	// storage and rate limiting stays node-local.
	var redisClient *redis.Client
	if cfg.RedisAddress != "" {
		redisDB, _ := strconv.Atoi(cfg.RedisDB)
		poolSize, _ := strconv.Atoi(cfg.RedisPoolSize)
		redisClient, err = redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       redisDB,
			PoolSize: poolSize,
		})
		if err != nil {
			fatal("Failed to connect to Redis", err)
		}
		defer redisClient.Close()
	}

	backend := newCacheBackend(cfg, redisClient)
	definitions := defcache.New(backend, cfg.CacheEnabled, cfg.CachePrefix, cfg.CacheTTL)

	analyticsManager, err := analytics.NewManager(analytics.Config{
		Driver:           cfg.AnalyticsDriver,
		Timeout:          cfg.AnalyticsTimeout,
		GA4MeasurementID: cfg.GA4MeasurementID,
		GA4APISecret:     cfg.GA4APISecret,
		PlausibleDomain:  cfg.PlausibleDomain,
		PlausibleAPIKey:  cfg.PlausibleAPIKey,
		WebhookURL:       cfg.AnalyticsWebhookURL,
		WebhookSecret:    cfg.AnalyticsWebhookSecret,
		AMQPURL:          cfg.AMQPURL,
		AMQPExchange:     cfg.AMQPExchange,
		AMQPRoutingKey:   cfg.AMQPRoutingKey,
	}, logging.GetGlobalLogger())
	if err != nil {
		fatal("Failed to initialize analytics", err)
	}

	events := pipeline.New(store, definitions, analyticsManager)

	overrideLimiter := ratelimit.New(redisClient, "ab_param", cfg.ParamRateLimit, time.Minute)
	sessions := session.NewManager(store, events, overrideLimiter, session.Config{
		RequestParam: cfg.RequestParam,
		AllowParam:   cfg.AllowParam,
	})

	// Routes
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	api := handlers.New(sessions)
	router.HandleFunc("/ab/assign", api.Assign).Methods(http.MethodPost)
	router.HandleFunc("/ab/goal", api.Goal).Methods(http.MethodPost)

	gateway := webhook.NewGateway(store, events, backend, webhook.Config{
		Tolerance:      cfg.WebhookTolerance,
		IdempotencyTTL: cfg.WebhookIdempotencyTTL,
	})
	webhookLimiter := ratelimit.New(redisClient, "ab_webhook", cfg.WebhookRateLimit, cfg.WebhookRateWindow)
	router.Handle(cfg.WebhookPath,
		ratelimit.Middleware(webhookLimiter)(
			webhook.VerifySignature(cfg.WebhookEnabled, cfg.WebhookSecret)(
				http.HandlerFunc(gateway.ReceiveGoal)))).Methods(http.MethodPost)

	reports := report.NewHandlers(report.NewService(store))
	reportRouter := router.PathPrefix("/ab/report").Subrouter()
	reportRouter.Use(auth.Middleware(auth.Config{
		Mode:         auth.Mode(cfg.ReportAuth),
		Username:     cfg.ReportUsername,
		PasswordHash: cfg.ReportPasswordHash,
		TokenSecret:  cfg.ReportTokenSecret,
	}))
	reports.Register(reportRouter)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, `{"status":"unhealthy"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	scheduler := jobs.NewScheduler(store, analyticsManager)
	if err := scheduler.Start(cfg.ExportSchedule); err != nil {
		fatal("Failed to start export scheduler", err)
	}

	srv := server.New(router, cfg.Port)
	errCh := srv.Start()
	logging.Info("server started",
		logging.String("port", cfg.Port),
		logging.String("database", cfg.DatabaseType),
		logging.String("analytics", analyticsManager.Driver()),
		logging.Bool("webhook_enabled", cfg.WebhookEnabled),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		fatal("Server failed", err)
	case <-quit:
	}

	logging.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fatal("Server forced to shutdown", err)
	}
	logging.Info("server exited")
}

// newCacheBackend picks the shared cache backend: redis when configured,
// otherwise an in-process cache.
func newCacheBackend(cfg *config.Config, redisClient *redis.Client) cache.Cache {
	cacheCfg := cache.Config{
		Type:            cache.TypeLocal,
		TTL:             cfg.CacheTTL,
		CleanupInterval: 10 * time.Minute,
		KeyPrefix:       cfg.CachePrefix,
	}
	if redisClient != nil {
		cacheCfg.Type = cache.TypeRedis
		cacheCfg.RedisClient = redisClient.Raw()
	}

	backend, err := cache.New(cacheCfg)
	if err != nil {
		fatal("Failed to initialize cache", err)
	}
	return backend
}

func fatal(msg string, err error) {
	logging.Error(msg, err)
	logging.MustSync()
	os.Exit(1)
}
