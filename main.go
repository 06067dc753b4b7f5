// api/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"luminacorp/api/buffer"
	"luminacorp/api/cache"
	"luminacorp/api/config"
	"luminacorp/api/database"
	"luminacorp/api/handlers"
	"luminacorp/api/limiter"
	"luminacorp/api/middleware"
	"luminacorp/api/models"
	"luminacorp/api/query"
	"luminacorp/api/retention"
	"luminacorp/api/store"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		// Running without a .env file is fine in deployed environments.
		_ = err
	}

	cfg, err := config.Load()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	policy := func() models.RetentionPolicy {
		return retention.PolicyFromConfig(cfg.RetentionDays)
	}

	// --- Select the storage backend (once, at startup) ---
	var st store.Store
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		dbClient, err := database.NewPostgresDB(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL database")
		}
		defer dbClient.Close()

		pg := store.NewPostgresStore(dbClient.DB, cfg.DBStatementTimeout, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pg.InitSchema(ctx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("failed to initialize telemetry schema")
		}
		cancel()
		st = pg
	default:
		mem := store.NewMemoryStore(cfg.MaxStorageSize, policy, cfg.ArchiveEnabled, time.Hour, logger)
		mem.Start()
		st = mem
	}
	defer st.Close()

	// --- Event buffer (optional) ---
	var buf *buffer.Buffer
	if cfg.BatchEnabled {
		buf = buffer.New(st, cfg.BatchMaxSize, cfg.BatchFlushInterval, logger)
		buf.Start()
	}

	// --- Query engine and cache ---
	engine := query.NewEngine(st)
	queryCache := cache.New(time.Minute)
	queryCache.Start()
	defer queryCache.Stop()

	// --- Retention manager ---
	retMgr := retention.NewManager(st, policy, cfg.ArchiveEnabled, cfg.RetentionInterval, logger)
	retMgr.Start()
	defer retMgr.Stop()

	// --- Rate limiter for the capture endpoints ---
	captureLimiter := limiter.New(cfg.CaptureRateLimit, time.Minute)
	captureLimiter.Start()
	defer captureLimiter.Stop()

	// --- Handlers ---
	captureHandlers := handlers.NewCaptureHandlers(st, buf, logger)
	statsHandlers := handlers.NewStatsHandlers(engine, st, queryCache, cfg.CacheTTL, cfg.CacheEnabled, logger)
	healthHandlers := handlers.NewHealthHandlers(st, buf, queryCache)

	r := gin.Default()
	r.Use(middleware.CORSMiddleware(cfg.FrontendOrigin))

	api := r.Group("/api")
	{
		api.GET("/health", healthHandlers.Health)

		capture := api.Group("/")
		capture.Use(middleware.RateLimit(captureLimiter))
		{
			capture.POST("/track", captureHandlers.TrackPageView)
			capture.POST("/metrics", captureHandlers.TrackSystemMetric)
		}

		// Dashboard reads require a valid token from the auth service.
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired([]byte(cfg.JWTSecretKey), cfg.APIKey))
		{
			protected.GET("/stats", statsHandlers.GetStats)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("backend", cfg.StorageBackend).Msg("telemetry API starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Drain what we can before the process exits.
	if buf != nil {
		buf.Stop(ctx)
	}

	logger.Info().Msg("server exiting")
}
