package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/leasepool-server-go/internal/blobstore"
	"github.com/openclaw/leasepool-server-go/internal/config"
	"github.com/openclaw/leasepool-server-go/internal/database"
	"github.com/openclaw/leasepool-server-go/internal/handler"
	"github.com/openclaw/leasepool-server-go/internal/jobs"
	"github.com/openclaw/leasepool-server-go/internal/middleware"
	"github.com/openclaw/leasepool-server-go/internal/provider"
	"github.com/openclaw/leasepool-server-go/internal/redis"
	"github.com/openclaw/leasepool-server-go/internal/repository"
	"github.com/openclaw/leasepool-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("K_SERVICE") != "" || os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Str("driver", db.DB.DriverName()).Msg("database connected")

	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), config.MigrationTimeout)
		if err := database.Migrate(ctx, db.DB, "up"); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		cancel()
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	var blobs blobstore.Store = blobstore.Disabled{}
	if cfg.BlobEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		store, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:      cfg.BlobEndpoint,
			AccessKey:     cfg.BlobAccessKey,
			SecretKey:     cfg.BlobSecretKey,
			Bucket:        cfg.BlobBucket,
			Secure:        cfg.BlobSecure,
			PublicURLBase: cfg.BlobPublicURLBase,
		})
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to blob store")
		}
		blobs = store
	}

	resourceRepo := repository.NewResourceRepository(db.DB)
	statsRepo := repository.NewStatsRepository(db.DB)

	pools := service.PoolsFromConfig(cfg)
	ledger := service.NewCreditLedger(resourceRepo, pools)
	retireService := service.NewRetireService(db.DB, resourceRepo, blobs, pools)
	resourceService := service.NewResourceService(
		resourceRepo, statsRepo, pools, ledger, retireService,
		cfg.AccountsWithoutCookieLimit, cfg.LeaseCooldown(),
	)
	leaseService := service.NewLeaseService(resourceRepo, cfg.LeaseCooldown())
	reconciler := service.NewCookieReconciler(resourceRepo, blobs, pools)
	boomlify := provider.NewClient(cfg.BoomlifyBaseURL, config.ProviderHTTPTimeout)
	mailService := service.NewMailService(resourceRepo, ledger, boomlify, cfg.OTPPollInterval(), config.OTPMaxTimeout)
	ipRateLimiter := service.NewRateLimiter(redisClient.Client)

	adminAuthMiddleware := middleware.NewAdminAuthMiddleware(cfg.AdminToken)
	apiRateLimit := middleware.NewIPRateLimitMiddleware(ipRateLimiter, cfg.RateLimitPerMinute, time.Minute, "api")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	resourceHandler := handler.NewResourceHandler(resourceService, leaseService, ledger, reconciler, retireService, blobs)
	boomlifyHandler := handler.NewBoomlifyHandler(mailService, cfg.OTPTimeout())
	statsHandler := handler.NewStatsHandler(resourceService)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": db,
		"redis":    redisClient,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api", func(r chi.Router) {
		r.Use(adminAuthMiddleware.Handler)
		r.Use(apiRateLimit.Handler)
		r.Get("/stats", statsHandler.Overview)
		r.Mount("/boomlify", boomlifyHandler.Routes())
		r.Mount("/", resourceHandler.Routes())
	})

	if interval := cfg.CreditResetCheckInterval(); interval > 0 {
		creditResetJob := jobs.NewCreditResetJob(ledger, interval)
		creditResetJob.Start()
		defer creditResetJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
