package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openclaw/leasepool-server-go/internal/config"
	"github.com/openclaw/leasepool-server-go/internal/database"
	"github.com/openclaw/leasepool-server-go/internal/repository"
	"github.com/openclaw/leasepool-server-go/internal/service"
	"github.com/openclaw/leasepool-server-go/internal/task"
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

	if err := cfg.Validate(false); err != nil {
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

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse redis url")
	}

	client := asynq.NewClient(redisOpt)
	defer client.Close()
	if err := client.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to asynq")
	}

	ledger := service.NewCreditLedger(repository.NewResourceRepository(db.DB), service.PoolsFromConfig(cfg))

	mux := asynq.NewServeMux()
	task.NewHandler(ledger).Register(mux)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    cfg.WorkerConcurrency,
		RetryDelayFunc: asynq.DefaultRetryDelayFunc,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			log.Error().Err(err).Str("taskType", t.Type()).Msg("asynq task failed")
		}),
	})

	scheduler := task.NewScheduler(client, cfg.CreditResetHour)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		server.Shutdown()
		return nil
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	log.Info().Int("concurrency", cfg.WorkerConcurrency).Int("resetHour", cfg.CreditResetHour).Msg("worker started")

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("worker stopped with error")
	}

	log.Info().Msg("worker stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
