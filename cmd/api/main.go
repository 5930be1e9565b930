package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	httpapi "github.com/sabalioglu/ai-ugc/internal/http"
	"github.com/sabalioglu/ai-ugc/internal/http/handlers"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/jobs"
	"github.com/sabalioglu/ai-ugc/internal/jobstore"
	"github.com/sabalioglu/ai-ugc/internal/ledger"
	"github.com/sabalioglu/ai-ugc/internal/middleware"
	"github.com/sabalioglu/ai-ugc/internal/sqlinline"
	"github.com/sabalioglu/ai-ugc/internal/statussync"
	"github.com/sabalioglu/ai-ugc/internal/storage"
	"github.com/sabalioglu/ai-ugc/internal/trigger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)
	if err := infra.ApplySchema(ctx, runner, sqlinline.QSchema); err != nil {
		logger.Fatal().Err(err).Msg("api: schema bootstrap failed")
	}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("api: redis unavailable, rate limiting in process")
	}
	nc, err := infra.NewNATSConnection(cfg, "ugc-api")
	if err != nil {
		logger.Warn().Err(err).Msg("api: nats unavailable")
	}
	if nc != nil {
		defer nc.Close()
	}
	amqpConn, err := infra.NewAMQPConnection(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: amqp connection failed")
	}

	store := jobstore.NewObserved(jobstore.NewPostgres(runner), logger)
	bus := statussync.Select(cfg.StatusPush, rdb, nc)
	if bus != nil {
		store.AddHook(statussync.Hook(bus, &logger))
	}
	if amqpConn != nil {
		defer amqpConn.Close()
		pub, err := trigger.NewAMQPPublisher(amqpConn, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: amqp publisher setup failed")
		}
		defer pub.Close()
		store.AddHook(trigger.Forward(pub, func(s domain.Status) bool { return s == domain.StatusPending }, &logger))
	} else {
		logger.Warn().Msg("api: AMQP_URL not set, new jobs wait for the worker's reconcile sweep")
	}

	blobs, staticDir, err := newUploader(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: storage setup failed")
	}

	svc := jobs.NewService(store, ledger.NewPostgres(runner), blobs, &logger)
	watcher := statussync.New(store, bus, statussync.Options{
		ActivityTimeout: cfg.SyncActivityTimeout,
		PollInterval:    cfg.SyncPollInterval,
		ClientTimeout:   cfg.ClientTimeout,
		Logger:          &logger,
	})
	app := handlers.NewApp(svc, watcher, logger)

	opts := httpapi.RouterOptions{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Fallback:        middleware.NewMemoryLimiter(cfg.RateLimitPerMin, time.Minute),
		StaticDir:       staticDir,
		Logger:          logger,
	}
	if rdb != nil {
		defer rdb.Close()
		opts.SubmitLimiter = middleware.NewRedisLimiter(rdb, cfg.RateLimitPerMin, time.Minute)
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, opts))

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// newUploader prefers the S3 bucket and falls back to the local directory,
// which the API then serves under /static/.
func newUploader(ctx context.Context, cfg *infra.Config) (storage.Uploader, string, error) {
	client, err := infra.NewMinioClient(cfg)
	if err != nil {
		return nil, "", err
	}
	if client != nil {
		s3 := storage.NewS3Store(client, cfg.S3Bucket, cfg.S3PublicBaseURL)
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, "", err
		}
		return s3, "", nil
	}
	fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, "", err
	}
	return fs, fs.BasePath(), nil
}
