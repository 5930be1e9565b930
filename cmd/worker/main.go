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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/infra/credentials"
	"github.com/sabalioglu/ai-ugc/internal/jobstore"
	"github.com/sabalioglu/ai-ugc/internal/ledger"
	"github.com/sabalioglu/ai-ugc/internal/pipeline"
	"github.com/sabalioglu/ai-ugc/internal/providers/assembly"
	"github.com/sabalioglu/ai-ugc/internal/providers/genai"
	"github.com/sabalioglu/ai-ugc/internal/providers/kie"
	"github.com/sabalioglu/ai-ugc/internal/statussync"
	"github.com/sabalioglu/ai-ugc/internal/trigger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	creds := credentials.NewStore(runner)
	kieKey, err := creds.Resolve(ctx, credentials.ProviderKie, cfg.KieAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: failed to load kie api key from store")
	}
	geminiKey, err := creds.Resolve(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: failed to load gemini api key from store")
	}

	tasks, err := kie.NewClient(kie.Options{
		APIKey:         kieKey,
		BaseURL:        cfg.KieBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderRequestTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure kie client")
	}
	if !tasks.HasCredentials() {
		logger.Warn().Msg("worker: kie api key missing, image and video tasks will be rejected")
	}
	llm, err := genai.NewClient(ctx, genai.Options{APIKey: geminiKey, Model: cfg.GeminiModel, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure gemini client")
	}
	defer llm.Close()
	if llm.Synthetic() {
		logger.Warn().Str("model", llm.Model()).Msg("worker: gemini api key missing, using synthetic prompts")
	}

	fetchClient := &http.Client{Timeout: cfg.ProviderRequestTimeout}
	store := jobstore.NewObserved(jobstore.NewPostgres(runner), logger)
	p := pipeline.New(pipeline.Deps{
		Jobs:      store,
		Ledger:    ledger.NewPostgres(runner),
		Tasks:     tasks,
		LLM:       llm,
		Assembler: assembly.NewClient(assembly.Options{BaseURL: cfg.AssemblyServiceURL, Logger: &logger}),
		FetchImage: func(ctx context.Context, url string) (genai.Image, error) {
			return genai.FetchImage(ctx, fetchClient, url)
		},
		Logger: &logger,
	}, pipeline.ConfigFrom(cfg))

	dispatcher := trigger.NewDispatcher(ctx, cfg.WorkerConcurrency, &logger)
	for _, st := range p.Stages() {
		dispatcher.Register(st.Trigger, st.Run)
	}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: redis unavailable")
	}
	if rdb != nil {
		defer rdb.Close()
	}
	nc, err := infra.NewNATSConnection(cfg, "ugc-worker")
	if err != nil {
		logger.Warn().Err(err).Msg("worker: nats unavailable")
	}
	if nc != nil {
		defer nc.Close()
	}
	if bus := statussync.Select(cfg.StatusPush, rdb, nc); bus != nil {
		store.AddHook(statussync.Hook(bus, &logger))
	}

	amqpConn, err := infra.NewAMQPConnection(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: amqp connection failed")
	}

	var publisher trigger.Publisher = dispatcher
	reconcile := trigger.ReconcilerOptions{
		Statuses:   dispatcher.Statuses(),
		Interval:   cfg.ReconcileInterval,
		StaleAfter: cfg.ReconcileStaleAfter,
		Logger:     &logger,
	}
	done := make(chan struct{})
	if amqpConn != nil {
		defer amqpConn.Close()
		pub, err := trigger.NewAMQPPublisher(amqpConn, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: amqp publisher setup failed")
		}
		defer pub.Close()
		consumer, err := trigger.NewAMQPConsumer(amqpConn, cfg.AMQPExchange, cfg.AMQPQueue, cfg.WorkerConcurrency, dispatcher, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: amqp consumer setup failed")
		}
		defer consumer.Close()
		publisher = pub
		store.AddHook(trigger.Forward(pub, dispatcher.Handles, &logger))
		go func() {
			defer close(done)
			err := consumer.Start(ctx)
			if ctx.Err() == nil {
				// Exit so the supervisor restarts the worker with a fresh connection.
				logger.Error().Err(err).Msg("worker: consumer stopped")
				stop()
			}
		}()
	} else {
		store.AddHook(dispatcher.OnStatusChange)
		reconcile.Immediate = []domain.Status{domain.StatusPending}
		close(done)
		logger.Info().Msg("worker: AMQP_URL not set, dispatching stages in process")
	}

	claims := jobstore.NewPostgres(runner)
	reconciler := trigger.NewReconciler(claims, publisher, reconcile).WithRefunds(claims, p)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: reconciler stopped")
		}
	}()

	metrics := http.NewServeMux()
	metrics.Handle("/metrics", promhttp.Handler())
	metricsServer := infra.NewMetricsServer(cfg, metrics)
	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("worker: metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Strs("statuses", statusNames(dispatcher.Statuses())).
		Msg("worker: started")
	<-ctx.Done()

	<-done
	dispatcher.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info().Msg("worker: stopped")
}

func statusNames(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
