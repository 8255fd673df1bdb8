package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iago/lead-intel/internal/ai"
	"github.com/iago/lead-intel/internal/analysis"
	"github.com/iago/lead-intel/internal/cache"
	"github.com/iago/lead-intel/internal/config"
	"github.com/iago/lead-intel/internal/discovery"
	"github.com/iago/lead-intel/internal/extract"
	httpserver "github.com/iago/lead-intel/internal/http"
	"github.com/iago/lead-intel/internal/http/handlers"
	"github.com/iago/lead-intel/internal/logging"
	"github.com/iago/lead-intel/internal/metrics"
	"github.com/iago/lead-intel/internal/progress"
	"github.com/iago/lead-intel/internal/promotion"
	"github.com/iago/lead-intel/internal/queue"
	"github.com/iago/lead-intel/internal/repository"
	"github.com/iago/lead-intel/internal/scoring"
	"github.com/iago/lead-intel/internal/service"
	"github.com/iago/lead-intel/internal/tasks"
	"github.com/iago/lead-intel/internal/worker"
)

const localQueueBuffer = 512

// app holds the wired components shared by the serve and worker commands.
type app struct {
	cfg       config.Config
	logger    zerolog.Logger
	store     repository.Store
	producer  queue.Producer
	consumers []queue.Consumer
	progress  progress.Broadcaster
	tasks     tasks.Publisher
	research  *service.ResearchService
	scoring   *scoring.Service
	promotion *promotion.Service
	pipeline  *service.Pipeline

	background sync.WaitGroup
	closers    []func()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.WorkerEnabled {
		a.startWorkers(ctx)
	} else {
		a.logger.Info().Msg("worker disabled by configuration")
	}

	api := handlers.NewAPI(a.research, a.scoring, a.promotion, a.progress, logging.Component(a.logger, "http"))
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logging.Component(a.logger, "http"),
		AuthToken:      a.cfg.AuthToken,
		CORSOrigins:    a.cfg.CORSAllowedOrigins,
		RateLimitRPS:   a.cfg.RateLimitRPS,
		RateLimitBurst: a.cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info().Str("port", a.cfg.Port).Msg("api listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	a.background.Wait()
	return nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.RedisAddr == "" {
		a.logger.Warn().Msg("REDIS_ADDR not configured, worker only sees its own in-process queue")
	}
	a.startWorkers(ctx)
	<-ctx.Done()
	a.logger.Info().Msg("shutdown signal received")
	a.background.Wait()
	return nil
}

func newApp(ctx context.Context) (*app, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: cfg, logger: logging.New(cfg.LogLevel, cfg.LogFormat)}
	metrics.MustRegister()

	a.setupStore(ctx)
	redisClient := a.setupRedis(ctx)
	a.setupQueue(ctx, redisClient)
	a.setupProgress(ctx, redisClient)
	a.setupTasks()

	a.research = service.NewResearchService(a.store, a.producer, a.tasks, a.progress, logging.Component(a.logger, "research"))
	a.scoring = scoring.NewService(a.store, logging.Component(a.logger, "scoring"))
	a.promotion = promotion.NewService(a.store, a.store, logging.Component(a.logger, "promotion"))
	a.pipeline = service.NewPipeline(service.PipelineDependencies{
		Store:              a.store,
		Cache:              cache.NewLayer(a.store, a.store, cache.Config{QueryTTL: cfg.QueryCacheTTL, URLTTL: cfg.URLCacheTTL}, logging.Component(a.logger, "cache")),
		Discovery:          a.setupDiscovery(),
		Extractor:          a.setupExtractor(),
		Analyzer:           a.setupAnalyzer(),
		Scoring:            a.scoring,
		Promotion:          a.promotion,
		Progress:           a.progress,
		Logger:             logging.Component(a.logger, "pipeline"),
		ExtractConcurrency: cfg.ExtractChunkSize,
	})
	return a, nil
}

func (a *app) setupStore(ctx context.Context) {
	if a.cfg.DatabaseURL == "" {
		a.logger.Info().Msg("DATABASE_URL not configured, using in-memory store")
		a.store = repository.NewMemoryStore()
		return
	}

	pgStore, err := repository.NewPostgresStore(ctx, a.cfg.DatabaseURL)
	if err == nil {
		err = pgStore.EnsureSchema(ctx)
		if err != nil {
			pgStore.Close()
		}
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to initialize postgres store, fallback to memory")
		a.store = repository.NewMemoryStore()
		return
	}
	a.logger.Info().Msg("postgres store initialized")
	a.store = pgStore
	a.closers = append(a.closers, pgStore.Close)
}

func (a *app) setupRedis(ctx context.Context) redis.UniversalClient {
	if a.cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.logger.Error().Err(err).Msg("redis unreachable, fallback to local queue and progress hub")
		_ = client.Close()
		return nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return client
}

func (a *app) setupQueue(ctx context.Context, client redis.UniversalClient) {
	workers := max(a.cfg.WorkerConcurrency, 1)
	if client != nil {
		streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
			Stream:      a.cfg.RedisStream,
			DLQStream:   a.cfg.RedisDLQ,
			Group:       a.cfg.RedisGroup,
			Consumer:    a.cfg.RedisConsumer,
			MaxAttempts: a.cfg.QueueMaxAttempts,
		}, logging.Component(a.logger, "queue"))
		if err == nil {
			a.logger.Info().Int("consumers", workers).Msg("redis streams queue initialized")
			a.producer = streams
			for i := 0; i < workers; i++ {
				a.consumers = append(a.consumers, streams.WithConsumer(a.cfg.RedisConsumer+"-"+strconv.Itoa(i+1)))
			}
			return
		}
		a.logger.Error().Err(err).Msg("failed to initialize redis streams queue, fallback to local")
	}

	local := queue.NewLocalQueue(localQueueBuffer, a.cfg.QueueMaxAttempts, workers, logging.Component(a.logger, "queue"))
	a.logger.Info().Int("concurrency", workers).Msg("local queue initialized")
	a.producer = local
	a.consumers = []queue.Consumer{local}
}

func (a *app) setupProgress(ctx context.Context, client redis.UniversalClient) {
	if client == nil {
		hub := progress.NewHub(a.cfg.ProgressBuffer, progress.DefaultSubscriberBuffer)
		a.progress = hub
		a.closers = append(a.closers, hub.Close)
		return
	}

	relay := progress.NewRedisBroadcaster(client, a.cfg.ProgressChannel, a.cfg.ProgressBuffer, logging.Component(a.logger, "progress"))
	a.progress = relay
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error().Err(err).Msg("progress relay stopped")
		}
	}()
}

func (a *app) setupTasks() {
	if a.cfg.AMQPURL == "" {
		a.logger.Info().Msg("AMQP_URL not configured, external tasks are kept in memory")
		a.tasks = tasks.NewMemoryPublisher()
		return
	}
	publisher, err := tasks.NewAMQPPublisher(a.cfg.AMQPURL, a.cfg.AMQPTaskQueue)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to connect to amqp broker, external tasks are kept in memory")
		a.tasks = tasks.NewMemoryPublisher()
		return
	}
	a.tasks = publisher
	a.closers = append(a.closers, func() { _ = publisher.Close() })
}

func (a *app) setupDiscovery() *discovery.Service {
	registry := discovery.NewRegistry(a.cfg.SearchProvider)
	registry.Register(discovery.NewBraveProvider(a.cfg.BraveAPIKey, a.cfg.BraveBaseURL, a.cfg.SearchTimeout))
	registry.Register(discovery.NewDuckDuckGoProvider(a.cfg.DuckDuckGoBaseURL, a.cfg.SearchTimeout))
	return discovery.NewService(registry, a.cfg.MaxSources, logging.Component(a.logger, "discovery"))
}

func (a *app) setupExtractor() *extract.Extractor {
	var strategy extract.Strategy
	switch a.cfg.ExtractStrategy {
	case "browser":
		strategy = extract.NewBrowserStrategy(a.cfg.BrowserBin, a.cfg.BrowserHeadless)
	default:
		strategy = extract.NewReaderStrategy(a.cfg.ReaderBaseURL, a.cfg.ReaderAPIKey, a.cfg.ReaderMinDelay)
	}
	a.logger.Info().Str("strategy", strategy.Name()).Msg("extraction strategy selected")
	return extract.NewExtractor(strategy, a.cfg.ExtractChunkSize, a.cfg.ExtractTimeout, logging.Component(a.logger, "extract"))
}

func (a *app) setupAnalyzer() *analysis.Analyzer {
	registry := ai.NewRegistry(a.cfg.AnalysisProvider)
	registry.Register(ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
		APIKey:     a.cfg.OpenRouterAPIKey,
		BaseURL:    a.cfg.OpenRouterBaseURL,
		Timeout:    time.Duration(a.cfg.OpenRouterTimeoutMS) * time.Millisecond,
		MaxRetries: a.cfg.OpenRouterMaxRetries,
		SiteURL:    a.cfg.OpenRouterSiteURL,
		AppName:    a.cfg.OpenRouterAppName,
	}), ai.ModelProfile{Model: a.cfg.OpenRouterModel})
	registry.Register(ai.NewOpenAIClient(ai.OpenAIClientConfig{
		APIKey:     a.cfg.OpenAIAPIKey,
		BaseURL:    a.cfg.OpenAIBaseURL,
		Timeout:    time.Duration(a.cfg.OpenAITimeoutMS) * time.Millisecond,
		MaxRetries: a.cfg.OpenAIMaxRetries,
	}), ai.ModelProfile{Model: a.cfg.OpenAIModel})
	registry.Register(ai.NewGeminiClient(a.cfg.GeminiAPIKey, "", a.cfg.GeminiMaxRetries), ai.ModelProfile{Model: a.cfg.GeminiModel})

	return analysis.NewAnalyzer(registry, analysis.Config{
		PromptsDir:        a.cfg.PromptsDir,
		MaxCharsPerSource: a.cfg.MaxContentPerPage,
		MaxTotalChars:     a.cfg.MaxAnalysisChars,
	}, logging.Component(a.logger, "analysis"))
}

func (a *app) startWorkers(ctx context.Context) {
	for i, consumer := range a.consumers {
		processor := worker.NewProcessor(consumer, a.pipeline.Handle, logging.Component(a.logger, "worker").With().Int("worker", i+1).Logger())
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			processor.Start(ctx)
		}()
	}
	a.logger.Info().Int("workers", len(a.consumers)).Msg("worker started")
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
