package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pushgate/webhooks/internal/api/handlers"
	"github.com/pushgate/webhooks/internal/api/middleware"
	"github.com/pushgate/webhooks/internal/config"
	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/internal/queue"
	"github.com/pushgate/webhooks/internal/queue/kafkaqueue"
	"github.com/pushgate/webhooks/internal/queue/redisqueue"
	"github.com/pushgate/webhooks/internal/queue/riverqueue"
	"github.com/pushgate/webhooks/internal/queue/sqsqueue"
	"github.com/pushgate/webhooks/internal/repository"
	"github.com/pushgate/webhooks/internal/service"
	"github.com/pushgate/webhooks/internal/transport"
	"github.com/pushgate/webhooks/internal/workers"
	"github.com/pushgate/webhooks/pkg/database"
)

const (
	queueDepthInterval  = 15 * time.Second
	syncQueueBufferSize = 1024
	enqueueBackoff      = 100 * time.Millisecond
	enqueueMaxBackoff   = 2 * time.Second
)

var errUnsupportedQueueDriver = errors.New("unsupported queue driver")

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	redis          *redis.Client
	server         *http.Server
	queue          queue.Queue
	sender         *service.WebhookSender
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

// setupMetrics creates the meter provider and metrics when metrics are enabled. The handler is
// non-nil for the prometheus exporter and is served on /metrics.
func setupMetrics(cfg *config.Config) (*sdkmetric.MeterProvider, *observability.Metrics, http.Handler, error) {
	mp, handler, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter(observability.MeterScope))
	if err != nil {
		if err2 := observability.ShutdownMeterProvider(context.Background(), mp); err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, metrics, handler, nil
}

// NewApp builds and wires all components. It does not start the server or queue consumers;
// call Run for that. ctx bounds connection setup and is the parent of the batcher.
func NewApp(ctx context.Context, cfg *config.Config) (app *App, err error) {
	a := &App{cfg: cfg}

	defer func() {
		if err != nil {
			if closeErr := a.closeResources(context.Background()); closeErr != nil {
				slog.Error("release resources after init error", "error", closeErr)
			}
		}
	}()

	var metricsHandler http.Handler

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		a.meterProvider, a.metrics, metricsHandler, err = setupMetrics(cfg)
		if err != nil {
			return nil, err
		}
	}

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		a.tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	// Installed unconditionally so request_id and app_key appear in logs even without tracing.
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(slog.Default().Handler())))

	if a.tracerProvider != nil {
		otel.SetTracerProvider(a.tracerProvider)
	}

	if a.meterProvider != nil {
		otel.SetMeterProvider(a.meterProvider)
	}

	var (
		webhookMetrics observability.WebhookMetrics
		queueMetrics   observability.QueueMetrics
		cacheMetrics   observability.CacheMetrics
	)
	if a.metrics != nil {
		webhookMetrics = a.metrics.Webhooks
		queueMetrics = a.metrics.Queue
		cacheMetrics = a.metrics.Cache
	}

	if cfg.NeedsDatabase() {
		a.db, err = database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithMaxConns(int32(cfg.DatabaseMaxConns)))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
	}

	apps, err := a.newAppManager(ctx, cacheMetrics)
	if err != nil {
		return nil, err
	}

	backend, err := a.newQueue(ctx, queueMetrics)
	if err != nil {
		return nil, err
	}

	a.queue = queue.NewRetrying(backend, queue.RetryingConfig{
		MaxRetries:     cfg.EnqueueMaxRetries,
		InitialBackoff: enqueueBackoff,
		MaxBackoff:     enqueueMaxBackoff,
		Metrics:        webhookMetrics,
	})

	if cfg.QueueProcessingEnabled {
		deliverer, err := newTransport(cfg)
		if err != nil {
			return nil, err
		}

		worker := workers.NewWebhookDispatchWorker(apps, deliverer,
			transport.NewLogOutcomeHandler(cfg.Debug, webhookMetrics),
			workers.DispatchConfig{
				ProcessID:       cfg.ProcessID,
				BatchingEnabled: cfg.BatchingEnabled,
				Metrics:         webhookMetrics,
			})
		worker.Register(a.queue)
	} else {
		slog.Info("queue processing disabled (QUEUE_PROCESSING_ENABLED=false), enqueue only")
	}

	a.sender = service.NewWebhookSender(ctx, a.queue, service.SenderConfig{
		BatchingEnabled:  cfg.BatchingEnabled,
		BatchingDuration: cfg.BatchingDuration,
		Metrics:          webhookMetrics,
	})

	a.server = a.newHTTPServer(apps, metricsHandler)

	slog.Info("webhook dispatcher configured",
		"process_id", cfg.ProcessID,
		"queue_driver", cfg.QueueDriver,
		"app_manager", cfg.AppManagerDriver,
		"batching", cfg.BatchingEnabled,
	)

	return a, nil
}

func (a *App) newAppManager(ctx context.Context, metrics observability.CacheMetrics) (service.AppManager, error) {
	var inner service.AppManager

	switch a.cfg.AppManagerDriver {
	case config.AppManagerPostgres:
		repo := repository.NewAppsRepository(a.db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}

		inner = repo
	default:
		fileApps, err := repository.LoadFileApps(a.cfg.AppsFile)
		if err != nil {
			return nil, err
		}

		slog.Info("apps loaded", "file", a.cfg.AppsFile, "count", fileApps.Len())

		inner = fileApps
	}

	return service.NewCachingAppManager(inner, a.cfg.AppCacheSize, a.cfg.AppCacheTTL, metrics)
}

func (a *App) newQueue(ctx context.Context, metrics observability.QueueMetrics) (queue.Queue, error) {
	cfg := a.cfg

	switch cfg.QueueDriver {
	case config.QueueDriverSync:
		return queue.NewSyncQueue(cfg.QueueConcurrency, syncQueueBufferSize, metrics), nil
	case config.QueueDriverRedis:
		client, err := redisqueue.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}

		a.redis = client

		return redisqueue.New(client, redisqueue.Config{
			Prefix:      cfg.RedisQueuePrefix,
			Concurrency: cfg.QueueConcurrency,
			Metrics:     metrics,
		}), nil
	case config.QueueDriverRiver:
		return riverqueue.New(a.db, riverqueue.Config{
			Concurrency: cfg.QueueConcurrency,
			Migrate:     cfg.RiverMigrate,
			Metrics:     metrics,
		}), nil
	case config.QueueDriverKafka:
		q, err := kafkaqueue.New(kafkaqueue.Config{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     cfg.KafkaGroupID,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Concurrency: cfg.QueueConcurrency,
			Metrics:     metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("create kafka queue: %w", err)
		}

		return q, nil
	case config.QueueDriverSQS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SQSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		return sqsqueue.New(sqs.NewFromConfig(awsCfg), sqsqueue.Config{
			QueueURLPrefix:    cfg.SQSQueueURLPrefix,
			Concurrency:       cfg.QueueConcurrency,
			MaxMessages:       cfg.SQSMaxMessages,
			VisibilityTimeout: cfg.SQSVisibilityTimeout,
			JobBudget:         cfg.WebhookHTTPTimeout * time.Duration(1+cfg.WebhookHTTPMaxRetries),
			Metrics:           metrics,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedQueueDriver, cfg.QueueDriver)
	}
}

// newTransport routes deliveries by target kind and applies the outbound rate limit.
func newTransport(cfg *config.Config) (transport.Transport, error) {
	lambda, err := transport.NewLambdaTransport(transport.NewLambdaClient)
	if err != nil {
		return nil, fmt.Errorf("create lambda transport: %w", err)
	}

	router := &transport.Router{
		HTTP: transport.NewHTTPTransport(transport.HTTPConfig{
			Timeout:    cfg.WebhookHTTPTimeout,
			MaxRetries: cfg.WebhookHTTPMaxRetries,
		}),
		Lambda: lambda,
	}

	return transport.NewRateLimited(router, cfg.WebhookMaxDeliveriesPerSecond), nil
}

// newHTTPServer builds the router (no auth on /health and /metrics, API key on /v1).
// Handler chain: RequestID -> otelhttp(Logging(router)) so access logs get trace_id/span_id.
func (a *App) newHTTPServer(apps service.AppManager, metricsHandler http.Handler) *http.Server {
	var (
		apiMetrics   observability.APIMetrics
		bodyRecorder middleware.RequestBodyTooLargeRecorder
	)
	if a.metrics != nil {
		apiMetrics = a.metrics.API
		bodyRecorder = a.metrics.API
	}

	checks := map[string]handlers.Pinger{}
	if a.db != nil {
		checks["postgres"] = a.db.Ping
	}

	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}

	health := handlers.NewHealthHandler(checks)
	events := handlers.NewEventsHandler(apps, a.sender)

	r := chi.NewRouter()
	r.Use(middleware.Metrics(apiMetrics))

	r.Get("/health", health.Check)
	r.Get("/health/ready", health.Ready)

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.MaxBody(a.cfg.MaxRequestBodyBytes, bodyRecorder))
		r.Use(middleware.Auth(a.cfg.APIKey))
		r.Post("/apps/{appID}/events", events.Create)
	})

	otelOpts := []otelhttp.Option{
		// Skip tracing for health checks and scrapes.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasPrefix(r.URL.Path, "/health") && r.URL.Path != "/metrics"
		}),
	}
	if a.meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(a.meterProvider))
	}

	if a.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(a.tracerProvider))
	}

	handler := otelhttp.NewHandler(middleware.Logging(r), "pushgate-webhooks", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout  = 15 * time.Second
		writeTimeout = 15 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the queue consumers and the HTTP server, then blocks until ctx is cancelled or a
// component fails. Call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	// Consumers outlive ctx so Shutdown can drain them in order.
	if err := a.queue.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()

	if dr, ok := a.queue.(queue.DepthReporter); ok && a.metrics != nil {
		go runQueueDepthPoller(pollCtx, dr, a.metrics.Queue)
	}

	runErr := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr <- fmt.Errorf("server: %w", err)
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// runQueueDepthPoller periodically updates the depth gauge of every category.
func runQueueDepthPoller(ctx context.Context, dr queue.DepthReporter, metrics observability.QueueMetrics) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	update := func() {
		for _, category := range datatypes.AllQueueCategories() {
			depth, err := dr.Depth(ctx, category)
			if err != nil {
				slog.WarnContext(ctx, "queue depth poll failed", "queue", category, "error", err)

				continue
			}

			metrics.SetQueueDepth(category.String(), depth)
		}
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// Shutdown stops accepting events, flushes pending batches onto the queue, drains the queue and
// then releases connections and observability. Errors are joined.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if err := a.sender.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush batches: %w", err))
	}

	if err := a.queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("queue stop: %w", err))
	}

	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// closeResources releases connections and shuts down observability. Safe on a partially built App.
func (a *App) closeResources(ctx context.Context) error {
	var errs []error

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if a.db != nil {
		a.db.Close()
	}

	if err := observability.ShutdownTracerProvider(ctx, a.tracerProvider); err != nil {
		errs = append(errs, err)
	}

	if err := observability.ShutdownMeterProvider(ctx, a.meterProvider); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
