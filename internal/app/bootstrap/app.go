package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/softaidev/assistant-ledger/internal/activity"
	"github.com/softaidev/assistant-ledger/internal/api/router"
	"github.com/softaidev/assistant-ledger/internal/assistant"
	appconfig "github.com/softaidev/assistant-ledger/internal/config"
	"github.com/softaidev/assistant-ledger/internal/emailqueue"
	"github.com/softaidev/assistant-ledger/internal/http/handlers"
	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/notify"
	"github.com/softaidev/assistant-ledger/internal/observability/metrics"
	"github.com/softaidev/assistant-ledger/internal/realtime"
	"github.com/softaidev/assistant-ledger/internal/storage"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// App holds the wired services shared by the API server and the queue worker.
type App struct {
	Config     *appconfig.Config
	Storage    *Storage
	Gateway    ledger.Gateway
	Broker     realtime.Broker
	Feed       *activity.Feed
	Dispatcher *notify.Dispatcher
	Assistant  *assistant.Service
	Metrics    *metrics.LedgerMetrics
	Provider   string

	health map[string]handlers.Pinger
	redis  *redis.Client
	logger *logging.Logger
}

// New wires every component from cfg. awsCfg may be nil when NeedsAWS is false.
func New(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, reg prometheus.Registerer, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := BuildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &App{
		Config:  cfg,
		Storage: store,
		Metrics: metrics.NewLedgerMetrics(reg),
		health:  make(map[string]handlers.Pinger),
		logger:  logger,
	}
	if store.Health != nil {
		app.health["database"] = store.Health
	}

	app.Broker = BuildBroker(cfg, logger)
	if p, ok := app.Broker.(handlers.Pinger); ok {
		app.health["nats"] = p
	}
	app.Gateway = realtime.NewNotifyingGateway(store.Gateway, app.Broker, logger)
	// Postgres and SQLite may also be written by cmd/queue-worker.
	app.Feed = activity.NewFeed(app.Gateway, cfg.ActivityFeedCapacity, app.Metrics, logger,
		activity.WithReadThrough(store.Backend != BackendMemory))
	if err := app.Feed.Warm(ctx); err != nil {
		logger.Warn("activity feed warm-up failed", "error", err)
	}

	sender, provider, err := BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Provider = provider

	classifier, err := BuildClassifier(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.redis = BuildRedisClient(ctx, cfg, logger, true)
	if app.redis != nil {
		app.health["redis"] = redisPinger{client: app.redis}
	}

	opts := []notify.Option{
		notify.WithActivity(app.Feed),
		notify.WithClassifier(classifier),
		notify.WithDeduper(BuildDeduper(app.redis, store, cfg)),
		notify.WithMetrics(app.Metrics),
		notify.WithLogger(logger),
	}
	if linker := BuildDownloadLinker(cfg, awsCfg); linker != nil {
		opts = append(opts, notify.WithDownloadLinker(linker))
	}
	app.Dispatcher = notify.NewDispatcher(app.Gateway, sender, notify.Config{
		Provider:         provider,
		FromAddress:      cfg.EmailFromAddress,
		FromName:         cfg.EmailFromName,
		SupportEmail:     cfg.SupportEmail,
		ForwardToSupport: cfg.ForwardToSupport,
	}, opts...)

	app.Assistant = assistant.NewService(app.Gateway,
		assistant.WithActivity(app.Feed),
		assistant.WithMailer(app.Dispatcher, cfg.SupportEmail),
		assistant.WithCannedReplies(cfg.ChatCannedReplies),
		assistant.WithMetrics(app.Metrics),
		assistant.WithLogger(logger),
	)

	logger.Info("application wired",
		"storage", store.Backend,
		"email_provider", provider,
		"redis", app.redis != nil,
	)
	return app, nil
}

// Router builds the HTTP handler tree. metricsHandler may be nil.
func (a *App) Router(metricsHandler http.Handler) http.Handler {
	stream := realtime.NewStreamHandler(a.Broker, a.Gateway, a.logger)
	return router.New(&router.Config{
		Logger:              a.logger,
		Metrics:             a.Metrics,
		MetricsHandler:      metricsHandler,
		HealthChecks:        a.health,
		Chat:                handlers.NewChatHandler(a.Assistant, a.Gateway, stream, a.logger),
		Calls:               handlers.NewCallsHandler(a.Assistant, a.logger),
		Email:               handlers.NewEmailHandler(a.Assistant, a.Dispatcher, a.logger),
		Admin:               handlers.NewAdminHandler(a.Gateway, a.Dispatcher, a.Feed, a.logger),
		AdminAuthSecret:     a.Config.AdminJWTSecret,
		WebhookToken:        a.Config.InboundWebhookToken,
		CORSAllowedOrigins:  a.Config.CORSAllowedOrigins,
		PublicRatePerSecond: a.Config.PublicRatePerSecond,
		PublicRateBurst:     a.Config.PublicRateBurst,
	})
}

// Deliverer builds the support-forward queue worker.
func (a *App) Deliverer() *emailqueue.Deliverer {
	return emailqueue.NewDeliverer(a.Gateway, a.Dispatcher, a.logger).
		WithBatchSize(a.Config.EmailQueueBatchSize).
		WithInterval(a.Config.EmailQueueInterval).
		WithLease(a.Config.EmailQueueLease).
		WithMetrics(a.Metrics)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
	a.Storage.Close()
}

// BuildBroker returns a NATS broker when NATS_URL is set so chat streams see
// inserts from every instance, and an in-process broker otherwise.
func BuildBroker(cfg *appconfig.Config, logger *logging.Logger) realtime.Broker {
	if strings.TrimSpace(cfg.NatsURL) == "" {
		return realtime.NewLocalBroker()
	}
	b, err := realtime.NewNATSBroker(cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		logger.Warn("nats unavailable; chat streams limited to this instance", "error", err)
		return realtime.NewLocalBroker()
	}
	return b
}

// BuildDownloadLinker returns an S3 presigner for order downloads, or nil
// when no bucket is configured.
func BuildDownloadLinker(cfg *appconfig.Config, awsCfg *aws.Config) notify.DownloadLinker {
	if strings.TrimSpace(cfg.DownloadBucket) == "" || awsCfg == nil {
		return nil
	}
	client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	return storage.NewS3Linker(client, cfg.DownloadBucket, cfg.DownloadLinkTTL)
}
