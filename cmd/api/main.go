package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/query-service/internal/api/http"
	"github.com/spec-kit/query-service/internal/api/http/handlers"
	"github.com/spec-kit/query-service/internal/classifier"
	"github.com/spec-kit/query-service/internal/config"
	"github.com/spec-kit/query-service/internal/events"
	"github.com/spec-kit/query-service/internal/observability"
	"github.com/spec-kit/query-service/internal/persistence"
	"github.com/spec-kit/query-service/internal/repository"
	"github.com/spec-kit/query-service/internal/service"
	"github.com/spec-kit/query-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	readiness := map[string]handlers.Pinger{}

	var queryRepo repository.QueryRepository
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory query store; data is lost on restart")
		queryRepo = repository.NewMemoryQueryRepository()
	default:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		if !pg.Enabled() {
			logger.Fatal("STORE_BACKEND=postgres requires POSTGRES_DSN")
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		queryRepo = repository.NewPostgresQueryRepository(pg.PoolHandle())
		readiness["postgres"] = pg
	}

	var rdb *persistence.Redis
	if cfg.Notifier.UseRedis || (cfg.Classifier.URL != "" && cfg.Classifier.CacheTTL() > 0) {
		rdb = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer rdb.Close()
		readiness["redis"] = rdb
	}

	var queryClassifier classifier.Classifier
	if cfg.Classifier.URL != "" {
		queryClassifier = classifier.NewHTTPClassifier(cfg.Classifier.URL, &http.Client{Timeout: cfg.Classifier.Timeout()})
		if rdb != nil && cfg.Classifier.CacheTTL() > 0 {
			queryClassifier = classifier.NewCachedClassifier(queryClassifier, rdb.Client, cfg.Classifier.CacheTTL(), logger)
		}
		logger.Info("using external classifier", zap.String("url", cfg.Classifier.URL))
	} else {
		queryClassifier = classifier.NewKeywordClassifier()
		logger.Info("CLASSIFIER_URL not set; using keyword classifier")
	}

	hub := events.NewHub(cfg.Notifier.BufferSize, logger, metrics)
	var publisher events.Publisher = hub
	var relay *events.RedisBroadcaster
	if cfg.Notifier.UseRedis {
		relay = events.NewRedisBroadcaster(rdb.Client, cfg.Notifier.RedisChannel, hub, logger)
		publisher = relay
	}

	queryService := service.NewQueryService(service.QueryDependencies{
		QueryRepo:       queryRepo,
		Classifier:      queryClassifier,
		Publisher:       publisher,
		Logger:          logger,
		Metrics:         metrics,
		ClassifyTimeout: cfg.Classifier.Timeout(),
		MaxStoreRetries: cfg.Store.MaxRetries,
	})

	notificationService := service.NewNotificationService(hub, logger, cfg.Notification)
	workers := worker.StartNotificationWorker(ctx, logger, notificationService, relay)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  cfg.App.RequestTimeout(),
		WriteTimeout: 0,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness, metrics),
		Queries: handlers.NewQueriesHandler(queryService),
		Stream:  handlers.NewStreamHandler(hub, logger, handlers.DefaultHeartbeat),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	hub.Close()
	if err := app.Shutdown(); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	workers.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
