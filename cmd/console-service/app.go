package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"eventdesk/internal/backend"
	"eventdesk/internal/catalog"
	"eventdesk/internal/config"
	"eventdesk/internal/console"
	"eventdesk/internal/constants"
	"eventdesk/internal/deduplication"
	"eventdesk/internal/inbox"
	"eventdesk/internal/logger"
	"eventdesk/internal/notice"
	"eventdesk/internal/review"
	"eventdesk/internal/session"
	"eventdesk/pkg/bootstrap"
	"eventdesk/pkg/cel"
	"eventdesk/pkg/health"
	"eventdesk/pkg/logging"
	"eventdesk/pkg/metrics"
	"eventdesk/pkg/middleware"
	"eventdesk/pkg/ratelimit"
	"eventdesk/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	tokens         *session.Tokens
	client         *backend.Client
	notices        *notice.Recorder
	catalog        *catalog.Service
	review         *review.Service
	inbox          *inbox.Service
	dedup          *deduplication.Guard
	tracerProvider *tracing.TracerProvider
	router         *gin.Engine
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := metrics.Register(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	store, rdb, err := a.dbConnector.InitSessionStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	a.redis = rdb
	a.tokens = session.NewTokens(store)

	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initDeduplication(ctx); err != nil {
		return fmt.Errorf("failed to initialize deduplication: %w", err)
	}

	if err := a.initServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	a.initRouter()
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout(),
		WriteTimeout: a.Config.Server.WriteTimeout(),
	}
	return nil
}

// initDeduplication builds the redelivery guard for consumed messages. It
// shares the session Redis client when both use Redis.
func (a *App) initDeduplication(ctx context.Context) error {
	cfg := a.Config.Deduplication
	if !cfg.Enabled || !a.Config.Broker.Enabled() {
		return nil
	}

	var repo deduplication.Repository = deduplication.NewMemoryRepository()
	if cfg.Store == constants.SessionStoreRedis {
		if a.redis == nil {
			rdb, err := a.dbConnector.InitRedis(ctx)
			if err != nil {
				return err
			}
			if rdb == nil {
				return fmt.Errorf("deduplication store is redis but database.redis.host is empty")
			}
			a.redis = rdb
		}
		repo = deduplication.NewCircuitBreakerRepository(
			deduplication.NewRedisRepository(a.redis), a.Config.CircuitBreaker)
	}

	a.dedup = deduplication.NewGuard(repo, cfg, a.Logger)
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	evaluator, err := filterEvaluator(a.Config.Catalog)
	if err != nil {
		return err
	}

	a.client = backend.NewFromConfig(a.Config.Backend, a.Config.CircuitBreaker, a.tokens, a.Logger)
	a.notices = notice.NewRecorder(constants.DefaultNoticeCapacity)
	reporter := notice.Multi(notice.NewLogReporter(a.Logger), a.notices)

	a.catalog = catalog.NewService(a.client, a.Config.Catalog, catalog.LimitsFrom(a.Config.Backend), evaluator, a.Logger)
	a.inbox = inbox.NewService(a.client, reporter, a.Logger)

	var publisher *review.Publisher
	if a.Producer != nil {
		publisher = review.NewPublisher(a.Producer, a.Config.Broker.Kafka.VerdictTopic)
	}
	a.review = review.NewService(a.client, publisher, reporter,
		a.Config.Review, a.Config.Coalescer, evaluator, a.Logger)

	if err := a.catalog.ReloadEvents(ctx, true); err != nil {
		initCtx := logging.WithServiceName(ctx, constants.ServiceName)
		a.Logger.WarnwCtx(initCtx, "Failed to load initial events", "error", err)
	}
	return nil
}

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(a.Config.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler := &console.Handler{
		Catalog:        a.catalog,
		Review:         a.review,
		Inbox:          a.inbox,
		Tokens:         a.tokens,
		Notices:        a.notices,
		Logger:         a.Logger,
		MaxUploadBytes: uploadLimit(a.Config.Backend),
	}
	handler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.RegisterOptional(health.NewPingChecker("backend", a.client))
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
}

// filterEvaluator is nil when catalog.expressions_enabled is off, so events
// and applications reject expr the same way.
func filterEvaluator(cfg config.CatalogConfig) (*cel.Evaluator, error) {
	if !cfg.ExpressionsEnabled {
		return nil, nil
	}
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	return evaluator, nil
}

// uploadLimit allows every attachment at its maximum size plus room for
// the form fields.
func uploadLimit(cfg config.BackendConfig) int64 {
	if cfg.MaxAttachments <= 0 || cfg.MaxAttachmentBytes <= 0 {
		return 0
	}
	return int64(cfg.MaxAttachments)*cfg.MaxAttachmentBytes + 1<<20
}

// Run serves HTTP, keeps the catalog fresh and follows event updates on the
// broker until ctx is done, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return ignoreCanceled(a.catalog.StartReloader(gCtx))
	})

	if a.Consumer != nil && a.Config.Broker.Kafka.EventUpdateTopic != "" {
		topic := a.Config.Broker.Kafka.EventUpdateTopic
		handler := a.catalog.HandleEventChanged
		if a.dedup != nil {
			handler = a.dedup.Wrap(handler)
		}
		g.Go(func() error {
			consumeCtx := logging.WithServiceName(gCtx, constants.ServiceName)
			a.Logger.InfowCtx(consumeCtx, "Starting event update consumer", "topic", topic)
			return ignoreCanceled(a.Consumer.Consume(gCtx, topic, handler))
		})
	}

	runErr := g.Wait()
	if err := a.Shutdown(ctx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown flushes or drops pending review edits before the broker closes,
// so acknowledged verdicts can still be published.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(_ context.Context) []error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		var errs []error
		if a.review != nil {
			if err := a.review.Close(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("review flush error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(shutdownCtx, a.redis)...)
		return errs
	})
}
