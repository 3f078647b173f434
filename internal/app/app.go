package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/utafrali/cartengine/internal/completeness"
	"github.com/utafrali/cartengine/internal/config"
	"github.com/utafrali/cartengine/internal/event"
	handler "github.com/utafrali/cartengine/internal/handler/http"
	"github.com/utafrali/cartengine/internal/ordertoken"
	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/internal/repository/postgres"
	redisrepo "github.com/utafrali/cartengine/internal/repository/redis"
	"github.com/utafrali/cartengine/internal/service"
	"github.com/utafrali/cartengine/internal/variants"
	"github.com/utafrali/cartengine/migrations"
	"github.com/utafrali/cartengine/pkg/database"
	"github.com/utafrali/cartengine/pkg/health"
	"github.com/utafrali/cartengine/pkg/httpclient"
	pkgkafka "github.com/utafrali/cartengine/pkg/kafka"
	"github.com/utafrali/cartengine/pkg/tracing"
)

const serviceName = "cartengine"

// App wires together all dependencies and runs the cart engine.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	deadLetters    *kafka.Writer
	loginConsumer  *pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// teardown releases resources in reverse acquisition order.
type teardown []func()

func (t *teardown) add(f func()) { *t = append(*t, f) }

func (t teardown) run() {
	for i := len(t) - 1; i >= 0; i-- {
		t[i]()
	}
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Everything opened below is released if a later step fails.
	var undo teardown
	fail := func(err error) (*App, error) {
		undo.run()
		return nil, err
	}
	undo.add(func() {
		if tracerShutdown == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerShutdown(shutdownCtx)
	})

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return fail(fmt.Errorf("connect to postgres: %w", err))
	}
	undo.add(pool.Close)
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return fail(fmt.Errorf("run migrations: %w", err))
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Initialize Redis client.
	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fail(fmt.Errorf("connect to redis: %w", err))
	}
	undo.add(func() { _ = rdb.Close() })
	logger.Info("connected to Redis",
		slog.String("host", cfg.RedisHost),
		slog.Int("db", cfg.RedisDB),
	)

	// Downstream clients, each behind its own breaker.
	baseClient := httpclient.New(httpclient.DefaultConfig())
	breaker := func(name string) httpclient.Doer {
		return httpclient.NewCircuitBreakerClient(baseClient, httpclient.DefaultCircuitBreakerConfig(name), logger)
	}
	inventory := variants.NewInventoryClient(breaker("inventory-service"), cfg.InventoryURL)
	users := event.NewUserServiceClient(breaker("user-service"), cfg.UserServiceURL)
	var gateway *variants.CardGateway
	if cfg.CardGatewayURL != "" {
		gateway = variants.NewCardGateway(breaker("card-gateway"), cfg.CardGatewayURL)
	} else {
		logger.Warn("CARD_GATEWAY_URL not set, gateway_card payments will fail")
	}

	// Register the variant types, then freeze the registry for lock-free reads.
	reg := registry.New()
	if err := variants.RegisterDefaults(reg, variants.Deps{Stock: inventory, Gateway: gateway, Logger: logger}); err != nil {
		return fail(fmt.Errorf("register variants: %w", err))
	}
	reg.Freeze()
	logger.Info("variant registry frozen",
		slog.Any("line_items", reg.Tags(registry.LineItem)),
		slog.Any("payment_methods", reg.Tags(registry.PaymentMethod)),
	)

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Post-checkout subscribers.
	notifier := event.NewNotifier(logger)
	notifier.Subscribe("order_checked_out", event.OrderCheckedOutPublisher(producer))
	notifier.Subscribe("invoice_email", event.InvoiceEmailSubscriber(producer, users))
	notifier.Subscribe("stock", variants.StockSubscriber(inventory))

	// Build the dependency graph.
	store := postgres.NewStore(pool, reg)
	sessions := redisrepo.NewSessionStore(rdb, cfg.SessionTTL)
	engine := completeness.NewEngine()
	signer := ordertoken.NewSigner(cfg.OrderTokenSecret, cfg.OrderURLBase, cfg.OrderTokenExpiry)

	svc := handler.Services{
		Carts: service.NewCartService(store, sessions, reg, engine, logger),
		Checkout: service.NewCheckoutService(store, engine, notifier, logger).
			WithInvoiceIDs(service.DatedInvoiceIDs(cfg.InvoicePrefix)).
			WithOrderURLs(signer),
		Merge:  service.NewMergeService(store, sessions, logger),
		Orders: service.NewOrderService(store, signer, logger),
	}

	// Login events fold the shopper's session cart into their user cart.
	deadLetters := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	idempotency := redisrepo.NewIdempotencyStore(rdb, cfg.IdempotencyTTL)
	loginConsumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.LoginConsumerGroup,
		Topic:   service.TopicUserLoggedIn,
	}, pkgkafka.IdempotentHandler(idempotency, svc.Merge.HandleLoginEvent, logger), logger).
		WithDeadLetter(deadLetters)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(svc, healthHandler, logger,
		handler.WithCheckoutRateLimit(cfg.CheckoutRateLimit, cfg.CheckoutBurst, logger),
		handler.WithPprof(cfg.PprofAllowedCIDRs),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		rdb:            rdb,
		producer:       producer,
		deadLetters:    deadLetters,
		loginConsumer:  loginConsumer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and the login consumer and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.loginConsumer.Start(consumerCtx); err != nil {
			a.logger.Error("login consumer stopped", slog.String("error", err.Error()))
		}
	}()

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopConsumer()
	wg.Wait()

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// Kafka writers, Redis, then PostgreSQL.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Flush spans after the drain so in-flight checkouts are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.loginConsumer.Close(); err != nil {
		a.logger.Error("login consumer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.deadLetters.Close(); err != nil {
		a.logger.Error("dead-letter writer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
