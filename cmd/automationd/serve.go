package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/actions"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/analytics"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/api"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/circuitbreaker"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/config"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/cron"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/dispatcher"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/engine"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/ingress"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/metrics"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/reconciler"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/scheduler"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/seed"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/store/memory"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/store/postgres"

	_ "github.com/lib/pq"
)

// recordStore is what serve needs from either store driver.
type recordStore interface {
	engine.Store
	reconciler.Store
	seed.RuleStore
}

// openStore returns the configured record store. db is nil for the memory driver.
func openStore(cfg config.Config) (recordStore, *sql.DB, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Println("automationd: STORE_DRIVER=memory; executions are not persisted across restarts")
		return memory.New(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("automationd: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return postgres.New(db).WithOpTimeout(cfg.DBOpTimeout), db, nil
}

// newActionRegistry builds the dispatch table. nc may be nil.
func newActionRegistry(cfg config.Config, nc *nats.Conn) (*actions.Registry, error) {
	webhook := actions.NewWebhookHandler()
	if cfg.CircuitBreakerThreshold > 0 {
		webhook = webhook.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("automationd: webhook circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.Builtins{Webhook: webhook, NATS: nc}); err != nil {
		return nil, err
	}
	return reg, nil
}

// builtinCatalog resolves action types without opening any connection.
// notify_nats is accepted when NATS_URL is configured.
func builtinCatalog() seed.ActionResolver {
	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.Builtins{}); err != nil {
		panic(err)
	}
	return catalogResolver{reg: reg, nats: os.Getenv("NATS_URL") != ""}
}

type catalogResolver struct {
	reg  *actions.Registry
	nats bool
}

func (c catalogResolver) Resolve(actionType string) (actions.Action, error) {
	if c.nats && actionType == actions.ActionNotifyNATS {
		return actions.Action{Type: actionType, Category: actions.CategoryNotifications}, nil
	}
	return c.reg.Resolve(actionType)
}

func loadSeed(path string, resolver seed.ActionResolver) (*seed.File, error) {
	f, err := seed.FromFile(path)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(cron.NewParser(), resolver); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return f, nil
}

func dispatcherConfig(cfg config.Config) dispatcher.Config {
	return dispatcher.Config{
		MaxConcurrent:  cfg.MaxConcurrent,
		MaxRetries:     cfg.MaxRetries,
		TickInterval:   cfg.ExecutionTickInterval,
		RetryBackoff:   cfg.RetryBackoff,
		HandlerTimeout: cfg.HandlerTimeout,
		DrainTimeout:   cfg.DrainTimeout,
	}
}

func runServe(cfg config.Config) error {
	logConfigWarnings(&cfg)

	store, db, err := openStore(cfg)
	if err != nil {
		return runtimeError(err)
	}
	if db != nil {
		defer db.Close()
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("automationd"))
		if err != nil {
			return runtimeError(fmt.Errorf("failed to connect to nats: %w", err))
		}
		defer nc.Close()
		log.Printf("automationd: nats connected (url=%s)", nc.ConnectedUrlRedacted())
	}

	acts, err := newActionRegistry(cfg, nc)
	if err != nil {
		return runtimeError(err)
	}

	var rules *seed.File
	if cfg.RulesFile != "" {
		rules, err = loadSeed(cfg.RulesFile, acts)
		if err != nil {
			return &exitError{code: exitInvalidConfig, err: err}
		}
	}

	// Initialize metrics sink (optional)
	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		if cfg.MetricsPort != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{
				Addr:    ":" + cfg.MetricsPort,
				Handler: metricsMux,
			}
			go func() {
				log.Printf("automationd: metrics server listening on :%s", cfg.MetricsPort)
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("automationd: metrics server error: %v", err)
				}
			}()
		}
		log.Printf("automationd: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("automationd: METRICS_ENABLED not set; metrics disabled")
	}

	eng := engine.New(store, acts, engine.Config{
		Dispatcher:        dispatcherConfig(cfg),
		EventInterval:     cfg.EventDrainInterval,
		EventDrainTimeout: cfg.DrainTimeout,
	}).WithMetrics(sink)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		eng.WithAnalytics(analytics.NewRedisSink(redisClient, cfg.AnalyticsWindow, cfg.AnalyticsRetention))
		log.Printf("automationd: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("automationd: REDIS_ADDR not set; analytics disabled")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 4*cfg.DBOpTimeout)
	if err := eng.Start(startCtx); err != nil {
		cancelStart()
		return runtimeError(fmt.Errorf("failed to start engine: %w", err))
	}
	if rules != nil {
		if err := rules.Apply(startCtx, store, eng.Registry(), time.Now().UTC()); err != nil {
			cancelStart()
			eng.Stop()
			return runtimeError(fmt.Errorf("failed to apply rules file: %w", err))
		}
		log.Printf("automationd: rules file applied (rules=%d, schedules=%d)", len(rules.Rules), len(rules.Schedules))
	}
	cancelStart()

	apiHandler := api.NewHandler(eng, acts)
	if db != nil {
		apiHandler.WithHealthChecker("database", db)
	}
	if redisClient != nil {
		apiHandler.WithHealthChecker("redis", api.HealthCheckFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	if nc != nil {
		apiHandler.WithHealthChecker("nats", api.HealthCheckFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("status %s", nc.Status())
			}
			return nil
		}))
	}

	var handler http.Handler = apiHandler
	if cfg.MetricsEnabled && metricsServer == nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		mux.Handle("/", apiHandler)
		handler = mux
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}
	go func() {
		log.Printf("automationd: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("automationd: http server error: %v", err)
		}
	}()

	producers := &backgroundProducers{}
	if rules != nil && len(rules.Schedules) > 0 {
		parser := cron.NewParser()
		producers.scheduler = scheduler.New(
			scheduler.Config{TickInterval: cfg.ScheduleTickInterval},
			rules,
			scheduler.ParseFunc(func(expression, timezone string) (scheduler.CronSchedule, error) {
				return parser.Parse(expression, timezone)
			}),
			eng,
		).WithMetrics(sink)
	}
	if cfg.ReconcileEnabled {
		producers.reconciler = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			eng.Dispatcher(),
		).WithMetrics(sink)
	} else {
		log.Println("automationd: RECONCILE_ENABLED not set; reconciler disabled")
	}
	if !producers.empty() {
		producers.Start(context.Background())
	}

	var ingressWg sync.WaitGroup
	var cancelIngress context.CancelFunc
	if nc != nil {
		sub := ingress.New(nc, cfg.NATSIngressSubject, eng)
		var ctx context.Context
		ctx, cancelIngress = context.WithCancel(context.Background())
		ingressWg.Add(1)
		go func() {
			defer ingressWg.Done()
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("automationd: ingress error: %v", err)
			}
		}()
		log.Printf("automationd: ingress enabled (subject=%s)", cfg.NATSIngressSubject)
	} else {
		log.Println("automationd: NATS_URL not set; ingress disabled")
	}

	log.Printf("automationd: started (workers=%d, max_retries=%d, http=%s)", cfg.MaxConcurrent, cfg.MaxRetries, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("automationd: received signal %v, shutting down", received)

	// Phase 1: stop producers (no new events or adoptions)
	producers.Stop()
	stopPhase("ingress", cancelIngress, &ingressWg)

	// Phase 2: drain the event bus, then the worker pool
	log.Println("automationd: stopping engine (draining events and executions)...")
	eng.Stop()
	log.Println("automationd: engine stopped")

	// Phase 3: HTTP and metrics servers
	shutdownServer("http server", httpServer, cfg.HTTPShutdownTimeout)
	if metricsServer != nil {
		shutdownServer("metrics server", metricsServer, cfg.HTTPShutdownTimeout)
	}

	log.Println("automationd: stopped")
	return nil
}

func stopPhase(name string, cancel context.CancelFunc, wg *sync.WaitGroup) {
	if cancel == nil {
		return
	}
	log.Printf("automationd: stopping %s...", name)
	cancel()
	wg.Wait()
	log.Printf("automationd: %s stopped", name)
}

func shutdownServer(name string, srv *http.Server, timeout time.Duration) {
	log.Printf("automationd: stopping %s...", name)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("automationd: %s shutdown error: %v", name, err)
	}
	log.Printf("automationd: %s stopped", name)
}
