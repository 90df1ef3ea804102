package dispatchd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/notify"
	"ride-dispatch/internal/general/postgres"
	"ride-dispatch/internal/general/rabbitmq"
	redisstore "ride-dispatch/internal/general/redis"
	"ride-dispatch/internal/general/websocket"
	"ride-dispatch/internal/observability"
	"ride-dispatch/internal/ports"
	"ride-dispatch/internal/software/dispatch/handler"
	"ride-dispatch/internal/software/dispatch/scheduler"
	"ride-dispatch/internal/software/dispatch/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Run wires the dispatch engine and blocks until ctx is cancelled.
func Run(ctx context.Context, configPath string, maxConcurrent int) error {
	// static request ID for startup logs
	log := logger.New("dispatchd")
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	// Postgres connection pool
	pool, err := postgres.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// Redis for driver presence
	rdb, err := redisstore.NewClient(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "redis_connection_failed", "Failed to connect to Redis", err, nil)
		return err
	}
	defer rdb.Close()
	presence := redisstore.NewPresenceStore(rdb, cfg.Dispatch.PresenceTTL())

	// RabbitMQ for event fan-out
	rmq, err := rabbitmq.Connect(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()
	pub := rabbitmq.NewMQPublisher(rmq)

	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)

	// repositories
	uow := postgres.NewUnitOfWork(pool)
	rideRepo := postgres.NewRideRepo()
	offerRepo := postgres.NewOfferRepo()
	driverRepo := postgres.NewDriverRepo()
	eventRepo := postgres.NewEventRepo()

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// websocket hub and notifier
	hub := websocket.NewHub(log, jwtManager, presence)
	notifier := notify.New(log, hub, pub)

	// dispatch engine
	svc := service.NewService(
		uow, rideRepo, offerRepo, driverRepo, presence, eventRepo,
		notifier, ports.SystemClock{}, metrics, log, cfg.Dispatch,
	)

	// background jobs
	jobs := scheduler.New(log, metrics, cfg.Dispatch.StartupGrace())
	jobs.Register(scheduler.Job{
		Name:     "offer_expiry_sweep",
		Interval: cfg.Dispatch.SweepInterval(),
		Run: func(ctx context.Context) (int, error) {
			res, err := svc.ExpireStaleOffers(ctx)
			return res.Effect(), err
		},
	})
	jobs.Register(scheduler.Job{
		Name:     "scheduled_ride_trigger",
		Interval: cfg.Dispatch.TriggerInterval(),
		Run: func(ctx context.Context) (int, error) {
			res, err := svc.TriggerScheduledRides(ctx)
			return res.Triggered, err
		},
	})
	jobs.Register(scheduler.Job{
		Name:     "dispatch_event_prune",
		Interval: cfg.Dispatch.PruneInterval(),
		Run: func(ctx context.Context) (int, error) {
			pruned, err := svc.PruneDispatchEvents(ctx)
			return int(pruned), err
		},
	})
	jobs.Start(ctx)

	// HTTP surface
	mux := http.NewServeMux()
	httpHandler := handler.NewDispatchHTTPHandler(svc, log, jwtManager, hub, registry)
	httpHandler.RegisterRoutes(mux)

	// concurrency limiter (global) blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           limitedHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Dispatch engine started on port %d", cfg.HTTP.Port),
		map[string]any{"port": cfg.HTTP.Port, "max_concurrent": maxConcurrent},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info(ctx, "shutdown_started", "Starting graceful shutdown", nil)
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
		jobs.Wait()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.HTTP.Port})
			return err
		}
		return nil
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
