// Package app wires the API server together.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
	"github.com/xenking/cafe-orders/internal/domain/order"
	"github.com/xenking/cafe-orders/internal/handler"
	"github.com/xenking/cafe-orders/internal/realtime"
	"github.com/xenking/cafe-orders/internal/realtime/amqpbroker"
	"github.com/xenking/cafe-orders/internal/realtime/redisbroker"
	"github.com/xenking/cafe-orders/internal/storage/postgres"
	"github.com/xenking/cafe-orders/pkg/health"
	"github.com/xenking/cafe-orders/pkg/httpmiddleware"
)

// Telemetry provides the OpenTelemetry providers. *app.Telemetry of
// go-faster/sdk implements it.
type Telemetry interface {
	MeterProvider() metric.MeterProvider
	TracerProvider() trace.TracerProvider
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("broker", cfg.Broker.Kind),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, lg); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	broker, err := openBroker(ctx, cfg.Broker, lg)
	if err != nil {
		return errors.Wrap(err, "open broker")
	}
	defer func() {
		if err := broker.Close(); err != nil {
			lg.Warn("Close broker", zap.Error(err))
		}
	}()

	dispatcher, err := realtime.NewDispatcher(broker, lg,
		m.MeterProvider().Meter("cafe-orders/realtime"),
		cfg.Notify.PublishTimeout,
	)
	if err != nil {
		return errors.Wrap(err, "create dispatcher")
	}

	// Repositories.
	cafeRepo := postgres.NewCafeRepository(pool)
	menuRepo := postgres.NewMenuRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	orderStore := postgres.NewOrderStore(pool)

	// Domain services.
	orderService, err := order.NewService(order.Params{
		Cafes:          cafeRepo,
		Menu:           menuRepo,
		Coupons:        couponRepo,
		Orders:         orderStore,
		Store:          orderStore,
		Notify:         dispatcher,
		Writer:         order.NewWriter(orderStore, order.NewNumberGenerator(0)),
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	couponValidator := coupon.NewRepoValidator(couponRepo)

	// Health checks.
	healthSvc := health.New(lg)
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, pool.Ping)
	healthSvc.Add(health.Readiness, "broker", 5*time.Second, health.PingCheck(broker))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Add(health.Liveness, "gc", time.Second, health.GCMaxPauseCheck(time.Second))

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{
			Heartbeat: cfg.Realtime.Heartbeat,
			Realtime: realtime.Options{
				BaseDelay:   cfg.Realtime.BaseDelay,
				MaxAttempts: cfg.Realtime.MaxAttempts,
			},
		},
		orderService,
		couponValidator,
		broker,
		handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper)),
	)

	router := chi.NewRouter()
	router.Use(httpmiddleware.LogRequests())
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Skip:   isProbe,
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Instrument("cafe-api", m.MeterProvider(), m.TracerProvider(), notEventStream),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			limiter.Middleware(),
		),
	}
	server.RegisterOnShutdown(h.CloseStreams)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, stop the server, then
	// flush in-flight event publishes.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		if ctx.Err() != nil {
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			lg.Warn("Pending event publishes abandoned", zap.Error(err))
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

// notEventStream keeps long-lived SSE requests out of request spans.
func notEventStream(r *http.Request) bool {
	return !strings.HasSuffix(r.URL.Path, "/events")
}

// openBroker connects the pub-sub backend selected by cfg.Kind.
func openBroker(ctx context.Context, cfg BrokerConfig, lg *zap.Logger) (realtime.Broker, error) {
	switch cfg.Kind {
	case BrokerRedis:
		b, err := redisbroker.New(ctx, cfg.RedisURL, lg)
		if err != nil {
			return nil, errors.Wrap(err, "redis")
		}
		return b, nil
	case BrokerAMQP:
		b, err := amqpbroker.Dial(cfg.AMQPURL, cfg.Exchange, lg)
		if err != nil {
			return nil, errors.Wrap(err, "amqp")
		}
		return b, nil
	default:
		return nil, errors.Errorf("unknown broker kind %q", cfg.Kind)
	}
}
