package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/internal/storage/postgres"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("currency", cfg.Currency),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	srv, err := newServer(ctx, cfg, pool, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Order.PlaceTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Drain: flip readiness, wait for load balancers to notice, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

type server struct {
	handler http.Handler
	health  *health.Health
}

// newServer wires services, routes and middleware over an open pool. The
// logger is taken from ctx.
func newServer(
	ctx context.Context,
	cfg *Config,
	pool *pgxpool.Pool,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*server, error) {
	cur, err := cfg.CurrencyUnit()
	if err != nil {
		return nil, err
	}

	hc := health.New()
	hc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	hc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	hc.SetReady(true)

	orderService, err := order.NewService(postgres.NewOrderStore(pool),
		order.WithCurrency(cur),
		order.WithTracerProvider(tp),
		order.WithMeterProvider(mp),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	cartService := cart.NewService(postgres.NewCartRepository(pool))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", hc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", hc.ReadyEndpoint)
	handler.New(handler.Config{PlaceTimeout: cfg.Order.PlaceTimeout}, orderService, cartService).Register(mux)

	root := httpmiddleware.Wrap(mux,
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.LogRequests(),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Key:    httpmiddleware.HeaderKey(handler.UserHeader),
			Match: func(r *http.Request) bool {
				return r.Method != http.MethodGet && r.Method != http.MethodHead
			},
		}),
	)

	return &server{
		health: hc,
		handler: otelhttp.NewHandler(root, "orders",
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
		),
	}, nil
}
