package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/confops/billing-engine/internal/currency"
	"github.com/confops/billing-engine/internal/domain/coupon"
	"github.com/confops/billing-engine/internal/domain/fare"
	"github.com/confops/billing-engine/internal/domain/invoice"
	"github.com/confops/billing-engine/internal/domain/order"
	"github.com/confops/billing-engine/internal/handler"
	"github.com/confops/billing-engine/internal/storage/postgres"
	"github.com/confops/billing-engine/pkg/health"
	"github.com/confops/billing-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	fareRepo := postgres.NewFareRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	rateStore := postgres.NewExchangeRateStore(pool)

	// Invoice rendering and seller registration.
	tpl := ""
	if cfg.Invoice.Template != "" {
		raw, err := os.ReadFile(cfg.Invoice.Template)
		if err != nil {
			return errors.Wrap(err, "read invoice template")
		}
		tpl = string(raw)
	}
	renderer, err := invoice.NewTemplateRenderer(tpl)
	if err != nil {
		return errors.Wrap(err, "create invoice renderer")
	}

	// The configured registration covers every emit year, so long-lived
	// processes keep issuing real invoices past a year rollover.
	registry := invoice.NewRegistry()
	registry.SetDefault(invoice.Registration{
		Issuer: cfg.Invoice.Issuer,
		VATID:  cfg.Invoice.VATID,
	})

	// Domain services.
	catalog := fare.NewCatalog(fareRepo, nil)
	couponEngine := coupon.NewEngine(couponRepo)
	pricing := order.NewPricingEngine(cfg.Conference, catalog, couponEngine)

	converter := currency.NewConverter(rateStore)
	issuer := invoice.NewIssuer(invoiceRepo, converter, renderer, registry, orderRepo,
		func(int) string { return cfg.Invoice.LocalCurrency })

	events := order.NewEvents()
	events.OnPurchaseCompleted(func(ctx context.Context, o *order.Order) {
		zctx.From(ctx).Info("Order completed", zap.String("code", o.Code))
	})

	orderSvc := order.NewService(pricing, orderRepo, invoiceRepo, issuer, events)

	// HTTP handlers.
	h := handler.NewHandler(catalog, orderSvc)

	routeFinder := httpmiddleware.MakeRouteFinder(handler.Routes())
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("billing-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
