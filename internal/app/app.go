package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/harborline/promo-engine/internal/domain/cart"
	"github.com/harborline/promo-engine/internal/domain/coupon"
	"github.com/harborline/promo-engine/internal/domain/pricing"
	"github.com/harborline/promo-engine/internal/handler"
	"github.com/harborline/promo-engine/internal/storage/postgres"
	"github.com/harborline/promo-engine/pkg/health"
	"github.com/harborline/promo-engine/pkg/httpmiddleware"
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

	// Repositories.
	promotionRepo := postgres.NewPromotionRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	bindingRepo := postgres.NewCartBindingRepository(pool)

	// The code prefilter is an optimization; startup proceeds without it.
	// The periodic rebuild folds in coupons ingested by other processes.
	if err := couponRepo.WarmCodeFilter(ctx, cfg.CodeFilter.ExpectedCodes, cfg.CodeFilter.FalsePositive); err != nil {
		lg.Warn("Coupon code prefilter not warmed", zap.Error(err))
	}
	go couponRepo.RunFilterRefresh(ctx, cfg.CodeFilter.RefreshEvery,
		cfg.CodeFilter.ExpectedCodes, cfg.CodeFilter.FalsePositive,
		func(err error) {
			lg.Warn("Coupon code prefilter refresh failed", zap.Error(err))
		})

	// Domain services.
	ledger := coupon.NewLedger(couponRepo, promotionRepo)
	cartSvc := cart.NewService(bindingRepo, ledger)
	pricingSvc := pricing.NewService(promotionRepo, ledger)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP surface: health endpoints + API routes on one server.
	h := handler.New(
		handler.Config{InternalToken: cfg.InternalToken},
		pricingSvc, ledger, cartSvc, promotionRepo, couponRepo,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))

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
				AllowHeaders:     []string{"Content-Type", "X-User-ID", "X-Customer-Group"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("promo-engine", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
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
