package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/checkout-engine/internal/domain/assembly"
	"github.com/xenking/checkout-engine/internal/domain/basket"
	"github.com/xenking/checkout-engine/internal/domain/source"
	"github.com/xenking/checkout-engine/internal/promo"
	"github.com/xenking/checkout-engine/internal/repository"
	"github.com/xenking/checkout-engine/internal/tax"
	"github.com/xenking/checkout-engine/pkg/health"
	"github.com/xenking/checkout-engine/pkg/httpmiddleware"
)

// Engine bundles the fully wired checkout components: the collaborator
// environment every order source computes against, the basket store, and
// the order assembler. Embedding callers (APIs, queue consumers, jobs)
// build sources and baskets from it.
type Engine struct {
	Env       source.Environment
	Baskets   basket.Store
	Assembler *assembly.Assembler
	Catalog   *repository.CatalogRepository
}

// BuildEngine wires repositories and domain collaborators on top of the
// given pool-backed repositories. It is separated from Run so tests and
// tools can reuse the exact production wiring.
func BuildEngine(catalogRepo *repository.CatalogRepository, campaigns promo.Repository, taxRates tax.RateSource, baskets basket.Store, orders assembly.Repository) *Engine {
	methods := source.NewMethodRegistry()
	methods.RegisterShipping("standard", &FlatRateMethod{
		Type:       source.TypeShipping,
		Text:       "Standard shipping",
		Price:      decimal.RequireFromString("4.90"),
		FreeAbove:  decimal.RequireFromString("50"),
		TaxClassID: "shipping",
	})
	methods.RegisterPayment("invoice", &FlatRateMethod{
		Type:       source.TypePayment,
		Text:       "Invoice fee",
		Price:      decimal.RequireFromString("1.50"),
		TaxClassID: "payment",
	})

	modifier := promo.NewModifier(campaigns)

	env := source.Environment{
		Methods:   methods,
		Modifiers: []source.Modifier{modifier},
		Validators: []source.Validator{
			source.MinimumTotalValidator{},
			source.MethodAvailabilityValidator{},
			source.SupplierOrderabilityValidator{Resolver: catalogRepo},
		},
		Taxes:        tax.NewCalculator(taxRates),
		Orderability: catalogRepo,
	}

	assembler := assembly.New(orders, catalogRepo)

	return &Engine{
		Env:       env,
		Baskets:   baskets,
		Assembler: assembler,
		Catalog:   catalogRepo,
	}
}

// Run creates all dependencies, starts the ops HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
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

	if err := registerPoolMetrics(m, pool); err != nil {
		return errors.Wrap(err, "register pool metrics")
	}

	// Repositories + engine.
	catalogRepo := repository.NewCatalogRepository(pool)
	campaignRepo := repository.NewCampaignRepository(pool)
	taxRepo := repository.NewTaxRateRepository(pool)
	basketStore := repository.NewBasketStore(pool)
	orderRepo := repository.NewOrderRepository(pool)

	engine := BuildEngine(catalogRepo, campaignRepo, taxRepo, basketStore, orderRepo)
	lg.Info("Engine wired",
		zap.Int("modifiers", len(engine.Env.Modifiers)),
		zap.Int("validators", len(engine.Env.Validators)),
	)

	// Ops endpoints only; order flows enter through embedding services.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)

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
			httpmiddleware.Instrument("checkout-ops"),
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
