// Package app wires the service together: configuration, logging,
// telemetry, storage, the protocol components and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"flashgate/internal/config"
	"flashgate/internal/firmware"
	"flashgate/internal/infrastructure"
	"flashgate/internal/kv"
	"flashgate/internal/license"
	customMiddleware "flashgate/internal/middleware"
	"flashgate/internal/ratelimit"
	"flashgate/internal/token"
	handlers "flashgate/internal/transport/http"
	"flashgate/internal/verify"
)

// Application is the assembled service.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Store       kv.Store
	Validator   *license.Validator
	Distributor *firmware.Distributor
	Metrics     *infrastructure.BusinessMetrics

	purgeStop chan struct{}
}

// NewApplication builds the application from the config file at
// configFile ("" selects the default location).
func NewApplication(configFile string) (*Application, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	metrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Metrics:       metrics,
		purgeStop:     make(chan struct{}),
	}

	if err := app.initializeServices(); err != nil {
		return nil, err
	}
	app.setupRouter()
	app.createServer()
	return app, nil
}

func (a *Application) initializeServices() error {
	cfg := a.Config

	var store kv.Store
	if cfg.Store.Path == "" {
		a.Logger.Warn("no store path configured, using in-memory store")
		store = kv.NewMemoryStore()
	} else {
		s, err := kv.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		store = s
	}
	a.Store = store

	var keys license.KeySource
	switch cfg.License.Provisioning {
	case "static":
		keys = license.NewStaticKeySource(cfg.License.StaticKeys, cfg.License.UnlimitedKeys)
	default:
		keys = license.NewRegistryKeySource(store)
	}

	codec := token.NewCodec(cfg.License.SecretKey, cfg.License.TokenTTL)
	if cfg.License.StrictTokens {
		codec = token.NewStrictCodec(cfg.License.SecretKey, cfg.License.TokenTTL)
	}

	a.Validator = license.NewValidator(keys, license.NewStore(store), codec, a.Logger)
	a.Distributor = firmware.NewDistributor(
		codec,
		keys,
		ratelimit.NewDailyLimiter(store, cfg.Downloads.DailyCeiling, a.Logger),
		firmware.NewCatalog(cfg.Firmware.Catalog),
		firmware.NewGitHubOrigin(cfg.Origin.Repo, cfg.Origin.Token, cfg.Origin.Timeout),
		store,
		a.Logger,
	)
	return nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
			ExposedHeaders: []string{"X-Firmware-Key", "X-Firmware-Size", "X-Request-ID"},
			Logger:         a.Logger,
		}))
	}
	if a.Config.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	verifier := verify.NewClient(a.Config.Turnstile.Secret, a.Config.Turnstile.Endpoint, 10*time.Second)
	licenseHandler := handlers.NewLicenseHandler(a.Validator, verifier, a.Metrics, a.OTelProviders.Tracer, a.Logger)
	firmwareHandler := handlers.NewFirmwareHandler(a.Distributor, a.Metrics, a.OTelProviders.Tracer, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.Store, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(chimiddleware.Timeout(a.Config.Server.ReadTimeout))

		r.Post("/validate-license", licenseHandler.ValidateLicense)
		r.Post("/download-firmware", firmwareHandler.DownloadFirmware)
		r.Post("/verify-turnstile", licenseHandler.VerifyTurnstile)

		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
	})

	// Root-level aliases kept for probes that predate the /api prefix.
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/health/ready", healthHandler.ReadinessCheck)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the HTTP server and background sweeping.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting application",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.Int("port", a.Config.Server.Port),
		slog.String("provisioning", a.Config.License.Provisioning))

	if purger, ok := a.Store.(interface {
		PurgeExpired(context.Context) (int64, error)
	}); ok {
		go a.runPurgeLoop(purger)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))
	return nil
}

func (a *Application) runPurgeLoop(purger interface {
	PurgeExpired(context.Context) (int64, error)
}) {
	interval := a.Config.Store.PurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, err := purger.PurgeExpired(ctx)
			cancel()
			if err != nil {
				a.Logger.Warn("expired entry sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.Logger.Info("swept expired entries", slog.Int64("count", n))
			}
		case <-a.purgeStop:
			return
		}
	}
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	close(a.purgeStop)

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if closer, ok := a.Store.(kv.Closer); ok {
		if err := closer.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "error closing store", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down telemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	infrastructure.CloseLogFile()
	return nil
}

// Run runs the application until interrupted.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
