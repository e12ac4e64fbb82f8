// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsgrove/incident-ledger/internal/audit"
	"github.com/opsgrove/incident-ledger/internal/auth"
	"github.com/opsgrove/incident-ledger/internal/config"
	"github.com/opsgrove/incident-ledger/internal/export"
	"github.com/opsgrove/incident-ledger/internal/lifecycle"
	lifecyclepostgres "github.com/opsgrove/incident-ledger/internal/lifecycle/postgres"
	"github.com/opsgrove/incident-ledger/internal/notifications"
	"github.com/opsgrove/incident-ledger/internal/notifications/discord"
	"github.com/opsgrove/incident-ledger/internal/notifications/pagerduty"
	"github.com/opsgrove/incident-ledger/internal/pkg/ctxlog"
	"github.com/opsgrove/incident-ledger/internal/pkg/httputil"
	"github.com/opsgrove/incident-ledger/internal/pkg/metrics"
	"github.com/opsgrove/incident-ledger/internal/pkg/postgres"
	"github.com/opsgrove/incident-ledger/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	authenticator *auth.Authenticator
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter()
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Authenticator returns the token authenticator. Used in tests to
// issue actor tokens.
func (a *App) Authenticator() *auth.Authenticator {
	return a.authenticator
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	repo := lifecyclepostgres.NewRepository(a.db)

	hasher, err := audit.NewHasher(a.config.Audit.Secret, a.config.Audit.PreviousSecrets...)
	if err != nil {
		return nil, fmt.Errorf("create audit hasher: %w", err)
	}

	var dispatcher lifecycle.Dispatcher
	if a.config.Notifications.Enabled {
		d, err := a.setupDispatcher(repo)
		if err != nil {
			return nil, err
		}
		dispatcher = d
	} else {
		slog.Info("notifications disabled")
	}

	engine := lifecycle.NewEngine(
		repo,
		lifecycle.NewValidator(lifecycle.DefaultGraph()),
		hasher,
		dispatcher,
		lifecycle.Options{NotifyOnTransition: a.config.Notifications.NotifyOnTransition},
	)

	lifecycleHandler := lifecycle.NewHandler(engine)
	exportHandler := export.NewHandler(export.NewService(repo, hasher))

	a.authenticator, err = auth.NewAuthenticator(auth.Config{
		SecretKey:     a.config.Auth.JWTSecret,
		TokenDuration: a.config.Auth.TokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(a.authenticator))

			lifecycleHandler.RegisterRoutes(r)
			exportHandler.RegisterRoutes(r)
		})
	})

	return r, nil
}

// setupDispatcher builds the notification fan-out from the configured
// channel senders. The dispatch summary lands on the timeline through
// a recorder sharing the engine's repository.
func (a *App) setupDispatcher(repo lifecycle.Repository) (*notifications.Dispatcher, error) {
	var senders []notifications.Sender

	if a.config.Notifications.Discord.Enabled {
		discordSender, err := discord.NewSender(discord.Config{
			WebhookURL: a.config.Notifications.Discord.WebhookURL,
			Username:   a.config.Notifications.Discord.Username,
			RateLimit:  a.config.Notifications.Discord.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create discord sender: %w", err)
		}
		senders = append(senders, discordSender)
	} else {
		slog.Warn("discord sender is disabled: discord alerts will not be sent")
	}

	if a.config.Notifications.PagerDuty.Enabled {
		pagerdutySender, err := pagerduty.NewSender(pagerduty.Config{
			RoutingKey: a.config.Notifications.PagerDuty.RoutingKey,
			EventsURL:  a.config.Notifications.PagerDuty.EventsURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create pagerduty sender: %w", err)
		}
		senders = append(senders, pagerdutySender)
	} else {
		slog.Warn("pagerduty sender is disabled: pagerduty alerts will not be sent")
	}

	return notifications.NewDispatcher(
		notifications.DefaultPolicy(),
		lifecycle.NewRecorder(repo),
		a.config.Notifications.DispatchTimeout,
		senders...,
	), nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
