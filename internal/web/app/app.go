package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/tourbook/internal/web/http"
	"github.com/aussiebroadwan/tourbook/pkg/apiclient"
	"github.com/aussiebroadwan/tourbook/pkg/httpx"
	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
	"github.com/aussiebroadwan/tourbook/pkg/roleguard"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"
)

const (
	// BuildVersion is overridden at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application is the web edge with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	gateway  *apiclient.Gateway
	verifier jwtx.Verifier
	gate     *roleguard.Gate

	server *http.Server
	router *httpapi.Router
}

// New wires the application from cfg.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "web",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if cfg.AccessSecret == devAccessSecret {
		app.logger.Warn("using the built-in development access secret")
	}

	if err := app.initGateway(); err != nil {
		return nil, err
	}
	app.initGate()
	app.initHTTP()

	return app, nil
}

// Handler exposes the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.logger.Info("web edge starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"backend", app.gateway.BaseURL(),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down web edge...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
		return err
	}

	app.logger.Info("web edge stopped")
	return nil
}

func (app *Application) initGateway() error {
	gw, err := apiclient.New(apiclient.Config{
		BaseURL:        app.cfg.BackendURL,
		HTTPClient:     &http.Client{Timeout: app.cfg.BackendTimeout},
		RefreshTimeout: app.cfg.RefreshTimeout,
		AccessMaxAge:   app.cfg.AccessTokenMaxAge,
		RefreshMaxAge:  app.cfg.RefreshTokenMaxAge,
		Production:     app.cfg.Production(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backend gateway: %w", err)
	}
	app.gateway = gw
	return nil
}

func (app *Application) initGate() {
	app.verifier = jwtx.NewHS256Verifier([]byte(app.cfg.AccessSecret), jwtx.VerifyOptions{
		Issuer: app.cfg.TokenIssuer,
		Leeway: app.cfg.TokenLeeway,
	})
	app.gate = roleguard.NewGate(roleguard.DefaultTable(), app.verifier)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.gateway, app.gate, app.verifier, BuildVersion, app.logger)
	router.LoginLimit = httpx.ParseRateLimitFromEnv("LOGIN", httpx.LoginLimit)
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
