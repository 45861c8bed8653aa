// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/daylens/internal/client"
	"github.com/starford/daylens/internal/docstore"
	"github.com/starford/daylens/internal/identity"
	"github.com/starford/daylens/internal/mcpserver"
	"github.com/starford/daylens/internal/records"
	"github.com/starford/daylens/internal/sqlite"
	"github.com/starford/daylens/internal/sse"
	"github.com/starford/daylens/internal/web"
)

// backend is the storage shared by every entry point.
type backend struct {
	cfg    *Config
	logger *slog.Logger
	conn   *sql.DB
	store  *docstore.Store
	dir    *identity.Directory
	repo   *records.Repository
}

func open(opts []Option) (*backend, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("timezone", cfg.App.Timezone),
		slog.String("app_id", cfg.Auth.AppID),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("metrics_auth", cfg.App.HTTP.MetricsToken != ""))

	conn, err := sqlite.Open(cfg.SQLite.Path, docstore.Schema, identity.Schema)
	if err != nil {
		return nil, fmt.Errorf("init sqlite: %w", err)
	}

	store := docstore.New(conn, cfg.SQLite.Path)
	return &backend{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		store:  store,
		dir: identity.NewDirectory(conn,
			identity.WithMinPasswordLength(cfg.Auth.MinPasswordLength),
			identity.WithBcryptCost(cfg.Auth.BcryptCost),
			identity.WithWriteHook(store.MarkWritten),
		),
		repo: records.NewRepository(store, cfg.Auth.AppID, cfg.App.Location(), logger),
	}, nil
}

func (b *backend) close() {
	if err := b.conn.Close(); err != nil {
		b.logger.Warn("sqlite close failed", slog.String("error", err.Error()))
	}
}

// Run starts the web server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	b, err := open(opts)
	if err != nil {
		return err
	}
	defer b.close()

	cfg, logger := b.cfg, b.logger

	broker := sse.NewBroker(cfg.Session.KeepAlive)
	defer broker.Close()

	registry := client.NewRegistry(func(id, token string) *client.Controller {
		return client.New(client.Options{
			ID:           id,
			Provider:     identity.NewAuth(b.dir, id, logger),
			Repo:         b.repo,
			Sink:         func(f client.Frame) { broker.Publish(id, sse.Event{Type: "render", Data: f}) },
			Logger:       logger,
			InitialToken: token,
			MessageTTL:   cfg.Session.MessageTTL,
			Location:     cfg.App.Location(),
		})
	}, cfg.Session.IdleTimeout, logger)

	h := web.NewHandler(registry, broker, b.conn.PingContext, logger)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           web.NewRouter(h, cfg.App.HTTP.MetricsToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Refresh live queries when another process (the MCP server) writes.
	g.Go(func() error {
		if err := b.store.Watch(gCtx, logger); err != nil {
			logger.Warn("docstore watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		return registry.Run(gCtx)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Event streams only end when their clients go away or the broker
		// closes, so close it before waiting on the server.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown ends the group so the watcher and registry stop with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdio as the configured user.
func RunMCP(ctx context.Context, opts ...Option) error {
	b, err := open(opts)
	if err != nil {
		return err
	}
	defer b.close()

	email := b.cfg.MCP.UserEmail
	if email == "" {
		return fmt.Errorf("mcp: user_email is not configured")
	}
	user, err := b.dir.LookupEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("mcp: resolve user %s: %w", email, err)
	}

	b.logger.Info("MCP server starting", slog.String("user_id", user.UID))
	return mcpserver.New(b.repo, user).ServeStdio()
}

// MintToken issues a single-use sign-in token for email.
func MintToken(ctx context.Context, email string, ttl time.Duration, opts ...Option) (string, error) {
	b, err := open(opts)
	if err != nil {
		return "", err
	}
	defer b.close()

	token, err := b.dir.MintCustomToken(ctx, email, ttl)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	b.logger.Info("Custom token minted", slog.String("email", email), slog.Duration("ttl", ttl))
	return token, nil
}
