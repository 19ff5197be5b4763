// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/albumshare/internal/album"
	"github.com/starford/albumshare/internal/api"
	"github.com/starford/albumshare/internal/backend"
	"github.com/starford/albumshare/internal/inbox"
	"github.com/starford/albumshare/internal/mcpserver"
	"github.com/starford/albumshare/internal/sse"
	"github.com/starford/albumshare/internal/storage"
	"github.com/starford/albumshare/internal/store"
	"github.com/starford/albumshare/internal/tagindex"
	"github.com/starford/albumshare/internal/upload"
)

// app holds the wired components shared by the HTTP and MCP front ends.
type app struct {
	cfg      *Config
	logger   *slog.Logger
	kv       store.KV
	session  *album.Session
	uploader *upload.Uploader
	custom   *tagindex.CustomTags
	inbox    *inbox.Inbox
}

func setup(opts []Option) (*application, *slog.Logger, error) {
	a := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return a, logger, nil
}

// build wires storage, the collaborator client, the session, the uploader
// and the optional drop folder. notify and onFile may be nil.
func build(ctx context.Context, cfg *Config, logger *slog.Logger, notify album.Notifier, onFile inbox.EventCallback) (*app, error) {
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("backend", cfg.Backend.BaseURL),
		slog.String("credentials", cfg.Backend.Credentials.Mode),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.String("store", cfg.Store.Driver),
		slog.Bool("inbox", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	kv, err := store.Open(cfg.Store.Options())
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	clientOpts := []backend.Option{
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithAuthorizer(cfg.Backend.Credentials.Authorizer()),
		backend.WithLogger(logger),
	}
	if cfg.S3.Enabled {
		src, err := backend.NewS3Source(ctx, cfg.S3.Source())
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("init s3: %w", err)
		}
		clientOpts = append(clientOpts, backend.WithPhotoLister(src), backend.WithSlotIssuer(src))
	}
	client := backend.New(cfg.Backend.Endpoints(), clientOpts...)

	sessionOpts := []album.Option{
		album.WithPageSize(cfg.Backend.PageSize),
		album.WithFavoritesPreload(cfg.Album.PreloadFavorites),
		album.WithEmptyPageRetry(cfg.Album.MaxEmptyRetries, cfg.Album.RetryDelay),
		album.WithTagConcurrency(cfg.Backend.TagConcurrency),
		album.WithFetchTimeout(cfg.Album.FetchTimeout),
		album.WithStore(kv),
		album.WithLogger(logger),
	}
	if notify != nil {
		sessionOpts = append(sessionOpts, album.WithNotifier(notify))
	}
	session := album.New(client, tagindex.New(cfg.Album.People...), sessionOpts...)
	if err := session.RestoreFilter(ctx); err != nil {
		logger.Warn("restore filter failed", slog.String("error", err.Error()))
	}

	custom := tagindex.NewCustomTags(kv)
	for _, tag := range cfg.Album.DefaultTags {
		if _, err := custom.Add(ctx, tag); err != nil {
			logger.Warn("seed custom tag failed", slog.String("tag", tag), slog.String("error", err.Error()))
		}
	}

	uploader := upload.New(client,
		upload.WithKnownKeys(session.Keys),
		upload.WithSkipDuplicates(cfg.Album.SkipDuplicateUploads),
		upload.WithLogger(logger),
		upload.WithOnUploaded(func(upload.Summary) {
			session.ScheduleRefresh(cfg.Album.RefreshDelay)
		}),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		kv:       kv,
		session:  session,
		uploader: uploader,
		custom:   custom,
	}

	if cfg.Inbox.Enabled {
		if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create inbox dir: %w", err)
		}
		fs, err := storage.NewFS(cfg.Inbox.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init inbox: %w", err)
		}
		inboxOpts := []inbox.Option{
			inbox.WithDebounce(cfg.Inbox.Debounce),
			inbox.WithLogger(logger),
		}
		if onFile != nil {
			inboxOpts = append(inboxOpts, inbox.WithCallback(onFile))
		}
		a.inbox = inbox.New(fs, uploader, inboxOpts...)
	}

	return a, nil
}

// Close releases the session timer and the KV store.
func (a *app) Close() {
	a.session.Close()
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}

// loadInitial fetches the first page; failures are logged, not fatal.
func (a *app) loadInitial(ctx context.Context) {
	res, err := a.session.LoadInitial(ctx)
	if err != nil {
		a.logger.Warn("initial load failed", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("Album loaded",
		slog.Int("photos", res.Total),
		slog.Int("retries", res.Retries),
		slog.Bool("has_more", res.Pagination.HasMore))
}

// runInbox uploads what is already in the drop folder, then watches it until
// ctx is done.
func (a *app) runInbox(ctx context.Context) {
	if _, err := a.inbox.Scan(ctx); err != nil {
		a.logger.Warn("inbox scan failed", slog.String("error", err.Error()))
	}
	if err := a.inbox.Watch(ctx); err != nil {
		a.logger.Error("inbox watcher failed", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP gateway with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := a.config

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc, err := build(ctx, cfg, logger, broker.PublishAlbumEvent, func(kind, path string) {
		broker.PublishAlbumEvent("upload."+kind, path)
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	// Build API handler and router.
	h := api.NewHandler(svc.session, svc.custom, svc.uploader)
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !svc.session.Pagination().Initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Load the first page in the background; the gateway reports not ready
	// until it lands.
	g.Go(func() error {
		svc.loadInitial(gCtx)
		return nil
	})

	if svc.inbox != nil {
		g.Go(func() error {
			svc.runInbox(gCtx)
			return nil
		})
	}

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

// errShutdown cancels the group so the watcher and loaders stop with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the album tools over stdio. Logs go to the configured log
// output, which must not be stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	a, logger, err := setup(opts)
	if err != nil {
		return err
	}

	svc, err := build(ctx, a.config, logger, nil, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.loadInitial(ctx)

	if svc.inbox != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go svc.runInbox(watchCtx)
	}

	logger.Info("MCP server starting on stdio")
	if err := mcpserver.New(svc.session, svc.uploader).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
