// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notation/internal/api"
	"github.com/starford/notation/internal/catalog"
	"github.com/starford/notation/internal/database"
	"github.com/starford/notation/internal/journal"
	"github.com/starford/notation/internal/mcpserver"
	"github.com/starford/notation/internal/notation"
	"github.com/starford/notation/internal/noteservice"
	"github.com/starford/notation/internal/sse"
	"github.com/starford/notation/internal/storage"
	"github.com/starford/notation/internal/syncpeer"
	"github.com/starford/notation/internal/watch"
)

func setup(opts []Option) (*application, *slog.Logger, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return app, logger, nil
}

// catalogStack is an opened note catalog with its database.
type catalogStack struct {
	db *database.DB
	n  *notation.Notation
}

func (s *catalogStack) close(logger *slog.Logger) {
	if err := s.n.Close(); err != nil {
		logger.Error("close catalog", slog.String("error", err.Error()))
	}
	if err := s.db.Close(); err != nil {
		logger.Error("close database", slog.String("error", err.Error()))
	}
}

// openCatalog opens the database, locates the note directory and loads the
// catalog, replaying the journal and reconciling with the directory.
func openCatalog(ctx context.Context, cfg *Config, logger *slog.Logger) (*catalogStack, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	dir, err := notation.ResolveDirectory(db, cfg.Notes.Directory, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("create note dir: %w", err)
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	c, err := notation.CodecFor(db, cfg.Encryption.Enabled, cfg.Encryption.Passphrase)
	if err != nil {
		db.Close()
		return nil, err
	}
	col, direction, err := cfg.Notes.SortOrder()
	if err != nil {
		db.Close()
		return nil, err
	}

	n, err := notation.Open(ctx, notation.Options{
		Provider: fs,
		Catalog:  db,
		Prefs:    db,
		Codec:    c,
		Journal: journal.Config{
			Path:     cfg.Journal.ResolvedPath(cfg.Database.Path),
			Disabled: !cfg.Journal.Enabled,
		},
		Debounce:      cfg.Journal.Debounce,
		MaxDelay:      cfg.Journal.MaxDelay,
		Scanner:       catalog.Config{ChunkSize: cfg.Catalog.ChunkSize, Policy: cfg.Catalog.ConflictPolicy},
		Extension:     cfg.Notes.Extension,
		SortColumn:    col,
		SortDirection: direction,
		Logger:        logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	logger.Info("Catalog opened",
		slog.String("directory", dir),
		slog.Int("notes", n.Store().Len()),
		slog.Int("tombstones", n.Tombstones().Len()),
		slog.Bool("journaling", n.Engine().Journaling()))
	return &catalogStack{db: db, n: n}, nil
}

func buildPeers(cfg *Config, logger *slog.Logger) ([]syncpeer.Peer, error) {
	peers := make([]syncpeer.Peer, 0, len(cfg.Sync.Peers))
	for _, pc := range cfg.Sync.Peers {
		switch pc.Kind {
		case PeerKindMinIO:
			p, err := syncpeer.NewMinIO(pc.MinIO(), logger)
			if err != nil {
				return nil, fmt.Errorf("sync peer %s: %w", pc.Endpoint, err)
			}
			peers = append(peers, p)
		default:
			return nil, fmt.Errorf("sync peer %s: unknown kind %q", pc.Endpoint, pc.Kind)
		}
	}
	return peers, nil
}

// startRunner runs the catalog loop together with its watcher and sync
// session in g. The returned Runner is the only way to reach the catalog.
func startRunner(g *errgroup.Group, gCtx context.Context, cfg *Config, n *notation.Notation, logger *slog.Logger) (*notation.Runner, error) {
	peers, err := buildPeers(cfg, logger)
	if err != nil {
		return nil, err
	}

	runner := notation.NewRunner(n, nil, cfg.Catalog.PollInterval, logger)
	g.Go(func() error {
		return runner.Run(gCtx)
	})

	if cfg.Notes.Watch {
		g.Go(func() error {
			err := watch.Watch(gCtx, n.Root(), runner.Rescan(), cfg.Notes.Quiet, logger)
			if err != nil {
				// Polling still notices changes.
				logger.Warn("directory watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if len(peers) > 0 {
		session := syncpeer.NewSession(runner, peers, logger)
		g.Go(func() error {
			return session.Run(gCtx, cfg.Sync.Interval)
		})
	}
	return runner, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("notes_directory", cfg.Notes.Directory),
		slog.String("database_path", cfg.Database.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	stack, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.db.Close(); err != nil {
			logger.Error("close database", slog.String("error", err.Error()))
		}
	}()

	// SSE broker fed by the visible list.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	stack.n.Filter().Subscribe(broker.PublishNoteEvent)

	g, gCtx := errgroup.WithContext(ctx)
	runner, err := startRunner(g, gCtx, cfg, stack.n, logger)
	if err != nil {
		_ = stack.n.Close()
		return err
	}

	svc := noteservice.NewService(runner)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := svc.Status(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
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
		// Ends open event streams; Shutdown waits for their handlers.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Ends the runner, which flushes before returning.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group once the server is down.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config

	stack, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.db.Close(); err != nil {
			logger.Error("close database", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(ctx)
	runner, err := startRunner(g, gCtx, cfg, stack.n, logger)
	if err != nil {
		cancel()
		_ = stack.n.Close()
		return err
	}

	srv := mcpserver.New(noteservice.NewService(runner), app.version)
	serveErr := srv.ServeStdio()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return serveErr
}

// Scan runs one reconciliation pass, writes every pending change and
// prints the scan report as JSON to out.
func Scan(ctx context.Context, out io.Writer, opts ...Option) error {
	app, logger, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	stack, err := openCatalog(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer stack.close(logger)

	// Open already reconciled; report that pass.
	rep := stack.n.LastReport()
	if err := stack.n.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// Flush recovers the journal, writes every pending change and exits.
func Flush(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	stack, err := openCatalog(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer stack.close(logger)

	pending := stack.n.Engine().PendingCount()
	if err := stack.n.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	logger.Info("Flushed pending notes", slog.Int("notes", pending))
	return nil
}
