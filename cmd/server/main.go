package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/anonychat/internal/chat"
	"github.com/Tyrowin/anonychat/internal/games"
	"github.com/Tyrowin/anonychat/internal/server"
	"github.com/Tyrowin/anonychat/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (environment variables override it)")
	flag.Parse()

	loaded, err := server.LoadConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg := server.SetConfig(loaded)

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("starting AnonyChat server", "port", cfg.Port, "persistence", cfg.Persistence.Backend)

	ctx := context.Background()
	backend, err := snapshot.Open(ctx, cfg.SnapshotOptions(), logger)
	if err != nil {
		logger.Error("failed to open snapshot backend", "backend", cfg.Persistence.Backend, "error", err)
		os.Exit(1)
	}

	var storeOpts []chat.StoreOption
	var writer *snapshot.Writer
	if backend != nil {
		writer = snapshot.NewWriter(backend, cfg.Persistence.FlushInterval, logger)
		storeOpts = append(storeOpts, chat.WithPersister(writer))
	}
	store := chat.NewStore(cfg.StoreConfig(), logger, storeOpts...)

	if backend != nil {
		snaps, err := backend.LoadAll(ctx)
		if err != nil {
			logger.Error("failed to load room snapshots", "error", err)
			os.Exit(1)
		}
		logger.Info("rooms restored", "count", store.Restore(snaps))
		writer.Start(store)
	}

	hub := server.NewHub(store, cfg.SessionConfig(), logger,
		server.WithIdleSweep(cfg.Rooms.SweepInterval, cfg.Rooms.IdleTTL))

	uploads, err := server.NewUploadHandler(cfg.Uploads, logger)
	if err != nil {
		logger.Error("failed to set up uploads", "dir", cfg.Uploads.Dir, "error", err)
		os.Exit(1)
	}
	codes, err := server.NewCodeGenerator(store)
	if err != nil {
		logger.Error("failed to set up room codes", "error", err)
		os.Exit(1)
	}

	chatSite := server.SetupRoutes(server.Routes{
		Hub:           hub,
		Uploads:       uploads,
		Codes:         codes,
		UploadTimeout: cfg.Uploads.Timeout,
	})
	var gamesSite http.Handler
	if len(cfg.Hosts.Games) > 0 {
		gamesSite = games.NewHandler(cfg.Games.Dir, logger)
		logger.Info("games site enabled", "hosts", cfg.Hosts.Games, "dir", cfg.Games.Dir)
	}
	httpServer := server.CreateServer(cfg.Port, server.NewHandler(chatSite, gamesSite, cfg.Hosts.Games))

	server.StartHub(hub)
	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// The steps run in order inside one operation: HTTP stops first, the hub
	// stops handling client events, the writer flushes while rooms still
	// exist, and only then do sessions end.
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"anonychat": func(ctx context.Context) error {
			var errs []error
			if err := server.ShutdownServer(ctx, httpServer); err != nil {
				errs = append(errs, err)
			}
			if err := hub.Drain(ctx); err != nil {
				errs = append(errs, err)
			}
			if writer != nil {
				if err := writer.Close(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			if err := hub.Shutdown(remaining(ctx, cfg.ShutdownTimeout)); err != nil {
				errs = append(errs, err)
			}
			if backend != nil {
				if err := backend.Close(); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	})

	exitCode := <-wait
	logger.Info("server stopped", "exit_code", exitCode)
	os.Exit(exitCode)
}

// remaining is what is left of ctx's deadline, or fallback without one.
func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
		return time.Millisecond
	}
	return fallback
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
