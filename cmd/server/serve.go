package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/relay"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/storage"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			setupLogger(cfg.LogLevel)
			return serve(cmd.Context(), cfg)
		},
	}
}

// persistence is the message sink and the resources behind it.
type persistence struct {
	sink relay.Sink
	db   *gorm.DB
}

func (p persistence) close(ctx context.Context) {
	if s, ok := p.sink.(*storage.AsyncSink); ok {
		if err := s.Close(ctx); err != nil {
			slog.Error("drain message sink", "error", err, "dropped", s.Dropped())
		}
	}
	if p.db != nil {
		if err := storage.Close(p.db); err != nil {
			slog.Error("close database", "error", err)
		}
	}
}

func openPersistence(cfg server.Config) (persistence, error) {
	if cfg.Storage.DatabasePath == "" {
		slog.Warn("DATABASE_PATH is empty; messages will not be persisted")
		return persistence{sink: relay.Discard}, nil
	}

	level := logger.Warn
	if strings.EqualFold(cfg.LogLevel, "debug") {
		level = logger.Info
	}
	db, err := storage.Open(cfg.Storage.DatabasePath, level)
	if err != nil {
		return persistence{}, err
	}

	sinkCfg := storage.DefaultSinkConfig()
	sinkCfg.QueueSize = cfg.Storage.QueueSize
	sink := storage.NewAsyncSink(storage.NewRepository(db), sinkCfg)
	slog.Info("message persistence enabled", "path", cfg.Storage.DatabasePath, "queue", sinkCfg.QueueSize)
	return persistence{sink: sink, db: db}, nil
}

func serve(ctx context.Context, cfg server.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	verifier, err := auth.NewVerifier(cfg.AuthSettings())
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	store, err := openPersistence(cfg)
	if err != nil {
		return err
	}

	srv := server.New(cfg, verifier, store.sink)
	srv.StartHub()

	httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())
	serveErr := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// The steps share one operation so they run in order: stop accepting
	// connections, close clients, drain persistence.
	var (
		once        sync.Once
		shutdownErr error
	)
	shutdown := func(ctx context.Context) error {
		once.Do(func() {
			var errs []error
			if err := server.ShutdownServer(ctx, httpServer, cfg.ShutdownTimeout); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
			if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
				errs = append(errs, fmt.Errorf("hub: %w", err))
			}
			store.close(ctx)
			shutdownErr = errors.Join(errs...)
		})
		return shutdownErr
	}

	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{"relay": shutdown},
	)
	return awaitExit(serveErr, wait, shutdown, cfg.ShutdownTimeout)
}

// awaitExit blocks until the listener fails or the graceful shutdown reports
// an exit code. A listener failure runs shutdown itself and returns the
// listen error.
func awaitExit(serveErr <-chan error, wait <-chan int, shutdown func(context.Context) error, timeout time.Duration) error {
	select {
	case err := <-serveErr:
		slog.Error("server error", "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if serr := shutdown(ctx); serr != nil {
			slog.Error("shutdown after listen failure", "error", serr)
		}
		return fmt.Errorf("listen: %w", err)

	case exitCode := <-wait:
		slog.Info("relay exited", "code", exitCode)
		if exitCode != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", exitCode)
		}
		return nil
	}
}
