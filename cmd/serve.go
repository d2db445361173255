package cmd

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

	"github.com/spf13/cobra"

	"github.com/adalundhe/scribe/core/config"
	"github.com/adalundhe/scribe/core/dispatch"
	"github.com/adalundhe/scribe/core/document"
	"github.com/adalundhe/scribe/core/storage"
	"github.com/adalundhe/scribe/core/transport"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to YAML config file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	manager, err := config.NewManager(serveConfigPath, nil)
	if err != nil {
		return err
	}
	defer manager.Close()

	cfg := manager.Get()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	store, err := storage.Open(storage.StoreConfig{
		DBPath:       cfg.Storage.Path,
		CacheMaxCost: cfg.Storage.CacheMaxCost,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := document.NewRegistry(store, document.RegistryConfig{
		MaxOpenDocuments: cfg.Sync.MaxOpenDocuments,
		HistoryWindow:    cfg.Sync.HistoryWindow,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	actor := dispatch.NewActor(registry, dispatch.ActorConfig{
		MailboxCapacity: cfg.Dispatch.MailboxCapacity,
		DecodeWorkers:   cfg.Dispatch.DecodeWorkers,
		EnforceChecksum: func() bool { return manager.Get().Sync.EnforceChecksum },
		Logger:          logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go actor.Run(ctx)

	if serveConfigPath != "" {
		if err := manager.Watch(); err != nil {
			logger.Warn("config watching disabled", "err", err)
		} else {
			manager.OnChange(func(c *config.Config) {
				logger.Info("sync settings reloaded", "enforce_checksum", c.Sync.EnforceChecksum)
			})
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewHandler(actor, registry, store, logger))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
