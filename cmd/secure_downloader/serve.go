package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/secure_downloader/internal/cleanup"
	"github.com/italolelis/secure_downloader/internal/config"
	"github.com/italolelis/secure_downloader/internal/downloader"
	"github.com/italolelis/secure_downloader/internal/http/rest"
	"github.com/italolelis/secure_downloader/internal/logctx"
	"github.com/italolelis/secure_downloader/internal/notifier"
	"github.com/italolelis/secure_downloader/internal/storage"
	"github.com/italolelis/secure_downloader/internal/storage/sqlite"
	"github.com/italolelis/secure_downloader/internal/telemetry"
	"github.com/italolelis/secure_downloader/internal/transfer"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transfer daemon and its REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(a.ctx, a.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("secure downloader starting...", "log_level", cfg.LogLevel, "version", version)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedTransferRepository(database, tel)

	// =========================================================================
	// Start Transfer Manager
	coord := transfer.NewCoordinator(transfer.Options{
		Client:     newTransferClient(cfg),
		Tokens:     transfer.StaticToken(cfg.AccessToken),
		TargetDir:  cfg.ResolveDownloadDir(),
		SizeHeader: cfg.SizeHeader,
		Telemetry:  tel,
	})

	manager := downloader.NewManager(ctx, coord, repo, buildNotifier(cfg), cfg.MaxParallel)
	defer manager.Close()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, manager)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for transfers...",
		"download_dir", cfg.ResolveDownloadDir(),
		"max_parallel", cfg.MaxParallel,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, repo, cfg)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// newTransferClient bounds the wait for response headers only. Bodies may
// stream for as long as they take.
func newTransferClient(cfg *config.Config) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = cfg.HTTPTimeout

	return &http.Client{Transport: otelhttp.NewTransport(base)}
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL == "" {
		return notifier.Nop{}
	}

	return &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, manager *downloader.Manager) *http.Server {
	tHandler := rest.NewTransfersHandler(cfg.Web.Username, cfg.Web.Password, manager)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", rest.HandleHealth)
	r.Handle("/metrics", tel.Handler())
	r.Mount("/transfers", tHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, repo storage.TransferRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("cleanup panic", "panic", r, "stack", string(debug.Stack()))

				if ctx.Err() == nil {
					time.Sleep(time.Second)
					setupCleanup(ctx, repo, cfg)
				}
			}
		}()

		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				tracked, err := repo.GetTransfers(ctx)
				if err != nil {
					logger.Error("failed to get tracked transfers for cleanup", "err", err)

					continue
				}

				deleted, err := cleanup.DeleteExpiredFiles(ctx, tracked, cfg.KeepDownloadedFor)
				if err != nil {
					logger.Error("failed to delete expired files", "err", err)
				}

				if deleted > 0 {
					logger.Info("expired files deleted", "count", deleted)
				}
			}
		}
	}()
}
