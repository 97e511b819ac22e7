package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/seedbox_aria2/internal/aria2"
	"github.com/italolelis/seedbox_aria2/internal/cleanup"
	"github.com/italolelis/seedbox_aria2/internal/config"
	"github.com/italolelis/seedbox_aria2/internal/dispatcher"
	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/http/rest"
	"github.com/italolelis/seedbox_aria2/internal/logctx"
	"github.com/italolelis/seedbox_aria2/internal/notifier"
	"github.com/italolelis/seedbox_aria2/internal/storage"
	"github.com/italolelis/seedbox_aria2/internal/storage/sqlite"
	"github.com/italolelis/seedbox_aria2/internal/telemetry"
)

const clientType = "aria2"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher, the Transmission-compatible API and the janitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, configFrom(cmd)); err != nil && !errors.Is(err, context.Canceled) {
				return fail(cmd, err)
			}

			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	lock := flock.New(cfg.LockPath)

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", cfg.LockPath, err)
	}

	if !locked {
		return fmt.Errorf("another instance holds %s", cfg.LockPath)
	}
	defer lock.Unlock()

	logger.Info("seedbox aria2 starting...", "log_level", cfg.LogLevel, "version", Version)

	task, err := config.LoadTaskConfig(cfg.TaskConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load task config: %w", err)
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
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

	repo := sqlite.NewInstrumentedFetchRepository(database, tel)

	// =========================================================================
	// Start aria2 Client
	client, err := connect(ctx, cfg, tel)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Dispatcher
	orchestrator := fetch.NewOrchestrator(client, task,
		fetch.WithTelemetry(tel),
		fetch.WithMaxParallel(cfg.MaxParallel),
	)

	var resolver dispatcher.Resolver
	if task.Demagnetize.Enabled {
		resolver = fetch.NewDemagnetizer(client, task.Demagnetize, nil)
	}

	disp := dispatcher.NewDispatcher(repo, orchestrator, resolver, storage.GenerateInstanceID(), cfg.BatchSize, cfg.PollInterval).
		WithTelemetry(tel)

	setupNotifications(ctx, disp, cfg)
	disp.Start(ctx)

	// =========================================================================
	// Start Cleanup
	janitor := cleanup.NewJanitor(repo, cfg.KeepFinishedFor, staleAfter(task, cfg), task.Demagnetize.Dir)
	go janitor.Run(ctx, cfg.CleanupInterval)

	// =========================================================================
	// Start API Service

	// Buffered so the goroutine can exit if nobody collects the error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, repo, client, task, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for fetch requests...",
		"rpc_url", cfg.Aria2.RPCURL,
		"poll_interval", cfg.PollInterval.String(),
		"max_parallel", cfg.MaxParallel,
		"retention", cfg.KeepFinishedFor.String(),
	)

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

		return ctx.Err()
	}
}

// connect builds the instrumented aria2 client and checks the daemon answers.
func connect(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*fetch.InstrumentedClient, error) {
	httpClient := &http.Client{
		Timeout:   cfg.Aria2.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	raw := aria2.NewClient(cfg.Aria2.RPCURL, cfg.Aria2.Secret, httpClient)

	version, err := raw.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("aria2 is not reachable at %s: %w", cfg.Aria2.RPCURL, err)
	}

	logctx.LoggerFromContext(ctx).Info("connected to aria2", "aria2_version", version.Version)

	return fetch.NewInstrumentedClient(raw, tel, clientType), nil
}

// staleAfter is how long a claimed request may stay in processing before it is
// handed out again. A single fetch can wait for metadata and demagnetization in a row.
func staleAfter(task config.TaskConfig, cfg *config.Config) time.Duration {
	worst := time.Duration(task.MagnetizationTimeout+task.Demagnetize.Timeout) * time.Second
	return max(2*worst, 2*cfg.PollInterval, 10*time.Minute)
}

func setupNotifications(ctx context.Context, disp *dispatcher.Dispatcher, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, nil)
	}

	drain := func(events <-chan fetch.Outcome) {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-events:
				if notif == nil {
					continue
				}

				if err := notif.Notify(ctx, notifier.FormatOutcome(event)); err != nil {
					logger.Error("failed to send notification", "request_id", event.RequestID, "err", err)
				}
			}
		}
	}

	go drain(disp.OnFetchAccepted)
	go drain(disp.OnFetchFailed)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	queue rest.Queue,
	downloads rest.Downloads,
	task config.TaskConfig,
	tel *telemetry.Telemetry,
) *http.Server {
	tHandler := rest.NewTransmissionHandler(cfg.Transmission.Username, cfg.Transmission.Password, queue, downloads, task)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", tHandler.Routes())

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
