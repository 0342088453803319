package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/auth"
	"github.com/eugener/palantir/internal/config"
	"github.com/eugener/palantir/internal/gate"
	"github.com/eugener/palantir/internal/provider"
	"github.com/eugener/palantir/internal/provider/openai"
	"github.com/eugener/palantir/internal/quota"
	"github.com/eugener/palantir/internal/server"
	"github.com/eugener/palantir/internal/session"
	"github.com/eugener/palantir/internal/storage/sqlite"
	"github.com/eugener/palantir/internal/telemetry"
	"github.com/eugener/palantir/internal/tokencount"
	"github.com/eugener/palantir/internal/truncate"
	"github.com/eugener/palantir/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting palantir", "version", version, "addr", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Telemetry
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(context.Background(),
			cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	// Tokenizer and truncation
	counter, err := tokencount.New(cfg.Completion.Model)
	if err != nil {
		return err
	}
	engine := truncate.New(counter, cfg.Chat.ContextWindow)

	// Quota ledger
	loc, err := cfg.Quota.Location()
	if err != nil {
		return err
	}
	ledger := quota.NewLedger(store, quota.Limits{
		Anonymous:     cfg.Quota.AnonymousLimit,
		Authenticated: cfg.Quota.AuthenticatedLimit,
		Overflow:      cfg.Quota.OverflowAllowance,
		Location:      loc,
	}, nil)

	// Sessions
	sessions, err := session.NewManager(store, cfg.Sessions.CacheSize, cfg.Sessions.CacheTTL)
	if err != nil {
		return err
	}

	// Identity
	identifier, err := auth.New(store)
	if err != nil {
		return err
	}

	// Completion service client
	resolver := &dnscache.Resolver{}
	completer := openai.New(cfg.Completion.BaseURL, cfg.Completion.APIKey, cfg.Completion.Model, &http.Client{
		Transport: provider.NewTransport(resolver),
		Timeout:   cfg.Completion.Timeout,
	})

	// Background workers
	recorder := worker.NewTurnRecorder(store, metrics)
	sweeper := worker.NewResetSweeper(ledger, cfg.Quota.SweepInterval)
	runner := worker.NewRunner(recorder, sweeper)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workerErr := make(chan error, 1)
	go func() { workerErr <- runner.Run(workerCtx) }()
	go refreshDNS(workerCtx, resolver)

	// Request gate and HTTP server
	g := gate.New(counter, engine, ledger, completer, sessions, recorder, metrics)
	handler := server.New(server.Deps{
		Identifier:   identifier,
		Gate:         g,
		Quota:        ledger,
		SystemPrompt: cfg.Chat.SystemPrompt,
		Sampling: chat.SamplingParams{
			Temperature:      cfg.Chat.Temperature,
			FrequencyPenalty: cfg.Chat.FrequencyPenalty,
			PresencePenalty:  cfg.Chat.PresencePenalty,
			MaxTokens:        cfg.Chat.MaxReply,
		},
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("palantir ready", "addr", cfg.Server.Addr)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		stopWorkers()
		return err
	}

	// Shutdown: stop accepting requests first, then let the workers drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		stopWorkers()
		return err
	}

	stopWorkers()
	if err := <-workerErr; err != nil {
		return err
	}

	slog.Info("palantir stopped")
	return nil
}

// refreshDNS keeps the cached resolver entries fresh.
func refreshDNS(ctx context.Context, resolver *dnscache.Resolver) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			resolver.Refresh(true)
		case <-ctx.Done():
			return
		}
	}
}
