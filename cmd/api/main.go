package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/auth"
	"github.com/vividforge/backend/internal/config"
	"github.com/vividforge/backend/internal/execution"
	"github.com/vividforge/backend/internal/guard"
	"github.com/vividforge/backend/internal/handlers"
	"github.com/vividforge/backend/internal/jobs"
	"github.com/vividforge/backend/internal/ledger"
	"github.com/vividforge/backend/internal/metrics"
	"github.com/vividforge/backend/internal/middleware"
	"github.com/vividforge/backend/internal/provider"
	"github.com/vividforge/backend/internal/quota"
	"github.com/vividforge/backend/internal/repository"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	reg := prometheus.NewRegistry()
	mtr := metrics.New(reg)

	// Ledger
	ledgerSvc := ledger.NewService(ledger.NewPGStore(pool))
	ledgerSvc.EntryHook = func(kind string) {
		mtr.LedgerEntries.WithLabelValues(kind).Inc()
	}

	// Quota: free-tier limits are global for now, per-resource later
	quotaTracker := quota.NewTracker(quota.NewPGStore(pool), func(string) quota.Limits {
		return quota.Limits{Daily: cfg.FreeDailyLimit, Hourly: cfg.FreeHourlyLimit}
	})

	// Guard: process-local store is fine while we run a single instance
	dupGuard := guard.New(guard.NewMemoryStore())
	dupGuard.Window = cfg.FingerprintWindow
	dupGuard.SlotTTL = cfg.SlotTTL
	dupGuard.MaxActive = cfg.MaxActiveJobs

	// Provider client with retrying caller
	providerClient := provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
	caller := provider.NewCaller(cfg.MaxRetries, nil, logger)
	caller.OnRetry = mtr.ProviderRetries.Inc

	// Jobs: enqueue func is set after the River client is created (breaks init cycle)
	var enqueueMu sync.Mutex
	var enqueueFn jobs.EnqueueFunc
	enqueue := func(ctx context.Context, jobID uuid.UUID) error {
		enqueueMu.Lock()
		fn := enqueueFn
		enqueueMu.Unlock()
		if fn == nil {
			panic("river enqueue not wired")
		}
		return fn(ctx, jobID)
	}

	jobsSvc := jobs.NewService(
		jobs.NewPGRepository(pool),
		ledgerSvc,
		quotaTracker,
		dupGuard,
		providerClient,
		caller,
		enqueue,
		logger,
		jobs.Config{
			PollInterval:    cfg.PollInterval,
			MaxPollAttempts: cfg.MaxPollAttempts,
			MaxPollFailures: 5,
		},
	)
	jobsSvc.Metrics = mtr

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewRunGenerationWorker(jobsSvc))
	river.AddWorker(workers, execution.NewSweepWorker(jobsSvc, cfg.StaleAfter))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Minute),
				func() (river.JobArgs, *river.InsertOpts) {
					return execution.SweepStaleJobsArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	enqueueMu.Lock()
	enqueueFn = func(ctx context.Context, jobID uuid.UUID) error {
		_, err := riverClient.Insert(ctx, execution.RunGenerationArgs{JobID: jobID}, nil)
		return err
	}
	enqueueMu.Unlock()

	// Auth
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	keyHandler := &handlers.APIKeyHandler{Keys: apiKeyRepo, Logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Key management is session-scoped: a JWT from login, never an API key.
	jwtAuth := middleware.JWTAuth(authSvc)
	mux.Handle("POST /api/v1/keys", jwtAuth(http.HandlerFunc(keyHandler.Create)))
	mux.Handle("DELETE /api/v1/keys/{id}", jwtAuth(http.HandlerFunc(keyHandler.Revoke)))

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	RegisterV1Routes(mux, jobsSvc, ledgerSvc, quotaTracker, apiKeyRepo, cfg.CallbackToken, logger)

	handler := middleware.RequestLogger(logger)(mux)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(handler)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
