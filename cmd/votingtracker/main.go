package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/config"
	"github.com/AquaToken/aqua-voting-tracker/internal/depth"
	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/ingestion"
	"github.com/AquaToken/aqua-voting-tracker/internal/kvstore"
	"github.com/AquaToken/aqua-voting-tracker/internal/marketkeys"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/AquaToken/aqua-voting-tracker/internal/query"
	"github.com/AquaToken/aqua-voting-tracker/internal/reconcile"
	"github.com/AquaToken/aqua-voting-tracker/internal/reward"
	"github.com/AquaToken/aqua-voting-tracker/internal/schedule"
	"github.com/AquaToken/aqua-voting-tracker/internal/server"
	"github.com/AquaToken/aqua-voting-tracker/internal/snapshot"
	"github.com/AquaToken/aqua-voting-tracker/internal/vote"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	_ "github.com/lib/pq"
)

const (
	marketKeysTimeout = 30 * time.Second
	depthConcurrency  = 4
)

func main() {
	logger := observability.NewLogger("votingtracker")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	applied, err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Int("applied", applied).Msg("migrations done")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Stores and upstreams ---
	store := kvstore.NewPostgres(db)
	votes := persistence.NewVoteRepository(db)
	snapshots := persistence.NewSnapshotRepository(db)
	hz := horizon.NewClient(cfg.HorizonURL)
	markets := marketkeys.NewAPIProvider(cfg.MarketKeysURL, marketKeysTimeout)
	parser := vote.NewParser(cfg.VotingAssets, cfg.BalancesDistributor)

	jobHandler := ingestion.NewJobHandler(parser, votes, observability.NewLogger("jobs"), metrics)

	// --- Vote jobs: JetStream when configured, inline otherwise ---
	var (
		dispatcher ingestion.Dispatcher = ingestion.NewInlineDispatcher(jobHandler)
		subscriber *ingestion.JobSubscriber
	)
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		if err := ingestion.EnsureJobStream(ctx, js, logger); err != nil {
			logger.Fatal().Err(err).Msg("ensure job stream")
		}
		healthChecker.AddCheck("nats", natsCheck(js))

		dispatcher = ingestion.NewJetStreamDispatcher(js, logger)
		subscriber = ingestion.NewJobSubscriber(js, jobHandler, observability.NewLogger("job_subscriber"))
		if err := subscriber.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("start job subscriber")
		}
	} else {
		logger.Info().Msg("VOTING_NATS_URL not set, applying vote jobs inline")
	}

	// --- Components ---
	processor := ingestion.NewProcessor(
		horizon.NewEffectStream(hz, cfg.HorizonPageLimit, cfg.StreamPollInterval),
		dispatcher,
		parser,
		store,
		observability.NewLogger("effect_stream"),
		metrics,
	)
	backfill := ingestion.NewBalanceLoader(hz, votes, store, parser, cfg.VotingAssets, cfg.HorizonPageLimit,
		observability.NewLogger("backfill"), metrics)
	reconciler := reconcile.New(votes, hz, store, reconcile.Config{
		BatchLimit:     cfg.ClaimBackBatchLimit,
		Concurrency:    cfg.ClaimBackConcurrency,
		RequestTimeout: cfg.ClaimBackTimeout,
	}, observability.NewLogger("claim_back"), metrics)
	engine := snapshot.NewEngine(votes, markets, snapshots, cfg.VotingMinTerm,
		observability.NewLogger("snapshot"), metrics)

	rewardCache := reward.NewCache(store)
	var loader reward.MarketLoader
	if cfg.RewardSplitMode == config.SplitDynamic {
		loader = depth.NewLoader(hz, cfg.HorizonPageLimit, depthConcurrency)
	}
	allocator := reward.NewAllocator(snapshots, markets, loader, rewardCache, reward.ParamsFromConfig(cfg),
		observability.NewLogger("rewards"), metrics)

	svc := query.NewService(snapshots, votes, rewardCache, cfg.VotingMinTerm)
	srv, err := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Query:         svc,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build server")
	}

	runner := schedule.NewRunner(observability.NewLogger("schedule"),
		schedule.Job{
			Name:       "backfill",
			Every:      5 * time.Minute,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				_, err := backfill.Run(ctx)
				return err
			},
		},
		schedule.Job{
			Name:  "snapshot",
			Every: 5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := engine.RunTick(ctx, time.Now())
				return err
			},
		},
		schedule.Job{
			Name:   "claim_back",
			Every:  3 * time.Minute,
			Offset: time.Minute,
			Run: func(ctx context.Context) error {
				_, err := reconciler.Run(ctx)
				return err
			},
		},
		schedule.Job{
			Name:   "rewards",
			Every:  time.Hour,
			Offset: 2 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := allocator.Run(ctx)
				return err
			},
		},
		schedule.Job{
			Name:  "kvstore_purge",
			Every: time.Hour,
			Run: func(ctx context.Context) error {
				_, err := store.PurgeExpired(ctx)
				return err
			},
		},
	)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	go func() {
		errChan <- processor.Run(ctx)
	}()
	go func() {
		errChan <- runner.Run(ctx)
	}()
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()
	go func() {
		if err := serveMetrics(ctx, cfg.MetricsAddr, logger); err != nil {
			errChan <- err
		}
	}()

	srv.SetServing(true)
	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Bool("jetstream", subscriber != nil).
		Msg("voting tracker ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine exited, shutting down")
	}

	srv.SetServing(false)
	cancel()
	if subscriber != nil {
		subscriber.Stop()
	}

	// Give servers and the in-flight scheduled run time to return.
	time.Sleep(time.Second)
	logger.Info().Msg("voting tracker stopped")
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = metricsServer.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func natsCheck(js jetstream.JetStream) observability.CheckFunc {
	return func(ctx context.Context) error {
		_, err := js.Stream(ctx, ingestion.JobStreamName)
		return err
	}
}
