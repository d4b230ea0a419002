package main

import (
	"PerpPool/internal/auth"
	"PerpPool/internal/config"
	"PerpPool/internal/core"
	"PerpPool/internal/ingestion"
	"PerpPool/internal/observability"
	"PerpPool/internal/oracle"
	"PerpPool/internal/persistence"
	"PerpPool/internal/projection"
	"PerpPool/internal/query"
	"PerpPool/internal/server"
	"PerpPool/internal/state"
	"PerpPool/migrations"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const replayPageSize = 10_000

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pool: engine, stream consumers, gRPC and HTTP APIs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfg)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL (PERP_NATS_URL)")
	flags.StringVar(&cfg.OracleSource, "oracle", cfg.OracleSource, "price source: nats or redis (PERP_ORACLE_SOURCE)")
	flags.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for the redis oracle (PERP_REDIS_URL)")
	flags.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address (PERP_GRPC_ADDR)")
	flags.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address (PERP_HTTP_ADDR)")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "metrics listen address (PERP_METRICS_ADDR)")
	flags.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "internal settlement tick interval, 0 disables (PERP_TICK_INTERVAL)")
	flags.Int64Var(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "commands between snapshots, 0 disables (PERP_SNAPSHOT_INTERVAL)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	level := observability.ParseLevel(cfg.LogLevel)
	logger := observability.NewLoggerTo(os.Stdout, "perppool", level)
	component := func(name string) zerolog.Logger {
		return observability.NewLoggerTo(os.Stdout, name, level)
	}

	// --- Genesis and admin gate ---
	genesis, err := config.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		return err
	}
	admins, err := cfg.Admins()
	if err != nil {
		return err
	}
	var verifier *auth.JWTVerifier
	if cfg.JWTSecret != "" {
		if verifier, err = auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer); err != nil {
			return err
		}
	}
	gate := auth.NewGate(admins, verifier)
	engine, err := core.NewEngine(genesis, gate)
	if err != nil {
		return fmt.Errorf("bootstrap engine: %w", err)
	}

	// --- Postgres ---
	db, err := openDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := persistence.NewMigrator(db, migrations.FS, component("migrator")).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()
	health.AddProbe("postgres", db.PingContext)

	// --- Oracle ---
	universe, err := state.NewUniverse(engine.Universe()...)
	if err != nil {
		return err
	}
	feed := oracle.NewFeed(universe, metrics)

	// --- Processor, recovery, runner ---
	persistCh := make(chan *core.Output, cfg.PersistChanSize)
	projectionCh := make(chan *core.Output, cfg.ProjectionChanSize)
	publishCh := make(chan *core.Output, cfg.PublishChanSize)

	idem := core.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity,
		persistence.NewPostgresIdempotencyChecker(db), metrics, component("idempotency"))
	proc := core.NewProcessor(engine, feed, idem, core.Channels{
		Persist:    persistCh,
		Projection: projectionCh,
		Publish:    publishCh,
	}, metrics, component("core"))

	snaps := persistence.NewSnapshotManager(db, metrics)
	replayed, err := snaps.Recover(ctx, proc, replayPageSize)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	logger.Info().Int("replayed", replayed).Int64("sequence", proc.Sequence()).Msg("state recovered")

	runner := core.NewRunner(proc, core.RunnerConfig{
		QueueSize:        cfg.QueueSize,
		TickInterval:     cfg.TickInterval,
		SnapshotInterval: cfg.SnapshotInterval,
	}, snaps, component("runner"))

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, component("nats"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	health.AddProbe("nats", func(context.Context) error {
		if nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})
	if err := ingestion.EnsureStreams(ctx, js, component("nats")); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, component("nats")); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	subjects := ingestion.DefaultSubjects()
	var priceSource *oracle.RedisSource
	if cfg.OracleSource == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		priceSource = oracle.NewRedisSource(rdb, cfg.RedisPricesKey, feed, cfg.OraclePoll, component("oracle"))
		health.AddProbe("redis", priceSource.Ping)
		subjects = withoutKind(subjects, ingestion.KindPrice)
	}

	rawCh := make(chan ingestion.RawEvent, cfg.QueueSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawCh, component("subscriber"))
	dispatcher := ingestion.NewDispatcher(feed, runner, metrics, component("dispatcher"))
	publisher := ingestion.NewOutboundPublisher(js, publishCh, component("publisher"))

	// --- APIs ---
	queryService := query.NewQueryService(runner, db, metrics)
	poolService := server.NewPoolService(ingestion.NewGRPCIngestService(runner), queryService, runner, gate)
	apiServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Service:       poolService,
		HealthChecker: health,
		Metrics:       metrics,
	}, component("server"))

	// --- Goroutines ---
	// Ingress stops with ctx. Workers get their own context so they drain
	// everything the runner emitted before it stopped.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	errCh := make(chan error, 8)
	var ingress, workers sync.WaitGroup
	spawn := func(wg *sync.WaitGroup, name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistCh, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, component("persistence"))
	projWorker := projection.NewProjectionWorker(db, engine.PoolID(), projectionCh, metrics, component("projection"))
	spawn(&workers, "persistence", func() error { return persistWorker.Run(workerCtx) })
	spawn(&workers, "projection", func() error { return projWorker.Run(workerCtx) })
	spawn(&workers, "publisher", func() error { return publisher.Run(workerCtx) })

	ingressCtx, stopIngress := context.WithCancel(ctx)
	defer stopIngress()

	runCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		_ = runner.Run(runCtx)
	}()

	if err := subscriber.Subscribe(ingressCtx, subjects); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	spawn(&ingress, "dispatcher", func() error { return dispatcher.Run(ingressCtx, rawCh) })
	if priceSource != nil {
		spawn(&ingress, "oracle", func() error { return priceSource.Run(ingressCtx) })
	}
	spawn(&ingress, "grpc", func() error { return apiServer.StartGRPC(ingressCtx) })
	spawn(&ingress, "http", func() error { return apiServer.StartHTTPGateway(ingressCtx) })
	spawn(&ingress, "metrics", func() error { return serveMetrics(ingressCtx, cfg.MetricsAddr, logger) })

	health.SetReady(true)
	apiServer.SetServing(true)
	logger.Info().
		Int64("sequence", proc.Sequence()).
		Str("pool", engine.PoolID()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Str("oracle", cfg.OracleSource).
		Msg("perppool ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	health.SetReady(false)
	apiServer.SetServing(false)
	subscriber.Stop()
	stopIngress()
	ingress.Wait()

	stopRunner()
	<-runnerDone

	close(persistCh)
	close(projectionCh)
	close(publishCh)
	workersDone := make(chan struct{})
	go func() {
		workers.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("workers did not drain in time")
		cancelWorkers()
		<-workersDone
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := snaps.SaveSnapshot(shutdownCtx, proc.Snapshot()); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", proc.Sequence()).Msg("final snapshot saved")
	}

	logger.Info().Msg("perppool shutdown complete")
	return runErr
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func withoutKind(subjects []ingestion.SubjectConfig, kind ingestion.CommandKind) []ingestion.SubjectConfig {
	out := subjects[:0:0]
	for _, s := range subjects {
		if s.Kind != kind {
			out = append(out, s)
		}
	}
	return out
}
