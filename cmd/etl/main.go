// Package main runs the NFT market ETL.
//
// Modes:
//   - once:    run a single refresh cycle, drain the task queue and exit
//   - serve:   scheduled refresh cycles, worker pool and admin HTTP server
//   - worker:  worker pool only, consuming the Redis task queue
//   - migrate: create the Cassandra, Postgres and ClickHouse schemas
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"nft-market-etl/internal/config"
	"nft-market-etl/internal/dispatcher"
	"nft-market-etl/internal/fetch"
	"nft-market-etl/internal/logging"
	"nft-market-etl/internal/orchestrator"
	"nft-market-etl/internal/provider/gallop"
	"nft-market-etl/internal/provider/mnemonic"
	"nft-market-etl/internal/storage"
	"nft-market-etl/internal/storage/cassandra"
	chstore "nft-market-etl/internal/storage/clickhouse"
	"nft-market-etl/internal/storage/memory"
	"nft-market-etl/internal/storage/migrations"
	pgstore "nft-market-etl/internal/storage/postgres"
	"nft-market-etl/internal/tasks"
	"nft-market-etl/internal/writer"
)

func main() {
	// Load .env file if exists; existing variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(2)
	}
	cfg := config.FromEnv()

	// Flags override the environment.
	mode := flag.String("mode", "serve", "Run mode: once, serve, worker, migrate")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "Admin HTTP address (health, metrics, status)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.StorageBackend, "storage", cfg.StorageBackend, "Storage backend: cassandra, memory")
	flag.StringVar(&cfg.Broker, "broker", cfg.Broker, "Task broker: channel, redis")
	flag.DurationVar(&cfg.Refresh.Interval, "interval", cfg.Refresh.Interval, "Refresh cycle interval (serve mode)")
	flag.IntVar(&cfg.Refresh.TopN, "top-n", cfg.Refresh.TopN, "Leaderboard rows fetched per board")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Worker goroutines")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(cfg.LogLevel, logging.Format(cfg.LogFormat))
	logger := log.WithField("mode", *mode)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Warn("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	var err error
	if *mode == "migrate" {
		err = migrate(ctx, cfg, logger)
	} else {
		err = run(ctx, *mode, cfg, log)
	}
	close(done)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("exited with error")
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, mode string, cfg *config.Config, log *logrus.Logger) error {
	a, cleanup, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	switch mode {
	case "once":
		return a.runOnce(ctx)
	case "serve":
		return a.serve(ctx, cfg.HTTPAddr, cfg.Refresh.Interval)
	case "worker":
		return a.work(ctx, cfg.HTTPAddr)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// app holds the wired components.
type app struct {
	log        logrus.FieldLogger
	session    *storage.LazySession
	broker     dispatcher.Broker
	redis      *redis.Client                  // nil with the channel broker
	results    *dispatcher.RedisResultBackend // nil with the channel broker
	dispatcher *dispatcher.Dispatcher
	tasks      *tasks.Client
	orch       *orchestrator.Orchestrator
	cycles     storage.CycleStore // nil without Postgres
	started    time.Time
}

func build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, func(), error) {
	a := &app{log: log, started: time.Now()}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Storage connects on first use.
	var factory storage.Factory
	switch cfg.StorageBackend {
	case config.StorageMemory:
		mem := memory.NewSession()
		factory = func(context.Context) (storage.Session, error) { return mem, nil }
	default:
		factory = cassandra.Factory(cassandra.Config{
			Hosts:       cfg.Cassandra.Hosts,
			Keyspace:    cfg.Cassandra.Keyspace,
			Username:    cfg.Cassandra.Username,
			Password:    cfg.Cassandra.Password,
			Consistency: cfg.Cassandra.Consistency,
			Timeout:     cfg.Cassandra.Timeout,
		})
	}
	a.session = storage.NewLazySession(factory)
	closers = append(closers, func() { _ = a.session.Close() })

	w := writer.New(writer.Options{
		Executor:   a.session,
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.WriteRetries,
		Logger:     log,
	})

	sinks := []dispatcher.ResultSink{dispatcher.LogSink{Log: log.WithField("component", "tasks")}}

	switch cfg.Broker {
	case config.BrokerRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		closers = append(closers, func() { _ = a.redis.Close() })
		if err := a.redis.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.broker = dispatcher.NewRedisBroker(dispatcher.RedisBrokerOptions{
			Client: a.redis,
			Queue:  cfg.Redis.Queue,
			Logger: log,
		})
		a.results = dispatcher.NewRedisResultBackend(a.redis, cfg.Redis.ResultTTL)
		sinks = append(sinks, a.results)
	default:
		a.broker = dispatcher.NewChannelBroker(0)
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		sinks = append(sinks, dispatcher.StoreSink{Store: chstore.NewTaskResultStore(conn)})
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		a.cycles = pgstore.NewCycleStore(pool)
	}

	a.dispatcher = dispatcher.New(dispatcher.Options{
		Broker:      a.broker,
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		Sinks:       sinks,
		Logger:      log,
	})
	tasks.Register(a.dispatcher, w, a.session)
	a.tasks = tasks.NewClient(a.dispatcher)

	// One limiter per provider, shared by every call to it.
	mn := mnemonic.NewHTTPClient(cfg.Mnemonic.BaseURL, cfg.Mnemonic.APIKey,
		fetch.WithLimiter(fetch.NewLimiter(cfg.Mnemonic.RateLimit, cfg.Mnemonic.RateWindow)),
		fetch.WithTimeout(cfg.Mnemonic.Timeout),
		fetch.WithMaxRetries(cfg.Mnemonic.MaxRetries),
	)
	gp := gallop.NewHTTPClient(cfg.Gallop.BaseURL, cfg.Gallop.APIKey,
		fetch.WithLimiter(fetch.NewLimiter(cfg.Gallop.RateLimit, cfg.Gallop.RateWindow)),
		fetch.WithTimeout(cfg.Gallop.Timeout),
		fetch.WithMaxRetries(cfg.Gallop.MaxRetries),
	)

	opts := orchestrator.Options{
		Mnemonic:       mn,
		Gallop:         gp,
		Catalog:        a.session,
		Tasks:          a.tasks,
		TopN:           cfg.Refresh.TopN,
		FloorBatchSize: cfg.Refresh.FloorBatchSize,
		ShallowWindow:  cfg.Refresh.ShallowWindow,
		DeepWindow:     cfg.Refresh.DeepWindow,
		GroupBy:        mnemonic.GroupBy(cfg.Refresh.GroupBy),
		Logger:         log,
	}
	if a.cycles != nil {
		opts.Recorder = a.cycles
	}
	a.orch = orchestrator.New(opts)

	return a, cleanup, nil
}

// startWorkers runs the worker pool in the background. Tasks left in the
// Redis processing list by a previous process are re-queued first.
func (a *app) startWorkers(ctx context.Context) <-chan error {
	if rb, ok := a.broker.(*dispatcher.RedisBroker); ok {
		if n, err := rb.Recover(ctx); err != nil {
			a.log.WithError(err).Warn("recover processing list")
		} else if n > 0 {
			a.log.WithField("tasks", n).Info("re-queued unacknowledged tasks")
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.dispatcher.Run(ctx) }()
	return errCh
}

// runOnce runs one cycle, waits for the queue to empty and stops the pool.
func (a *app) runOnce(ctx context.Context) error {
	workers := a.startWorkers(ctx)

	res, err := a.orch.RunCycle(ctx)
	if err != nil {
		_ = a.broker.Close()
		<-workers
		return err
	}

	a.waitForQueue(ctx)
	_ = a.broker.Close()
	if err := <-workers; err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"outcome":         res.Outcome(),
		"tasks_submitted": res.TasksSubmitted,
		"errors":          len(res.Errors),
	}).Info("single cycle complete")
	return nil
}

// waitForQueue polls the Redis queue until it is empty. The channel broker
// drains on Close and needs no wait.
func (a *app) waitForQueue(ctx context.Context) {
	rb, ok := a.broker.(*dispatcher.RedisBroker)
	if !ok {
		return
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		n, err := rb.Len(ctx)
		if err == nil && n == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func migrate(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	if cfg.StorageBackend == config.StorageCassandra {
		err := migrations.RunCassandraMigrations(ctx, cassandra.Config{
			Hosts:       cfg.Cassandra.Hosts,
			Keyspace:    cfg.Cassandra.Keyspace,
			Username:    cfg.Cassandra.Username,
			Password:    cfg.Cassandra.Password,
			Consistency: cfg.Cassandra.Consistency,
			Timeout:     cfg.Cassandra.Timeout,
		}, cfg.Cassandra.Replication)
		if err != nil {
			return fmt.Errorf("cassandra migrations: %w", err)
		}
		log.WithField("keyspace", cfg.Cassandra.Keyspace).Info("cassandra schema applied")
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		log.Info("postgres schema applied")
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		conn.Close()
		log.Info("clickhouse schema applied")
	}
	return nil
}
