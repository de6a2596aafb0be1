package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/notify"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/publisher"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/state"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting replicator",
		"tables", cfg.Pipeline.Tables,
		"primary_table", cfg.Pipeline.PrimaryTable,
		"index", cfg.Elasticsearch.Index,
		"batch_size", cfg.Pipeline.BatchSize,
	)

	if err := run(cfg); err != nil {
		slog.Error("replicator failed", "error", err)
		os.Exit(1)
	}
	slog.Info("replicator stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to postgres")

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	slog.Info("connected to redis")

	tables := cfg.Pipeline.Tables
	st := state.New(state.NewRedisStorage(rdb, cfg.Pipeline.StateKey))
	if err := st.Ensure(ctx, tables); err != nil {
		return fmt.Errorf("initializing watermarks: %w", err)
	}

	m := metrics.New(nil)
	watermarks, err := st.Snapshot(ctx, tables)
	if err != nil {
		return fmt.Errorf("reading watermarks: %w", err)
	}
	for _, table := range tables {
		ts := watermarks[table]
		if !ts.IsZero() {
			m.Watermark.WithLabelValues(table).Set(float64(ts.UnixNano()) / 1e9)
		}
		slog.Info("resuming from watermark", "table", table, "watermark", ts)
	}

	ext, err := extractor.New(extractor.FromDB(db.DB), st, extractor.Config{
		Schema:       cfg.Pipeline.Schema,
		PrimaryTable: cfg.Pipeline.PrimaryTable,
		BatchSize:    cfg.Pipeline.BatchSize,
		QueryTimeout: cfg.Pipeline.QueryTimeout,
	})
	if err != nil {
		return err
	}

	es, err := publisher.NewElasticClient(cfg.Elasticsearch)
	if err != nil {
		return err
	}
	indexer := publisher.NewElasticIndexer(es)
	pub := publisher.New(indexer, publisher.Config{
		Index: cfg.Elasticsearch.Index,
		Backoff: resilience.Backoff{
			Start:  cfg.Backoff.Start,
			Factor: cfg.Backoff.Factor,
			Cap:    cfg.Backoff.Cap,
		},
		MaxAttempts: cfg.Backoff.MaxAttempts,
	}, m)

	wake := make(chan struct{}, 1)
	pl, err := pipeline.New(ext, pub, pipeline.Config{
		Tables:          tables,
		IdleSleep:       cfg.Pipeline.IdleSleep,
		EmptyRoundSleep: cfg.Pipeline.EmptyRoundSleep,
		Wake:            wake,
	}, m)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexUpdated)
		defer producer.Close()
		pl.SetNotifier(notify.NewNotifier(producer, cfg.Elasticsearch.Index))

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ReplicationTrigger, notify.WakeHandler(wake))
		g.Go(func() error { return consumer.Start(gctx) })
		slog.Info("kafka enabled",
			"index_updated_topic", cfg.Kafka.Topics.IndexUpdated,
			"trigger_topic", cfg.Kafka.Topics.ReplicationTrigger,
		)
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("redis", health.PingCheck(rdb.Ping))
	checker.Register("elasticsearch", health.PingCheck(indexer.Ping))

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.LiveHandler(pl.Heartbeat, time.Now(), cfg.Pipeline.LivenessThreshold))
	mux.Handle("/readyz", checker.ReadyHandler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.Metrics(m), middleware.Recover),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		slog.Info("ops server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return pl.Run(gctx)
	})

	return g.Wait()
}
