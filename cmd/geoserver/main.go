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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/geoapi"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/source"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/rpc"
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
	slog.Info("starting geo query service",
		"port", cfg.Server.Port,
		"static", cfg.Engine.Static,
		"cache", cfg.Engine.Cache,
		"source", cfg.Source.Kind,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checker := health.NewChecker()

	var pg *postgres.Client
	if cfg.Source.Kind == config.SourcePostgres || cfg.Analytics.SnapshotInterval > 0 {
		pg, err = postgres.New(cfg.Postgres)
		if err != nil {
			if cfg.Source.Kind == config.SourcePostgres {
				slog.Error("failed to connect to postgres", "error", err)
				os.Exit(1)
			}
			slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
		} else {
			defer pg.Close()
			checker.Register("postgres", health.PingCheck(pg.Ping))
		}
	}

	var rdb *pkgredis.Client
	if cfg.Source.Kind == config.SourceRedis {
		rdb, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		checker.Register("redis", health.PingCheck(rdb.Ping))
	}

	loader, err := source.FromConfig(cfg.Source, pg, rdb)
	if err != nil {
		slog.Error("invalid record source", "error", err)
		os.Exit(1)
	}

	// Analytics: publish through Kafka when a topic is configured, otherwise
	// fold events in process.
	aggregator := analytics.NewAggregator(nil)
	var tracker analytics.Tracker = aggregator
	var collector *analytics.Collector
	if topic := cfg.Kafka.Topics.QueryEvents; topic != "" {
		breaker := resilience.NewCircuitBreaker("analytics-kafka", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		producer := kafka.NewProducer(cfg.Kafka, topic)
		collector = analytics.NewCollector(producer, breaker, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector

		consumer := kafka.NewConsumer(cfg.Kafka, topic, false, analytics.HandleEvent(aggregator))
		defer consumer.Close()
		aggregator.SetConsumer(consumer)
		go func() {
			if err := aggregator.Start(ctx); err != nil {
				slog.Error("analytics aggregator error", "error", err)
			}
		}()
		slog.Info("analytics pipeline started", "topic", topic)
	}
	if pg != nil && cfg.Analytics.SnapshotInterval > 0 {
		snapshots := analytics.NewStore(pg)
		if err := snapshots.EnsureSchema(ctx); err != nil {
			slog.Warn("analytics snapshot schema unavailable", "error", err)
		} else {
			snapshots.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval)
		}
	}

	eng := engine.New[*model.Item](nil, cfg.Engine, engine.WithObserver(geoapi.NewMetricsObserver(m)))
	storeOpts := []geoapi.StoreOption{geoapi.WithTracker(tracker), geoapi.WithMetrics(m)}
	if loader != nil {
		storeOpts = append(storeOpts, geoapi.WithLoader(loader, cfg.Source))
	}
	if sink, ok := loader.(source.Sink); ok {
		storeOpts = append(storeOpts, geoapi.WithSink(sink))
	}
	store := geoapi.NewStore(eng, storeOpts...)

	checker.Register("index", health.IndexCheck(func() (int, string) {
		stats := store.Stats()
		return stats.Records, stats.Index
	}, loader != nil))
	checker.Await("records")

	if topic := cfg.Kafka.Topics.RecordUpdates; topic != "" {
		feed := kafka.NewConsumer(cfg.Kafka, topic, true, ingest.Handler(store, m))
		defer feed.Close()
		go func() {
			if err := feed.Start(ctx); err != nil {
				slog.Error("record feed consumer error", "error", err)
			}
		}()
		slog.Info("record feed consumer started", "topic", topic)
	}

	h := geoapi.NewHandler(store, cfg.Search, tracker)
	analyticsH := analytics.NewHandler(aggregator, collector)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler(reg))

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins)),
		middleware.Metrics(m),
		middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst, m),
		middleware.RequireAPIKey(cfg.Server.APIKeys),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	var rpcServer *rpc.Server
	if cfg.RPC.Port > 0 {
		rpcServer = rpc.NewServer()
		geoapi.RegisterRPC(rpcServer, store, cfg.Search, tracker)
		go func() {
			if err := rpcServer.Serve(fmt.Sprintf(":%d", cfg.RPC.Port)); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if rpcServer != nil {
			rpcServer.Stop()
		}
	}()

	go func() {
		if loader != nil {
			report, err := store.Reload(ctx)
			if err != nil {
				checker.Resolve("records", err)
				slog.Error("initial record load failed", "error", err)
				stop()
				return
			}
			slog.Info("initial records loaded", "loaded", report.Loaded, "skipped", report.Skipped)
		}
		checker.Resolve("records", nil)
	}()

	slog.Info("geo query service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("geo query service stopped")
}
