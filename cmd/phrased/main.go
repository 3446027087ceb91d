// Command phrased runs the top-phrases job service.
//
// The API accepts jobs via POST /api/v1/jobs, stores them in PostgreSQL and
// publishes them to Kafka; GET /api/v1/jobs/{id} reads job state through the
// Redis cache. The worker consumes the jobs topic, runs the phrase pipeline
// and publishes a completion event per job. Both roles run in one process by
// default and can be split with -api=false or -worker=false. With the API
// enabled, the same submit and get operations are also served over the JSON
// RPC protocol on server.rpcPort.
//
// Usage:
//
//	go run ./cmd/phrased [-config configs/development.yaml] [-api] [-worker]
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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/cache"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/handler"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/rpcapi"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/store"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/submitter"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/worker"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/rpc"
)

const requeueBatch = 1000

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	runAPI := flag.Bool("api", true, "serve the HTTP API")
	runWorker := flag.Bool("worker", true, "consume and run jobs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(nil, cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting phrased", "api", *runAPI, "worker", *runWorker, "port", cfg.Server.Port)

	if err := serve(cfg, *runAPI, *runWorker); err != nil {
		slog.Error("phrased stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("phrased stopped")
}

func serve(cfg *config.Config, runAPI, runWorker bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, metrics.Handler())
		defer shutdownMetrics(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("connected to postgres")

	rc, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rc.Close()
	slog.Info("connected to redis", "addr", cfg.Redis.Addr)

	jobStore := store.New(db)
	resultCache := cache.New(rc, jobStore, cfg.Redis.CacheTTL, m)

	checker := health.NewChecker()
	checker.Register("postgres", db.Ping)
	checker.Register("redis", rc.Ping)

	g, gctx := errgroup.WithContext(ctx)

	if runWorker {
		p, err := pipeline.New(cfg.Pipeline, m)
		if err != nil {
			return err
		}
		events := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.JobEvents)
		defer events.Close()
		w := worker.New(p, jobStore, resultCache, events, cfg.Worker, m)
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Jobs, w.HandleMessage)
		defer consumer.Close()
		slog.Info("worker consuming",
			"topic", cfg.Kafka.Topics.Jobs,
			"group", cfg.Kafka.ConsumerGroup,
			"events_topic", cfg.Kafka.Topics.JobEvents,
		)
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	if runAPI {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Jobs)
		defer producer.Close()
		sub := submitter.New(jobStore, producer, cfg.Pipeline)
		if n, err := sub.Requeue(ctx, requeueBatch); err != nil {
			slog.Warn("requeue of pending jobs failed", "requeued", n, "error", err)
		}

		mux := http.NewServeMux()
		handler.New(sub, resultCache).Register(mux)
		mux.HandleFunc("GET /health/live", checker.LiveHandler())
		mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

		var h http.Handler = mux
		h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
		h = middleware.Metrics(m)(h)
		h = middleware.RequestID(h)

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      h,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		g.Go(func() error {
			slog.Info("api listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("shutting down api")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})

		if cfg.Server.RPCPort > 0 {
			rpcServer := rpc.NewServer()
			rpcapi.New(sub, resultCache).Register(rpcServer)
			g.Go(func() error {
				return rpcServer.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.RPCPort))
			})
			g.Go(func() error {
				<-gctx.Done()
				rpcServer.Stop()
				return nil
			})
		}
	}

	return g.Wait()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
