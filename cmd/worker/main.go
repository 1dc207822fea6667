package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/background"
	"github.com/hookqueue/hookqueue/internal/broker"
	"github.com/hookqueue/hookqueue/internal/config"
	"github.com/hookqueue/hookqueue/internal/database"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("Could not load .env file")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := run(config.Load(), logger); err != nil {
		logger.WithError(err).Fatal("Worker failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Several workers may poll the same queue; the instance id keeps their
	// log streams distinguishable.
	workerID := "worker-" + uuid.NewString()[:8]
	logger.WithFields(logrus.Fields{
		"worker_id": workerID,
		"backend":   cfg.Broker.Backend,
	}).Info("Worker starting")

	pool, err := connectWithRetry(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	queue, err := broker.New(ctx, cfg.Broker, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	tasks := database.NewTaskRepository(pool, logger)
	attempts := database.NewAttemptRepository(pool)
	metrics := background.NewMetrics("hookqueue")
	calc := background.NewDueCalculator(cfg.Worker.MinDelay)
	lifecycle := background.NewLifecycle(tasks, calc,
		cfg.Worker.MaxTaskErrors, cfg.Worker.MaxTaskDelay, logger, metrics)
	performer := background.NewPerformer(lifecycle, nil, attempts, logger, metrics)

	workers := background.NewPool(&background.PoolConfig{
		MaxTasks:        cfg.Worker.MaxTasks,
		PopTimeout:      cfg.Broker.PopTimeout,
		MinDelay:        cfg.Worker.MinDelay,
		MaxEmptyDelay:   cfg.Worker.MaxEmptyDelay,
		MaxErrorDelay:   cfg.Worker.MaxErrorDelay,
		EmptyMultiplier: cfg.Worker.EmptyMultiplier,
		ErrorMultiplier: cfg.Worker.ErrorMultiplier,
		FinishOnEmpty:   cfg.Worker.FinishOnEmpty,
	}, queue, tasks, performer, logger, metrics)

	if cfg.Scanner.Enabled {
		scanner := background.NewDueScanner(tasks, queue,
			cfg.Scanner.Interval, cfg.Scanner.BatchLimit, logger, metrics)
		go scanner.Run(ctx)
	}

	if cfg.Worker.MetricsPort != "" {
		go serveMetrics(cfg.Worker.MetricsPort, logger)
	}

	if err := workers.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down worker...")
	case <-workers.Done():
	}

	cancel()
	if err := workers.Stop(30 * time.Second); err != nil {
		logger.WithError(err).Warn("Worker pool did not stop cleanly")
	}

	if err := workers.Err(); err != nil {
		return fmt.Errorf("worker pool exited: %w", err)
	}

	logger.Info("Worker shutdown complete")
	return nil
}

// connectWithRetry waits for the database with exponential backoff so the
// worker can come up before its dependencies during deployment.
func connectWithRetry(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*pgxpool.Pool, error) {
	backoff := background.NewBackoff(time.Second, 30*time.Second)
	var lastErr error

	for attempt := 1; attempt <= 10; attempt++ {
		pool, err := database.Connect(ctx, cfg, logger)
		if err == nil {
			return pool, nil
		}
		lastErr = err

		delay := backoff.Next(2.0)
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"retry_in": delay.String(),
		}).Warn("Database not ready")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("database never became ready: %w", lastErr)
}

func serveMetrics(port string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.WithField("port", port).Info("Serving worker metrics")
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.WithError(err).Warn("Metrics listener stopped")
	}
}
