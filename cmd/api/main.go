package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/broker"
	"github.com/hookqueue/hookqueue/internal/config"
	"github.com/hookqueue/hookqueue/internal/database"
	"github.com/hookqueue/hookqueue/internal/handlers"
	"github.com/hookqueue/hookqueue/internal/middleware"
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
		logger.WithError(err).Fatal("API server failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	pool, err := database.Connect(ctx, cfg.Database, logger)
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

	router := setupRouter(cfg, pool, queue, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
		}).Info("Starting hookqueue API server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}

func setupRouter(cfg *config.Config, pool *pgxpool.Pool, queue broker.Broker, logger *logrus.Logger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tasks := database.NewTaskRepository(pool, logger)
	apps := database.NewApplicationRepository(pool, logger)
	attempts := database.NewAttemptRepository(pool)

	root := r.Group("/")
	handlers.RegisterTaskRoutes(root, handlers.NewTaskHandler(tasks, queue, attempts, cfg.Enqueue, logger),
		middleware.APIKeyAuth(apps, logger))
	handlers.RegisterAdminRoutes(root, handlers.NewAdminHandler(apps, logger),
		middleware.AdminAuth(cfg.Admin.Token))
	handlers.RegisterHealthRoutes(root, handlers.NewHealthHandler(pool, tasks, queue, attempts, logger))

	return r
}
