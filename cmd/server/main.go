// cmd/server/main.go
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
	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/activation"
	"github.com/javajoker/keyshop-backend/internal/cache"
	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/database"
	"github.com/javajoker/keyshop-backend/internal/events"
	"github.com/javajoker/keyshop-backend/internal/i18n"
	"github.com/javajoker/keyshop-backend/internal/payments"
	"github.com/javajoker/keyshop-backend/internal/router"
	"github.com/javajoker/keyshop-backend/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	setupLogging(cfg)

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.LocalesPath, cfg.I18n.DefaultLocale); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}
	if err := database.SeedInitialData(db); err != nil {
		logrus.WithError(err).Warn("Failed to seed initial data")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	infra := router.Infra{
		Activation:  activation.NewHTTPClient(cfg.Activation),
		Publisher:   events.NopPublisher{},
		StatusCache: cache.NopStatusCache{},
		Notifier:    services.NewNotificationService(cfg),
	}

	infra.Payments, err = payments.NewRegistryFromConfig(cfg.Payment)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure payment providers")
	}

	storage, err := services.NewStorageService(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize storage")
	}
	infra.Storage = storage

	if addr := cfg.Redis.Addr(); addr != "" {
		rdb := cache.NewRedisClient(addr, cfg.Redis.Password, cfg.Redis.DB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logrus.WithError(err).WithField("addr", addr).Warn("Redis unavailable, order status cache disabled")
		} else {
			infra.StatusCache = cache.NewRedisStatusCache(rdb)
			defer rdb.Close()
		}
		cancel()
	}

	var publisher *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka)
		publisher.Start(ctx)
		infra.Publisher = publisher
		logrus.WithField("brokers", cfg.Kafka.Brokers).Info("Kafka event publisher started")
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	svc := router.NewServices(cfg, router.GormStores(db), infra)

	// Initialize router
	r := router.Initialize(cfg, svc)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	svc.Audit.Wait()

	if publisher != nil {
		publisher.Close()
		publisher.WaitClosed()
	}

	logrus.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	if cfg.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
