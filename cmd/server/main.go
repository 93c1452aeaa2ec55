package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"enrollment-service/config"
	"enrollment-service/internal/api"
	"enrollment-service/internal/broker"
	"enrollment-service/internal/gateway"
	"enrollment-service/internal/mailer"
	"enrollment-service/internal/redisclient"
	"enrollment-service/internal/service"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"
	"enrollment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting enrollment service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("enrollment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.LifecycleTopic)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.LifecycleTopic))

	eventPublisher := broker.NewEventPublisher(producer)

	notificationService := service.NewNotificationService(db)
	enrollmentService := service.NewEnrollmentService(db, notificationService, eventPublisher, eventPublisher)
	paymentService := service.NewPaymentService(
		db,
		gateway.NewSSLCommerz(cfg.Gateway),
		enrollmentService,
		notificationService,
		eventPublisher,
		redisClient,
		cfg.Business.CallbackLockTTL,
	)
	certificateService := service.NewCertificateService(db, notificationService, eventPublisher)
	aggregator := service.NewAggregator(db, redisClient, cfg.Business.LeaderboardCacheTTL, notificationService)

	var mail worker.Mailer = mailer.LogMailer{}
	if cfg.Mail.Enabled {
		mail = mailer.NewSMTPMailer(cfg.Mail)
	} else {
		logger.Warn("SMTP disabled, outbox emails will only be logged")
	}
	dispatcher := worker.NewEmailDispatcher(db, mail, mailer.NewRenderer(cfg.Mail.AppURL), worker.DispatcherConfig{
		BatchSize:    cfg.Business.OutboxBatchSize,
		MaxAttempts:  cfg.Business.OutboxMaxAttempts,
		RetryBackoff: cfg.Business.OutboxRetryBackoff,
		LeaseTTL:     cfg.Business.OutboxLeaseTTL,
	})

	scheduler := worker.NewScheduler(dispatcher, paymentService, worker.SchedulerConfig{
		OutboxSpec:        cfg.Business.OutboxCronSpec,
		StalePendingSpec:  cfg.Business.StalePendingCron,
		StalePendingAfter: cfg.Business.StalePendingAfter,
	})
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	certificateConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.LifecycleTopic, cfg.Kafka.ConsumerGroup)
	certificateWorker := worker.NewCertificateWorker(certificateConsumer, certificateService)
	go func() {
		if err := certificateWorker.Start(workerCtx); err != nil {
			logger.Error("Certificate worker error", zap.Error(err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Payments:      paymentService,
		Enrollments:   enrollmentService,
		Certificates:  certificateService,
		Aggregator:    aggregator,
		Notifications: notificationService,
	}, api.NewAuthenticator(cfg.Auth), map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// metrics are also served on the scrape port
	var metricsSrv *http.Server
	if cfg.Observ.PrometheusPort != "" && cfg.Observ.PrometheusPort != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Observ.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	scheduler.Stop()
	workerCancel()
	if err := certificateWorker.Stop(); err != nil {
		logger.Error("Error stopping certificate worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
