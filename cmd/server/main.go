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

	"pos-service/config"
	"pos-service/internal/api"
	"pos-service/internal/auth"
	"pos-service/internal/broker"
	"pos-service/internal/redisclient"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/util"
	"pos-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "pos-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(util.LogOptions{
		Service: serviceName,
		Env:     cfg.Server.Env,
		Level:   cfg.Observ.LogLevel,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pos service")

	tp, err := util.InitTracer(util.TraceOptions{
		Service:        serviceName,
		Env:            cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	var (
		locker      service.IdempotencyLocker
		redisClient *redisclient.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		locker = redisClient
		logger.Info("Redis connected")
	}

	var publisher service.EventPublisher
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized")
	}

	sequence := service.NewInvoiceSequence(db, cfg.Business.InvoicePrefix, cfg.Business.InvoicePadWidth)
	ledger := service.NewStockLedger()
	saleService := service.NewSaleService(db, sequence, ledger, publisher, locker, service.SaleOptions{
		TaxRate:            cfg.Business.TaxRate,
		IdempotencyLockTTL: cfg.Business.IdempotencyLockTTL,
	})
	catalogService := service.NewCatalogService(db, ledger)
	tracker := service.NewLoginTracker(db, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration, publisher)
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService := service.NewAuthService(db, tracker, tokens)
	userService := service.NewUserService(db, tracker)

	ctx := context.Background()
	if err := sequence.Sync(ctx); err != nil {
		logger.Fatal("Failed to sync invoice sequence", zap.Error(err))
	}
	if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		logger.Fatal("Failed to bootstrap admin user", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var alertWorker *worker.StockAlertWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales, cfg.Kafka.ConsumerGroup)
		var marker worker.AlertMarker
		if redisClient != nil {
			marker = redisClient
		}
		alertWorker = worker.NewStockAlertWorker(consumer, db, marker)
		go func() {
			if err := alertWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Stock alert worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Sales:   saleService,
		Catalog: catalogService,
		Auth:    authService,
		Users:   userService,
		Tracker: tracker,
		Tokens:  tokens,
	}, cfg.Server.CORSOrigins)
	handler.AddReadinessCheck("database", db.Ping)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient.Ping)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		metricsSrv = api.NewMetricsServer(fmt.Sprintf(":%s", port))
		go func() {
			logger.Info("Starting metrics server", zap.String("port", port))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server stopped", zap.Error(err))
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
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	workerCancel()
	if alertWorker != nil {
		alertWorker.Stop()
	}

	logger.Info("Server exited")
}
