package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/internal/config"
	"notifyhub/internal/handler"
	"notifyhub/internal/httpserver"
	"notifyhub/internal/mqhandler"
	"notifyhub/internal/repository"
	"notifyhub/internal/service"
	"notifyhub/pkg/db"
	"notifyhub/pkg/kafka"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/otel"
	redisclient "notifyhub/pkg/redis"
	"notifyhub/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting notifyhub...",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("intake", cfg.Intake.Source),
		zap.String("push", cfg.Push.Transport),
	)

	shutdownTracing, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		notifications repository.NotificationStore
		deadLetters   repository.DeadLetterStore
		pinger        httpserver.Pinger
	)
	switch cfg.Storage.Driver {
	case "memory":
		store := repository.NewMemoryStore()
		notifications, deadLetters, pinger = store, store, store
		log.Warn("Using in-memory storage, data will not survive a restart")
	default:
		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()

		if cfg.Storage.Migrate {
			if err := repository.Migrate(ctx, pool); err != nil {
				log.Fatal("Failed to apply schema", zap.Error(err))
			}
		}
		notifications = repository.NewNotificationRepository(pool, log)
		deadLetters = repository.NewDeadLetterRepository(pool)
		pinger = pool
	}

	// Redis：推送通道和死信重试计数共用
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redisclient.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			if cfg.Push.Transport == "redis" {
				log.Fatal("Failed to init Redis", zap.Error(err))
			}
			log.Warn("Redis unavailable, DLQ retry counter disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// Push transport
	var transport service.PushTransport
	switch cfg.Push.Transport {
	case "amqp":
		publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.Push.Exchange)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		transport = service.NewAMQPTransport(publisher)
	case "redis":
		if rdb == nil {
			log.Fatal("push.transport is redis but redis.addr is empty")
		}
		transport = service.NewRedisTransport(rdb)
	default:
		transport = service.NewLogTransport(log)
	}

	// Services
	push := service.NewPushChannel(transport, cfg.Push.Breaker, log)
	engine := service.NewFanoutEngine(notifications, push, log).
		WithMaxConcurrency(cfg.Fanout.MaxConcurrency)
	dlq := service.NewDeadLetterService(deadLetters, engine, log).
		WithRateLimit(cfg.DLQ.RetryRate)
	if rdb != nil {
		dlq.WithRetryCounter(util.NewRetryCounter(rdb, cfg.DLQ.RetryCounterTTL))
	}
	queries := service.NewNotificationQuery(notifications, log)

	// Intake
	intake := mqhandler.NewIntakeHandler(engine, dlq, cfg.Intake.Source, log)
	intakeCtx, stopIntake := context.WithCancel(context.Background())
	defer stopIntake()

	var (
		wg          sync.WaitGroup
		closeIntake = func() {}
	)
	switch cfg.Intake.Source {
	case "kafka":
		group, err := kafka.NewConsumerGroup(cfg.Kafka, log)
		if err != nil {
			log.Fatal("Failed to init Kafka consumer group", zap.Error(err))
		}
		group.SetHandler(intake.Handle)
		closeIntake = func() {
			if err := group.Close(); err != nil {
				log.Error("Kafka consumer close error", zap.Error(err))
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("Starting Kafka intake", zap.String("topic", cfg.Kafka.Topic))
			if err := group.Run(intakeCtx); err != nil {
				log.Error("Kafka intake failed", zap.Error(err))
				stop()
			}
		}()
	case "amqp":
		consumer, err := mq.NewConsumer(cfg.MQ, log)
		if err != nil {
			log.Fatal("Failed to init MQ consumer", zap.Error(err))
		}
		consumer.SetHandler(intake.Handle)
		closeIntake = func() {
			consumer.Stop()
			consumer.Close()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("Starting AMQP intake", zap.String("queue", cfg.MQ.Queue))
			if err := consumer.StartConsuming(intakeCtx); err != nil {
				log.Error("AMQP intake failed", zap.Error(err))
				stop()
			}
		}()
	default:
		log.Info("Intake disabled")
	}

	// DLQ scheduler
	wg.Add(1)
	go func() {
		defer wg.Done()
		service.NewDLQScheduler(dlq, log).WithInterval(cfg.DLQ.RetryInterval).Start(intakeCtx)
	}()

	// HTTP Server
	router := httpserver.NewRouter(
		handler.NewNotificationHandler(queries, push, log),
		handler.NewDLQHandler(dlq, log),
		pinger,
		log,
	)
	srv := router.Server(":" + cfg.Server.Port)

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	log.Info("notifyhub is fully initialized and running")

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down notifyhub gracefully...")

	// 停止拉取新消息，等待正在处理的消息完成
	stopIntake()
	wg.Wait()
	closeIntake()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("notifyhub shutdown complete")
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
