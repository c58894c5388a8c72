// notifyd 通知分发进程：内部发布接口 + outbox 分发循环 + 通知清理
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/projtrack/config"
	"github.com/d60-Lab/projtrack/internal/api"
	"github.com/d60-Lab/projtrack/internal/api/handler"
	"github.com/d60-Lab/projtrack/internal/cache"
	"github.com/d60-Lab/projtrack/internal/delivery"
	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/internal/service"
	"github.com/d60-Lab/projtrack/pkg/database"
	"github.com/d60-Lab/projtrack/pkg/errreport"
	"github.com/d60-Lab/projtrack/pkg/logger"
	"github.com/d60-Lab/projtrack/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, reading from environment")
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("notifyd exited with error", zap.Error(err))
		errreport.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := errreport.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, ""); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer errreport.Flush(2 * time.Second)

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
	}

	outbox := repository.NewOutboxRepository(db)
	notifications := repository.NewNotificationRepository(db)
	var prefs repository.PreferenceRepository = repository.NewPreferenceRepository(db)
	if rdb != nil {
		prefs = cache.NewPreferenceCache(prefs, rdb, cache.DefaultTTL)
	}

	queue := delivery.NewAsyncQueue(buildSinks(cfg, rdb), cfg.Delivery.QueueSize)
	stopQueue := queue.Start(cfg.Delivery.Workers)

	publisher := service.NewPublisher(outbox)
	dispatcher := service.NewDispatcher(outbox, notifications, service.DefaultPreferenceFilter(prefs), queue, cfg.Dispatch)
	stopDispatch := dispatcher.Start(cfg.Dispatch.Workers)
	stopSweep := service.NewRetentionSweeper(notifications, cfg.Retention).Start()

	h := handler.NewHandler(publisher, outbox, healthChecks(db, rdb))
	router, limiter := api.NewRouter(cfg, h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go pruneLoop(ctx, limiter.Prune)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("notifyd listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serverErr:
		logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// 先停入口，再停分发，最后排空推送队列
	if e := srv.Shutdown(shutdownCtx); e != nil {
		logger.Warn("http shutdown", zap.Error(e))
	}
	if e := stopDispatch(shutdownCtx); e != nil {
		logger.Warn("dispatcher shutdown", zap.Error(e))
	}
	if e := stopSweep(shutdownCtx); e != nil {
		logger.Warn("retention shutdown", zap.Error(e))
	}
	if e := stopQueue(shutdownCtx); e != nil {
		logger.Warn("delivery queue shutdown", zap.Error(e))
	}
	if e := shutdownTracing(shutdownCtx); e != nil {
		logger.Warn("tracing shutdown", zap.Error(e))
	}
	return err
}

func buildSinks(cfg *config.Config, rdb *redis.Client) service.DeliverySink {
	sinks := delivery.Fanout{delivery.LogSink{}}
	if rdb != nil {
		sinks = append(sinks, delivery.NewRedisSink(rdb, cfg.Delivery.RedisChannelPrefix))
	}
	if cfg.Delivery.SNSTopicARN != "" {
		client, err := delivery.NewSNSClient(context.Background(), cfg.Delivery.SNSRegion)
		if err != nil {
			logger.Warn("sns sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, delivery.NewSNSSink(client, cfg.Delivery.SNSTopicARN))
		}
	}
	return sinks
}

func healthChecks(db *gorm.DB, rdb *redis.Client) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

func pruneLoop(ctx context.Context, prune func(time.Duration) int) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune(10 * time.Minute)
		}
	}
}
