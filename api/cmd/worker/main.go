package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"overwatch-command-core/api/internal/dispatch"
	"overwatch-command-core/api/internal/engine"
	"overwatch-command-core/api/internal/repos"
	"overwatch-command-core/api/internal/sinks"
	"overwatch-command-core/shared/cachex"
	"overwatch-command-core/shared/clients/discord"
	"overwatch-command-core/shared/clients/prc"
	"overwatch-command-core/shared/config"
	"overwatch-command-core/shared/dbx"
	"overwatch-command-core/shared/lockx"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/metricsx"
	"overwatch-command-core/shared/observability"
)

const (
	taskQueueScan      = "queue.scan"
	taskAutomationTick = "automation.tick"

	queueScanLockKey = "overwatch:queue:scan"
)

func main() {
	cfg, problems := config.Load("queue-worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if cfg.PRCAPIURL == "" {
		problems = append(problems, config.Problem{Field: "PRC_API_URL", Message: "PRC_API_URL is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	commandRepo := repos.NewCommandRepo(dbPool)
	serverRepo := repos.NewServerRepo(dbPool)
	automationRepo := repos.NewAutomationRepo(dbPool)
	punishmentRepo := repos.NewPunishmentRepo(dbPool)
	notificationRepo := repos.NewNotificationRepo(dbPool)
	auditRepo := repos.NewAuditRepo(dbPool)

	webhook := discord.NewClient(cfg)
	limiter := prc.NewRegistry(
		cfg.PRCRateBudget,
		time.Duration(cfg.RateAlertThresholdMS)*time.Millisecond,
		time.Duration(cfg.RateAlertCooldownSec)*time.Second,
		func(ctx context.Context, key string, waited time.Duration) {
			logger.Warn(ctx, "prc_rate_limit_stall", "request waited on PRC rate budget past alert threshold",
				slog.Duration("waited", waited))
			if err := webhook.Send(ctx, discord.Message{
				Content: "PRC rate budget stalled in the queue worker: a request has been waiting " + waited.Round(time.Second).String(),
			}); err != nil && !errors.Is(err, discord.ErrNotConfigured) {
				logger.Warn(ctx, "rate_alert_webhook_failed", "alert webhook delivery failed",
					slog.String("error", err.Error()))
			}
		},
	)
	prcClient, err := prc.NewClient(cfg, limiter, logger)
	if err != nil {
		logger.Error(context.Background(), "prc_init_failed", "prc client init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer prcClient.Close()

	// One Redis lock keeps concurrent worker replicas from draining the
	// same batch twice. Missing Redis just means we run unguarded.
	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "scan lock disabled",
				slog.String("error", err.Error()))
		} else {
			defer cache.Close()
		}
	}

	sink := sinks.CommandSink{Repo: commandRepo, Pool: dbPool}
	processor := dispatch.NewProcessor(logger, commandRepo, serverRepo, prcClient, sink, dispatch.Config{
		BatchSize:       cfg.QueueBatchSize,
		CommandDelay:    time.Duration(cfg.QueueCommandDelayMS) * time.Millisecond,
		ProcessingStale: time.Duration(cfg.QueueProcessingStaleSec) * time.Second,
	})
	automations := engine.New(logger, engine.Deps{
		Rules:         automationRepo,
		Servers:       serverRepo,
		Executor:      prcClient,
		Commands:      sink,
		Notifications: sinks.NotificationSink{Repo: notificationRepo, Pool: dbPool},
		Punishments:   sinks.PunishmentSink{Repo: punishmentRepo, Pool: dbPool},
		Audit:         sinks.AuditSink{Repo: auditRepo},
		HTTPTimeout:   time.Duration(cfg.AutomationHTTPTimeoutMS) * time.Millisecond,
	})

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	lockTTL := time.Duration(cfg.QueueLockTTLSec) * time.Second

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskQueueScan, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, taskQueueScan)
		defer span.End()

		if cache != nil {
			lock, acquired, err := lockx.Acquire(ctx, cache.Client(), queueScanLockKey, lockTTL)
			if err != nil {
				logger.Warn(ctx, "scan_lock_failed", "proceeding without scan lock",
					slog.String("error", err.Error()))
			} else if !acquired {
				return nil
			} else {
				defer func() { _ = lockx.Release(ctx, cache.Client(), lock) }()
			}
		}
		return processor.ScanOnce(ctx)
	})
	mux.HandleFunc(taskAutomationTick, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, taskAutomationTick)
		defer span.End()
		return automations.Tick(ctx)
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.QueueScanSec)+"s", asynq.NewTask(taskQueueScan, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.AutomationTickSec)+"s", asynq.NewTask(taskAutomationTick, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if info, err := inspector.GetQueueInfo(cfg.AsynqQueue); err == nil {
				metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if pending, err := commandRepo.CountPending(ctx); err == nil {
				metricsx.SetCommandQueueDepth(pending)
			}
			cancel()
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "queue worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("scan_seconds", cfg.QueueScanSec),
			slog.Int("tick_seconds", cfg.AutomationTickSec),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "queue worker stopped")
}
