package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"overwatch-command-core/api/internal/engine"
	"overwatch-command-core/api/internal/repos"
	"overwatch-command-core/api/internal/sinks"
	"overwatch-command-core/shared/clients/discord"
	"overwatch-command-core/shared/clients/prc"
	"overwatch-command-core/shared/config"
	"overwatch-command-core/shared/dbx"
	"overwatch-command-core/shared/events"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/metricsx"
	"overwatch-command-core/shared/mqx"
	"overwatch-command-core/shared/observability"
)

// The consumer turns moderation and presence events into automation
// triggers. Each topic gets its own reader so a stall on one stream
// never starves the other.
func main() {
	cfg, problems := config.Load("moderation-events-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
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
				Content: "PRC rate budget stalled in the events consumer: a request has been waiting " + waited.Round(time.Second).String(),
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

	automations := engine.New(logger, engine.Deps{
		Rules:         automationRepo,
		Servers:       serverRepo,
		Executor:      prcClient,
		Commands:      sinks.CommandSink{Repo: commandRepo, Pool: dbPool},
		Notifications: sinks.NotificationSink{Repo: notificationRepo, Pool: dbPool},
		Punishments:   sinks.PunishmentSink{Repo: punishmentRepo, Pool: dbPool},
		Audit:         sinks.AuditSink{Repo: auditRepo},
		HTTPTimeout:   time.Duration(cfg.AutomationHTTPTimeoutMS) * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var wg sync.WaitGroup
	for _, topic := range []string{events.TopicPunishments, events.TopicPlayerEvents, events.TopicCommands} {
		reader, err := mqx.NewConsumer(cfg, topic, cfg.KafkaGroupID)
		if err != nil {
			logger.Error(ctx, "kafka_init_failed", "kafka reader init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		wg.Add(1)
		go func(topic string, reader *kafka.Reader) {
			defer wg.Done()
			defer reader.Close()
			consumeLoop(ctx, logger, cfg, reader, topic, automations)
		}(topic, reader)
	}

	logger.Info(ctx, "consumer_start", "moderation events consumer started",
		slog.String("group", cfg.KafkaGroupID),
	)
	wg.Wait()
	logger.Info(context.Background(), "consumer_stop", "moderation events consumer stopped")
}

func consumeLoop(ctx context.Context, logger logx.Logger, cfg config.Config, reader *kafka.Reader, topic string, automations *engine.Engine) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
		)
		if err := handleEvent(spanCtx, automations, msg.Value); err != nil {
			span.End()
			// A bad event is logged and committed; redelivery would
			// fail the same way.
			logger.Error(ctx, "event_handle_failed", "failed to handle event",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		} else {
			span.End()
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}
}

func handleEvent(ctx context.Context, automations *engine.Engine, raw []byte) error {
	var envelope events.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	if envelope.GuildID == uuid.Nil {
		return errors.New("missing guild_id")
	}

	switch envelope.EventType {
	case events.EventPunishmentIssued:
		var payload events.PunishmentPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return err
		}
		ec := engine.Context{
			GuildID: envelope.GuildID,
			Player: &engine.PlayerInfo{
				ID:   payload.PlayerID,
				Name: payload.PlayerName,
			},
			Punishment: &engine.PunishmentInfo{
				Type:      payload.Type,
				Reason:    payload.Reason,
				Moderator: payload.Moderator,
			},
		}
		if serverID, err := uuid.Parse(payload.ServerID); err == nil && serverID != uuid.Nil {
			ec.ServerID = &serverID
		}
		return automations.Trigger(ctx, engine.TriggerPunishmentIssued, ec, nil)

	case events.EventPlayerJoined, events.EventPlayerLeft:
		var payload events.PlayerPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return err
		}
		ec := engine.Context{
			GuildID: envelope.GuildID,
			Player: &engine.PlayerInfo{
				ID:         payload.PlayerID,
				Name:       payload.PlayerName,
				Permission: payload.Permission,
				Team:       payload.Team,
			},
		}
		if serverID, err := uuid.Parse(payload.ServerID); err == nil && serverID != uuid.Nil {
			ec.ServerID = &serverID
		}
		trigger := engine.TriggerPlayerJoined
		if envelope.EventType == events.EventPlayerLeft {
			trigger = engine.TriggerPlayerLeft
		}
		return automations.Trigger(ctx, trigger, ec, nil)

	case events.EventServerCommand:
		var payload struct {
			ServerID string `json:"server_id"`
			Command  string `json:"command"`
		}
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return err
		}
		ec := engine.Context{
			GuildID: envelope.GuildID,
			Details: map[string]string{
				"command":   payload.Command,
				"server_id": payload.ServerID,
			},
		}
		if serverID, err := uuid.Parse(payload.ServerID); err == nil && serverID != uuid.Nil {
			ec.ServerID = &serverID
		}
		return automations.Trigger(ctx, engine.TriggerServerCommand, ec, nil)
	}

	// Unknown event types are skipped so topic evolution does not wedge
	// the consumer group.
	return nil
}
