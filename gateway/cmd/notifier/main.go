package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"overwatch-command-core/shared/clients/discord"
	"overwatch-command-core/shared/config"
	"overwatch-command-core/shared/events"
	"overwatch-command-core/shared/httpx"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/metricsx"
	"overwatch-command-core/shared/mqx"
	"overwatch-command-core/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

// The notifier drains the alert topics and forwards each event to the
// community's Discord webhook.
func main() {
	cfg, readyProblems := config.Load("notifier", 8091)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	var shutdownTracer func(context.Context) error
	if cfg.OtelEnabled {
		var err error
		shutdownTracer, err = observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		})
		if err != nil {
			logger.Error(context.Background(), "otel_init_failed", "otel init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(cfg.KafkaBrokers) == 0 {
		readyProblems = append(readyProblems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if len(cfg.NotifierTopics) == 0 {
		readyProblems = append(readyProblems, config.Problem{Field: "NOTIFIER_TOPICS", Message: "NOTIFIER_TOPICS is required"})
	}
	if strings.TrimSpace(cfg.NotifierGroupID) == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "NOTIFIER_GROUP_ID", Message: "NOTIFIER_GROUP_ID is required"})
	}
	if strings.TrimSpace(cfg.DiscordWebhookURL) == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DISCORD_WEBHOOK_URL", Message: "DISCORD_WEBHOOK_URL is required"})
	}

	webhook := discord.NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if len(readyProblems) == 0 {
		for _, topic := range cfg.NotifierTopics {
			topic = strings.TrimSpace(topic)
			if topic == "" {
				continue
			}
			reader, err := mqx.NewConsumer(cfg, topic, cfg.NotifierGroupID)
			if err != nil {
				logger.Error(ctx, "kafka_init_failed", "kafka reader init failed",
					slog.String("error_code", "FAILED_PRECONDITION"),
					slog.String("topic", topic),
					slog.String("error", err.Error()),
				)
				continue
			}
			wg.Add(1)
			go func(topic string, reader *kafka.Reader) {
				defer wg.Done()
				defer reader.Close()
				notifyLoop(ctx, logger, cfg, reader, topic, webhook)
			}(topic, reader)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	handler := httpx.WrapServeMux(mux, notFound)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("topics", len(cfg.NotifierTopics)),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	cancel()
	wg.Wait()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if shutdownTracer != nil {
		_ = shutdownTracer(context.Background())
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

func notifyLoop(ctx context.Context, logger logx.Logger, cfg config.Config, reader *kafka.Reader, topic string, webhook *discord.Client) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "notifier_consume_failed", "failed to consume message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
				slog.String("topic", topic),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if err := webhook.Send(ctx, renderMessage(topic, msg.Value)); err != nil {
			logger.Error(ctx, "notifier_deliver_failed", "webhook delivery failed",
				slog.String("error_code", "DEPENDENCY_UNAVAILABLE"),
				slog.String("error", err.Error()),
				slog.String("topic", topic),
			)
			// Retrying a webhook that keeps failing would stall the
			// partition; the delivery counter tracks the loss.
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "notifier_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
				slog.String("topic", topic),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.NotifierGroupID, stats.Lag)
	}
}

func renderMessage(topic string, raw []byte) discord.Message {
	var envelope events.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return discord.Message{Content: "Unparseable event on " + topic}
	}

	switch envelope.EventType {
	case events.EventPunishmentIssued:
		var payload events.PunishmentPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err == nil {
			embed := discord.Embed{
				Title:     "Punishment issued",
				Color:     0xE74C3C,
				Timestamp: envelope.OccurredAt.UTC().Format(time.RFC3339),
				Fields: []discord.EmbedField{
					{Name: "Player", Value: payload.PlayerName + " (" + payload.PlayerID + ")", Inline: true},
					{Name: "Type", Value: payload.Type, Inline: true},
				},
			}
			if payload.Reason != "" {
				embed.Fields = append(embed.Fields, discord.EmbedField{Name: "Reason", Value: payload.Reason})
			}
			if payload.Moderator != "" {
				embed.Fields = append(embed.Fields, discord.EmbedField{Name: "Moderator", Value: payload.Moderator, Inline: true})
			}
			return discord.Message{Embeds: []discord.Embed{embed}}
		}
	default:
		var payload events.AlertPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err == nil && payload.Message != "" {
			embed := discord.Embed{
				Title:       "Alert: " + payload.Kind,
				Description: payload.Message,
				Color:       0xF1C40F,
				Timestamp:   envelope.OccurredAt.UTC().Format(time.RFC3339),
			}
			if payload.ServerID != "" {
				embed.Fields = []discord.EmbedField{{Name: "Server", Value: payload.ServerID, Inline: true}}
			}
			return discord.Message{Embeds: []discord.Embed{embed}}
		}
	}
	return discord.Message{Content: "Event " + envelope.EventType + " on " + topic}
}
