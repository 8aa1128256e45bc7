package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"overwatch-command-core/api/internal/models"
	"overwatch-command-core/api/internal/repos"
	"overwatch-command-core/shared/cachex"
	"overwatch-command-core/shared/clients/prc"
	"overwatch-command-core/shared/config"
	"overwatch-command-core/shared/dbx"
	"overwatch-command-core/shared/events"
	"overwatch-command-core/shared/influxx"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/metricsx"
	"overwatch-command-core/shared/mqx"
	"overwatch-command-core/shared/observability"
)

const (
	presenceKeyPrefix = "overwatch:presence:"
	snapshotRetention = 7 * 24 * time.Hour
)

// rosterEntry is the cached view of a player seen on the last poll.
type rosterEntry struct {
	Name       string `json:"name"`
	Team       string `json:"team,omitempty"`
	Permission int    `json:"permission,omitempty"`
}

func main() {
	cfg, problems := config.Load("presence-poller", 8084)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.PRCAPIURL == "" {
		problems = append(problems, config.Problem{Field: "PRC_API_URL", Message: "PRC_API_URL is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
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

	cache, err := cachex.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "redis_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer cache.Close()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Warn(context.Background(), "kafka_init_failed", "presence events disabled",
			slog.String("error", err.Error()))
	}
	defer func() {
		if producer != nil {
			producer.Close()
		}
	}()

	var influx *influxx.Client
	if cfg.InfluxURL != "" {
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "player count series disabled",
				slog.String("error", err.Error()))
		} else {
			defer influx.Close()
		}
	}

	limiter := prc.NewRegistry(
		cfg.PRCRateBudget,
		time.Duration(cfg.RateAlertThresholdMS)*time.Millisecond,
		time.Duration(cfg.RateAlertCooldownSec)*time.Second,
		func(ctx context.Context, key string, waited time.Duration) {
			logger.Warn(ctx, "prc_rate_limit_stall", "presence poll waited on PRC rate budget past alert threshold",
				slog.Duration("waited", waited))
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

	serverRepo := repos.NewServerRepo(dbPool)
	statusRepo := repos.NewServerStatusRepo(dbPool)

	poller := &poller{
		logger:   logger,
		servers:  serverRepo,
		statuses: statusRepo,
		cache:    cache,
		producer: producer,
		influx:   influx,
		prc:      prcClient,
		ttl:      3 * time.Duration(cfg.PresencePollSec) * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
		cancel()
	}()

	interval := time.Duration(cfg.PresencePollSec) * time.Second
	logger.Info(ctx, "presence_start", "presence poller started",
		slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	poller.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "presence_stop", "presence poller stopped")
			return
		case <-ticker.C:
			poller.pollAll(ctx)
		}
	}
}

type poller struct {
	logger   logx.Logger
	servers  *repos.ServerRepo
	statuses *repos.ServerStatusRepo
	cache    *cachex.Client
	producer *mqx.Producer
	influx   *influxx.Client
	prc      *prc.Client
	ttl      time.Duration
}

func (p *poller) pollAll(ctx context.Context) {
	servers, err := p.servers.ListEnabled(ctx)
	if err != nil {
		p.logger.Error(ctx, "server_list_failed", "failed to list enabled servers",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, server := range servers {
		if ctx.Err() != nil {
			return
		}
		if err := p.pollServer(ctx, server); err != nil {
			p.logger.Warn(ctx, "presence_poll_failed", "poll failed for server",
				slog.String("server_id", server.ServerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, err := p.statuses.Prune(ctx, snapshotRetention); err != nil {
		p.logger.Warn(ctx, "snapshot_prune_failed", "failed to prune old snapshots",
			slog.String("error", err.Error()))
	}
}

func (p *poller) pollServer(ctx context.Context, server models.GameServer) error {
	players, err := p.prc.GetPlayers(ctx, server.ServerKey)
	if err != nil {
		return err
	}

	roster := make(map[string]rosterEntry, len(players))
	for _, player := range players {
		roster[player.ID()] = rosterEntry{
			Name:       player.Name(),
			Team:       player.Team,
			Permission: player.PermissionLevel(),
		}
	}

	key := presenceKeyPrefix + server.ServerID.String()
	previous := map[string]rosterEntry{}
	seen, err := p.cache.GetJSON(ctx, key, &previous)
	if err != nil {
		p.logger.Warn(ctx, "presence_cache_read_failed", "treating roster as fresh",
			slog.String("server_id", server.ServerID.String()),
			slog.String("error", err.Error()),
		)
		seen = false
	}

	// First poll after a restart just seeds the cache. Emitting joins
	// for everyone already online would spam the automations.
	if seen {
		p.publishDiff(ctx, server, previous, roster)
	}

	if err := p.cache.SetJSON(ctx, key, roster, p.ttl); err != nil {
		p.logger.Warn(ctx, "presence_cache_write_failed", "roster not cached",
			slog.String("server_id", server.ServerID.String()),
			slog.String("error", err.Error()),
		)
	}

	if _, err := p.statuses.Insert(ctx, models.ServerStatusSnapshot{
		ServerID:    server.ServerID,
		GuildID:     server.GuildID,
		PlayerCount: len(players),
		CapturedAt:  time.Now().UTC(),
	}); err != nil {
		p.logger.Warn(ctx, "snapshot_insert_failed", "snapshot not recorded",
			slog.String("server_id", server.ServerID.String()),
			slog.String("error", err.Error()),
		)
	}

	if p.influx != nil {
		if err := p.influx.WritePoint(ctx, "server_presence",
			map[string]string{
				"guild_id":  server.GuildID.String(),
				"server_id": server.ServerID.String(),
			},
			map[string]any{
				"player_count": len(players),
			},
			time.Now().UTC(),
		); err != nil {
			metricsx.IncInfluxWriteFailure()
			p.logger.Warn(ctx, "influx_write_failed", "player count point dropped",
				slog.String("server_id", server.ServerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (p *poller) publishDiff(ctx context.Context, server models.GameServer, previous map[string]rosterEntry, current map[string]rosterEntry) {
	if p.producer == nil {
		return
	}

	var joined, left []string
	for id := range current {
		if _, ok := previous[id]; !ok {
			joined = append(joined, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			left = append(left, id)
		}
	}
	sort.Strings(joined)
	sort.Strings(left)

	for _, id := range joined {
		entry := current[id]
		p.publishPlayerEvent(ctx, server, events.EventPlayerJoined, id, entry)
	}
	for _, id := range left {
		entry := previous[id]
		p.publishPlayerEvent(ctx, server, events.EventPlayerLeft, id, entry)
	}
}

func (p *poller) publishPlayerEvent(ctx context.Context, server models.GameServer, eventType string, playerID string, entry rosterEntry) {
	payload, err := json.Marshal(events.PlayerPayload{
		ServerID:   server.ServerID.String(),
		PlayerID:   playerID,
		PlayerName: entry.Name,
		Team:       entry.Team,
		Permission: entry.Permission,
	})
	if err != nil {
		return
	}
	envelope := events.Envelope{
		EventID:       uuid.New(),
		GuildID:       server.GuildID,
		OccurredAt:    time.Now().UTC(),
		AggregateType: "game_server",
		AggregateID:   server.ServerID,
		EventType:     eventType,
		Payload:       payload,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if err := p.producer.Publish(ctx, events.TopicPlayerEvents, []byte(server.ServerID.String()), value, nil); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn(ctx, "presence_publish_failed", "player event dropped",
			slog.String("server_id", server.ServerID.String()),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}
