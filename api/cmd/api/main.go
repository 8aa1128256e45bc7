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
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/dispatch"
	"overwatch-command-core/api/internal/middleware"
	"overwatch-command-core/api/internal/models"
	"overwatch-command-core/api/internal/repos"
	"overwatch-command-core/api/internal/sinks"
	"overwatch-command-core/shared/authx"
	"overwatch-command-core/shared/clients/discord"
	"overwatch-command-core/shared/clients/prc"
	"overwatch-command-core/shared/config"
	"overwatch-command-core/shared/dbx"
	"overwatch-command-core/shared/events"
	"overwatch-command-core/shared/guildx"
	"overwatch-command-core/shared/httpx"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/metricsx"
	"overwatch-command-core/shared/mqx"
	"overwatch-command-core/shared/observability"
	"overwatch-command-core/shared/workflow"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.PRCAPIURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "PRC_API_URL", Message: "PRC_API_URL is required"})
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.TracerConfig{
		ServiceName: cfg.ServiceName,
		Env:         cfg.Env,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	})
	if err != nil {
		logger.Warn(context.Background(), "otel_init_failed", "tracing disabled",
			slog.String("error", err.Error()))
		shutdownTracer = func(context.Context) error { return nil }
	}

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	guildRepo := repos.NewGuildRepo(dbPool)
	serverRepo := repos.NewServerRepo(dbPool)
	commandRepo := repos.NewCommandRepo(dbPool)
	automationRepo := repos.NewAutomationRepo(dbPool)
	punishmentRepo := repos.NewPunishmentRepo(dbPool)
	notificationRepo := repos.NewNotificationRepo(dbPool)
	auditRepo := repos.NewAuditRepo(dbPool)

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Warn(context.Background(), "kafka_init_failed", "event publishing disabled",
			slog.String("error", err.Error()))
	}
	defer func() {
		if producer != nil {
			producer.Close()
		}
	}()

	webhook := discord.NewClient(cfg)
	limiter := prc.NewRegistry(
		cfg.PRCRateBudget,
		time.Duration(cfg.RateAlertThresholdMS)*time.Millisecond,
		time.Duration(cfg.RateAlertCooldownSec)*time.Second,
		rateAlert(logger, webhook, producer),
	)
	prcClient, err := prc.NewClient(cfg, limiter, logger)
	if err != nil {
		readyProblems = append(readyProblems, config.Problem{Field: "PRC_API_URL", Message: "failed to initialize PRC client"})
	} else {
		defer prcClient.Close()
	}

	sink := sinks.CommandSink{Repo: commandRepo, Pool: dbPool}
	processor := dispatch.NewProcessor(logger, commandRepo, serverRepo, prcClient, sink, dispatch.Config{
		BatchSize:       cfg.QueueBatchSize,
		CommandDelay:    time.Duration(cfg.QueueCommandDelayMS) * time.Millisecond,
		ProcessingStale: time.Duration(cfg.QueueProcessingStaleSec) * time.Second,
	})

	var verifier *authx.JWTVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		verifier, err = authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize JWT verifier"})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: invalid configuration", map[string]any{"problems": readyProblems})
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: database unavailable", map[string]any{"problem": "db_ping_failed"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ready", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		auth, ok := authx.FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"subject": auth.Subject,
			"email":   auth.Email,
			"name":    auth.Name,
			"roles":   auth.Roles,
		})
	})

	mux.HandleFunc("GET /api/v1/guilds/current", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		record, err := guildRepo.GetByID(r.Context(), guildID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "guild not found", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"guild_id": record.GuildID,
			"slug":     record.Slug,
			"name":     record.Name,
		})
	})

	mux.HandleFunc("GET /api/v1/servers", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		servers, err := serverRepo.ListByGuild(r.Context(), guildID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list servers", nil)
			return
		}
		out := make([]map[string]any, 0, len(servers))
		for _, s := range servers {
			// The PRC key never leaves the service.
			out = append(out, map[string]any{
				"server_id": s.ServerID,
				"name":      s.Name,
				"enabled":   s.Enabled,
			})
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"servers": out})
	})

	mux.HandleFunc("POST /api/v1/servers", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		var req struct {
			Name      string `json:"name"`
			ServerKey string `json:"server_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.ServerKey) == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "name and server_key are required", nil)
			return
		}
		server, err := serverRepo.Create(r.Context(), dbPool, models.GameServer{
			GuildID:   guildID,
			Name:      strings.TrimSpace(req.Name),
			ServerKey: strings.TrimSpace(req.ServerKey),
			Enabled:   true,
		})
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create server", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{"server_id": server.ServerID})
	})

	mux.HandleFunc("GET /api/v1/servers/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		server, ok := serverFromRequest(w, r, serverRepo)
		if !ok {
			return
		}
		status, err := prcClient.GetServerStatus(r.Context(), server.ServerKey)
		if err != nil {
			writePRCError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"name":            status.Name,
			"current_players": status.CurrentPlayers,
			"max_players":     status.MaxPlayers,
			"join_key":        status.JoinKey,
		})
	})

	mux.HandleFunc("GET /api/v1/servers/{id}/players", func(w http.ResponseWriter, r *http.Request) {
		server, ok := serverFromRequest(w, r, serverRepo)
		if !ok {
			return
		}
		players, err := prcClient.GetPlayers(r.Context(), server.ServerKey)
		if err != nil {
			writePRCError(w, r, err)
			return
		}
		out := make([]map[string]any, 0, len(players))
		for _, p := range players {
			out = append(out, map[string]any{
				"name":       p.Name(),
				"player_id":  p.ID(),
				"permission": p.Permission,
				"team":       p.Team,
				"callsign":   p.Callsign,
			})
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"players": out})
	})

	// Direct mode: user-triggered moderation commands skip the queue.
	mux.HandleFunc("POST /api/v1/servers/{id}/command", func(w http.ResponseWriter, r *http.Request) {
		server, ok := serverFromRequest(w, r, serverRepo)
		if !ok {
			return
		}
		var req struct {
			Command string `json:"command"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "command is required", nil)
			return
		}
		if err := prcClient.ExecuteCommand(r.Context(), server.ServerKey, req.Command); err != nil {
			writePRCError(w, r, err)
			return
		}
		publishCommandEvent(r.Context(), producer, server, req.Command, events.EventServerCommand)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "executed"})
	})

	mux.HandleFunc("GET /api/v1/servers/{id}/commands", func(w http.ResponseWriter, r *http.Request) {
		server, ok := serverFromRequest(w, r, serverRepo)
		if !ok {
			return
		}
		statuses := parseStatuses(r.URL.Query().Get("status"))
		cmds, err := commandRepo.ListByServer(r.Context(), server.ServerID, statuses, 200)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list queue", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"commands": cmds})
	})

	mux.HandleFunc("POST /api/v1/commands", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		var req struct {
			ServerID string `json:"server_id"`
			Command  string `json:"command"`
			Priority int    `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "server_id and command are required", nil)
			return
		}
		serverID, err := uuid.Parse(req.ServerID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid server id", nil)
			return
		}
		server, err := serverRepo.GetByID(r.Context(), serverID)
		if err != nil || server.GuildID != guildID {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "server not found", nil)
			return
		}
		source := "dashboard"
		if auth, ok := authx.FromContext(r.Context()); ok && auth.Subject != "" {
			source = "dashboard:" + auth.Subject
		}
		cmd, err := sink.Enqueue(r.Context(), models.QueuedCommand{
			ServerID: serverID,
			GuildID:  guildID,
			Command:  strings.TrimSpace(req.Command),
			Priority: req.Priority,
			Source:   source,
		})
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to enqueue command", nil)
			return
		}
		publishCommandEvent(r.Context(), producer, server, cmd.Command, events.EventCommandQueued)
		httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
			"command_id": cmd.CommandID,
			"status":     cmd.Status,
		})
	})

	mux.HandleFunc("POST /api/v1/commands/broadcast", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		var req struct {
			OriginServerID string `json:"origin_server_id"`
			Command        string `json:"command"`
			Priority       int    `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "command is required", nil)
			return
		}
		origin := uuid.Nil
		if strings.TrimSpace(req.OriginServerID) != "" {
			parsed, err := uuid.Parse(req.OriginServerID)
			if err != nil {
				httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid origin server id", nil)
				return
			}
			origin = parsed
		}
		if err := processor.Broadcast(r.Context(), guildID, origin, strings.TrimSpace(req.Command), req.Priority, "broadcast"); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "broadcast failed", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "broadcast"})
	})

	mux.HandleFunc("GET /api/v1/automations", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		automations, err := automationRepo.ListByGuild(r.Context(), guildID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list automations", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"automations": automations})
	})

	mux.HandleFunc("POST /api/v1/automations", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		var req struct {
			Name            string          `json:"name"`
			Trigger         string          `json:"trigger"`
			Conditions      json.RawMessage `json:"conditions"`
			Actions         json.RawMessage `json:"actions"`
			IntervalMinutes int             `json:"interval_minutes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "name, trigger and actions are required", nil)
			return
		}
		automation, err := automationRepo.Create(r.Context(), dbPool, models.Automation{
			GuildID:         guildID,
			Name:            strings.TrimSpace(req.Name),
			Trigger:         strings.ToLower(strings.TrimSpace(req.Trigger)),
			Conditions:      req.Conditions,
			Actions:         req.Actions,
			Enabled:         true,
			IntervalMinutes: req.IntervalMinutes,
		})
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create automation", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{"automation_id": automation.AutomationID})
	})

	mux.HandleFunc("POST /api/v1/automations/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		automationID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid automation id", nil)
			return
		}
		automation, err := automationRepo.GetByID(r.Context(), automationID)
		if err != nil || automation.GuildID != guildID {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "automation not found", nil)
			return
		}
		if err := automationRepo.SetEnabled(r.Context(), automationID, !automation.Enabled); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to toggle automation", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"enabled": !automation.Enabled})
	})

	mux.HandleFunc("GET /api/v1/punishments", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
		if playerID == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "player_id is required", nil)
			return
		}
		punishments, err := punishmentRepo.ListByPlayer(r.Context(), guildID, playerID, 100)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list punishments", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"punishments": punishments})
	})

	mux.HandleFunc("GET /api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildFromRequest(w, r)
		if !ok {
			return
		}
		notifications, err := notificationRepo.ListUnread(r.Context(), guildID, 50)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list notifications", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
	})

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	skipInfra := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.DBRequiredMiddleware{Pool: dbPool, Skip: skipInfra}.Wrap(handler)
	handler = middleware.AuditMiddleware{
		Enabled: cfg.AuditEnabled,
		Repo:    auditRepo,
		Logger:  logger,
		Skip:    skipInfra,
	}.Wrap(handler)
	handler = middleware.GuildMiddleware{Guilds: guildRepo, Skip: skipInfra}.Wrap(handler)
	handler = middleware.AuthMiddleware{Verifier: verifier, Skip: skipInfra}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(10, 30, 2*time.Minute),
		Skip:    skipInfra,
	}.Wrap(handler)
	handler = middleware.CORSMiddleware{AllowCredentials: true, MaxAge: 10 * time.Minute}.Wrap(handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	_ = shutdownTracer(shutdownCtx)
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

func guildFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	guild, ok := guildx.FromContext(r.Context())
	if !ok || guild.ID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing guild", nil)
		return uuid.Nil, false
	}
	guildID, err := uuid.Parse(guild.ID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid guild id", nil)
		return uuid.Nil, false
	}
	return guildID, true
}

func serverFromRequest(w http.ResponseWriter, r *http.Request, serverRepo *repos.ServerRepo) (models.GameServer, bool) {
	guildID, ok := guildFromRequest(w, r)
	if !ok {
		return models.GameServer{}, false
	}
	serverID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid server id", nil)
		return models.GameServer{}, false
	}
	server, err := serverRepo.GetByID(r.Context(), serverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "server not found", nil)
			return models.GameServer{}, false
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load server", nil)
		return models.GameServer{}, false
	}
	if server.GuildID != guildID {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "server not found", nil)
		return models.GameServer{}, false
	}
	return server, true
}

func writePRCError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, prc.ErrInvalidServerKey):
		httpx.WriteError(w, r, http.StatusBadGateway, "FAILED_PRECONDITION", "server key rejected by PRC", nil)
	case errors.Is(err, prc.ErrRateLimited):
		httpx.WriteError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "PRC rate limit exhausted", nil)
	case errors.Is(err, prc.ErrTimeout):
		httpx.WriteError(w, r, http.StatusGatewayTimeout, "DEADLINE_EXCEEDED", "PRC request timed out", nil)
	default:
		httpx.WriteError(w, r, http.StatusBadGateway, "DEPENDENCY_UNAVAILABLE", "PRC request failed", nil)
	}
}

func parseStatuses(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var statuses []string
	for _, part := range strings.Split(raw, ",") {
		status := workflow.NormalizeCommandStatus(part)
		if status != "" {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func publishCommandEvent(ctx context.Context, producer *mqx.Producer, server models.GameServer, command string, eventType string) {
	if producer == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"server_id": server.ServerID.String(),
		"command":   command,
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
	// Best effort: command execution already happened.
	_ = producer.Publish(ctx, events.TopicCommands, []byte(server.ServerID.String()), value, nil)
}

// rateAlert fans a rate-limit stall out to the Discord webhook and the
// alerts topic. Both paths are best effort.
func rateAlert(logger logx.Logger, webhook *discord.Client, producer *mqx.Producer) prc.AlertFunc {
	return func(ctx context.Context, key string, waited time.Duration) {
		logger.Warn(ctx, "prc_rate_limit_stall", "request waited on PRC rate budget past alert threshold",
			slog.Duration("waited", waited))
		if err := webhook.Send(ctx, discord.Message{
			Content: "PRC rate budget stalled: a request has been waiting " + waited.Round(time.Second).String(),
		}); err != nil && !errors.Is(err, discord.ErrNotConfigured) {
			logger.Warn(ctx, "rate_alert_webhook_failed", "alert webhook delivery failed",
				slog.String("error", err.Error()))
		}
		if producer != nil {
			payload, err := json.Marshal(events.AlertPayload{
				Kind:    "prc_rate_limit_stall",
				Message: "PRC rate budget stalled for " + waited.Round(time.Second).String(),
			})
			if err != nil {
				return
			}
			envelope := events.Envelope{
				EventID:    uuid.New(),
				OccurredAt: time.Now().UTC(),
				EventType:  "alert_raised",
				Payload:    payload,
			}
			if value, err := json.Marshal(envelope); err == nil {
				_ = producer.Publish(ctx, events.TopicAlerts, []byte(key), value, nil)
			}
		}
	}
}
