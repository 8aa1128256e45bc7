package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"overwatch-command-core/api/internal/models"
	"overwatch-command-core/shared/clients/prc"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/metricsx"
)

type RuleStore interface {
	ListEnabledByTrigger(ctx context.Context, trigger string) ([]models.Automation, error)
	TouchLastRun(ctx context.Context, automationID uuid.UUID, at time.Time) error
}

type ServerStore interface {
	GetByID(ctx context.Context, serverID uuid.UUID) (models.GameServer, error)
	ListByGuild(ctx context.Context, guildID uuid.UUID) ([]models.GameServer, error)
}

// Executor issues commands and reads live state through the PRC client.
type Executor interface {
	ExecuteCommand(ctx context.Context, serverKey string, command string) error
	GetServerStatus(ctx context.Context, serverKey string) (prc.ServerStatus, error)
}

type CommandSink interface {
	Enqueue(ctx context.Context, cmd models.QueuedCommand) (models.QueuedCommand, error)
}

type NotificationSink interface {
	Notify(ctx context.Context, guildID uuid.UUID, kind string, target string, body string) error
}

type PunishmentSink interface {
	RecordWarning(ctx context.Context, p models.Punishment) error
}

type AuditSink interface {
	Record(ctx context.Context, entry models.AuditLog) error
}

type Engine struct {
	logger logx.Logger

	rules         RuleStore
	servers       ServerStore
	executor      Executor
	commands      CommandSink
	notifications NotificationSink
	punishments   PunishmentSink
	audit         AuditSink

	httpClient *http.Client

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Deps struct {
	Rules         RuleStore
	Servers       ServerStore
	Executor      Executor
	Commands      CommandSink
	Notifications NotificationSink
	Punishments   PunishmentSink
	Audit         AuditSink
	HTTPTimeout   time.Duration
}

func New(logger logx.Logger, deps Deps) *Engine {
	timeout := deps.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		logger:        logger,
		rules:         deps.Rules,
		servers:       deps.Servers,
		executor:      deps.Executor,
		commands:      deps.Commands,
		notifications: deps.Notifications,
		punishments:   deps.Punishments,
		audit:         deps.Audit,
		httpClient:    &http.Client{Timeout: timeout},
		now:           time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Trigger evaluates rules for an event. A nil only means "every enabled
// rule for this trigger in the event's guild"; the tick scheduler passes
// a pre-selected rule instead.
func (e *Engine) Trigger(ctx context.Context, trigger string, ec Context, only *Rule) error {
	server, ok := e.resolveServer(ctx, ec)
	if !ok {
		// No target context means nothing can execute; log and move on.
		e.logger.Warn(ctx, "automation_no_server", "no resolvable game server for trigger",
			slog.String("trigger", trigger),
			slog.String("guild_id", ec.GuildID.String()))
		return nil
	}

	var rules []Rule
	if only != nil {
		rules = []Rule{*only}
	} else {
		records, err := e.rules.ListEnabledByTrigger(ctx, trigger)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		for _, record := range records {
			if record.GuildID != ec.GuildID {
				continue
			}
			rule, err := ParseRule(record)
			if err != nil {
				// Fail closed: a malformed rule never fires.
				e.logger.Error(ctx, "automation_rule_invalid", "skipping unparseable rule",
					slog.String("error_code", "VALIDATION_FAILED"),
					slog.String("automation_id", record.AutomationID.String()),
					slog.String("error", err.Error()))
				continue
			}
			rules = append(rules, rule)
		}
	}

	var live *LiveState
	liveFetched := false
	for _, rule := range rules {
		if !liveFetched && needsLiveState(rule) {
			liveFetched = true
			live = e.fetchLive(ctx, server)
		}

		if !conditionsMatch(rule.Conditions, ec, live) {
			metricsx.IncAutomationRun(trigger, "skipped")
			continue
		}

		e.runActions(ctx, server, rule, ec, live)
		metricsx.IncAutomationRun(trigger, "fired")

		if rule.Trigger == TriggerInterval {
			if err := e.rules.TouchLastRun(ctx, rule.ID, e.now()); err != nil {
				e.logger.Error(ctx, "automation_last_run_update_failed", "failed to record rule run",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.String("automation_id", rule.ID.String()),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// Tick fires every enabled interval rule whose next run has passed.
func (e *Engine) Tick(ctx context.Context) error {
	records, err := e.rules.ListEnabledByTrigger(ctx, TriggerInterval)
	if err != nil {
		return fmt.Errorf("load interval rules: %w", err)
	}
	now := e.now()
	for _, record := range records {
		rule, err := ParseRule(record)
		if err != nil {
			e.logger.Error(ctx, "automation_rule_invalid", "skipping unparseable interval rule",
				slog.String("error_code", "VALIDATION_FAILED"),
				slog.String("automation_id", record.AutomationID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if !rule.DueAt(now) {
			continue
		}
		if err := e.Trigger(ctx, TriggerInterval, Context{GuildID: rule.GuildID}, &rule); err != nil {
			e.logger.Error(ctx, "automation_tick_failed", "interval rule run failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("automation_id", rule.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (e *Engine) resolveServer(ctx context.Context, ec Context) (models.GameServer, bool) {
	if ec.ServerID != nil {
		server, err := e.servers.GetByID(ctx, *ec.ServerID)
		if err != nil || !server.Enabled {
			return models.GameServer{}, false
		}
		return server, true
	}
	servers, err := e.servers.ListByGuild(ctx, ec.GuildID)
	if err != nil {
		return models.GameServer{}, false
	}
	for _, server := range servers {
		if server.Enabled {
			return server, true
		}
	}
	return models.GameServer{}, false
}

// fetchLive is best effort. A probe failure evaluates like an offline
// server: server.* conditions fail and placeholders render defaults.
func (e *Engine) fetchLive(ctx context.Context, server models.GameServer) *LiveState {
	status, err := e.executor.GetServerStatus(ctx, server.ServerKey)
	if err != nil {
		e.logger.Warn(ctx, "automation_live_state_unavailable", "could not fetch server status",
			slog.String("server_id", server.ServerID.String()),
			slog.String("error", err.Error()))
		return nil
	}
	name := status.Name
	if name == "" {
		name = server.Name
	}
	return &LiveState{
		ServerName:  name,
		PlayerCount: status.CurrentPlayers,
		MaxPlayers:  status.MaxPlayers,
	}
}

// runActions executes the rule's actions in declared order. Each action
// is isolated: a failure is logged and the next action still runs.
func (e *Engine) runActions(ctx context.Context, server models.GameServer, rule Rule, ec Context, live *LiveState) {
	for i, action := range rule.Actions {
		if err := e.runAction(ctx, server, rule, action, ec, live); err != nil {
			e.logger.Error(ctx, "automation_action_failed", "action failed, continuing with rule",
				slog.String("error_code", "DEPENDENCY_UNAVAILABLE"),
				slog.String("automation_id", rule.ID.String()),
				slog.Int("action_index", i),
				slog.String("action_type", string(action.Type)),
				slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) runAction(ctx context.Context, server models.GameServer, rule Rule, action Action, ec Context, live *LiveState) error {
	content := Substitute(action.Content, ec, live)
	target := Substitute(action.Target, ec, live)

	switch action.Type {
	case ActionCommand:
		return e.executor.ExecuteCommand(ctx, server.ServerKey, content)

	case ActionQueueCommand:
		var playerID *string
		if ec.Player != nil && ec.Player.ID != "" {
			id := ec.Player.ID
			playerID = &id
		}
		_, err := e.commands.Enqueue(ctx, models.QueuedCommand{
			ServerID:        server.ServerID,
			GuildID:         rule.GuildID,
			Command:         content,
			Priority:        action.Priority,
			Source:          "automation:" + rule.ID.String(),
			RelatedPlayerID: playerID,
		})
		return err

	case ActionNotification:
		return e.notifications.Notify(ctx, rule.GuildID, "notification", target, content)

	case ActionDirectMsg:
		if target == "" {
			return errors.New("direct message action without target")
		}
		return e.notifications.Notify(ctx, rule.GuildID, "direct_message", target, content)

	case ActionWarning:
		if ec.Player == nil {
			return errors.New("warning action without player context")
		}
		return e.punishments.RecordWarning(ctx, models.Punishment{
			GuildID:    rule.GuildID,
			ServerID:   ec.ServerID,
			PlayerID:   ec.Player.ID,
			PlayerName: ec.Player.Name,
			Type:       "warning",
			Reason:     content,
			Moderator:  "automation",
		})

	case ActionAudit:
		resourceType := "automation"
		resourceID := rule.ID.String()
		return e.audit.Record(ctx, models.AuditLog{
			GuildID:      rule.GuildID,
			Subject:      "automation",
			Action:       "automation.fired",
			ResourceType: &resourceType,
			ResourceID:   &resourceID,
			Details:      []byte(fmt.Sprintf(`{"rule":%q,"content":%q}`, rule.Name, content)),
		})

	case ActionHTTP:
		if target == "" {
			return errors.New("http action without target url")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(content))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("http action status %d", resp.StatusCode)
		}
		return nil

	case ActionDelay:
		if action.DelayMS <= 0 {
			return nil
		}
		return e.sleep(ctx, time.Duration(action.DelayMS)*time.Millisecond)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}
