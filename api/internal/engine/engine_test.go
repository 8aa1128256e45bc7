package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"overwatch-command-core/api/internal/models"
	"overwatch-command-core/shared/clients/prc"
	"overwatch-command-core/shared/logx"
)

type fakeRuleStore struct {
	records  []models.Automation
	lastRuns map[uuid.UUID]time.Time
}

func (s *fakeRuleStore) ListEnabledByTrigger(ctx context.Context, trigger string) ([]models.Automation, error) {
	var out []models.Automation
	for _, r := range s.records {
		if r.Trigger == trigger && r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) TouchLastRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	if s.lastRuns == nil {
		s.lastRuns = map[uuid.UUID]time.Time{}
	}
	s.lastRuns[id] = at
	return nil
}

type fakeServerStore struct {
	servers []models.GameServer
}

func (s *fakeServerStore) GetByID(ctx context.Context, id uuid.UUID) (models.GameServer, error) {
	for _, server := range s.servers {
		if server.ServerID == id {
			return server, nil
		}
	}
	return models.GameServer{}, errors.New("not found")
}

func (s *fakeServerStore) ListByGuild(ctx context.Context, guildID uuid.UUID) ([]models.GameServer, error) {
	var out []models.GameServer
	for _, server := range s.servers {
		if server.GuildID == guildID {
			out = append(out, server)
		}
	}
	return out, nil
}

type fakeExecutor struct {
	commands    []string
	statusCalls int
	status      prc.ServerStatus
	execErr     error
}

func (e *fakeExecutor) ExecuteCommand(ctx context.Context, serverKey string, command string) error {
	e.commands = append(e.commands, command)
	return e.execErr
}

func (e *fakeExecutor) GetServerStatus(ctx context.Context, serverKey string) (prc.ServerStatus, error) {
	e.statusCalls++
	return e.status, nil
}

type fakeCommandSink struct {
	enqueued []models.QueuedCommand
}

func (s *fakeCommandSink) Enqueue(ctx context.Context, cmd models.QueuedCommand) (models.QueuedCommand, error) {
	s.enqueued = append(s.enqueued, cmd)
	return cmd, nil
}

type fakeNotificationSink struct {
	notified []string
	err      error
}

func (s *fakeNotificationSink) Notify(ctx context.Context, guildID uuid.UUID, kind string, target string, body string) error {
	s.notified = append(s.notified, kind+":"+body)
	return s.err
}

type fakePunishmentSink struct {
	warnings []models.Punishment
}

func (s *fakePunishmentSink) RecordWarning(ctx context.Context, p models.Punishment) error {
	s.warnings = append(s.warnings, p)
	return nil
}

type fakeAuditSink struct {
	entries []models.AuditLog
}

func (s *fakeAuditSink) Record(ctx context.Context, entry models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

type harness struct {
	engine      *Engine
	rules       *fakeRuleStore
	executor    *fakeExecutor
	commands    *fakeCommandSink
	notify      *fakeNotificationSink
	punishments *fakePunishmentSink
	audit       *fakeAuditSink
	guildID     uuid.UUID
	serverID    uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rules:       &fakeRuleStore{},
		executor:    &fakeExecutor{},
		commands:    &fakeCommandSink{},
		notify:      &fakeNotificationSink{},
		punishments: &fakePunishmentSink{},
		audit:       &fakeAuditSink{},
		guildID:     uuid.New(),
		serverID:    uuid.New(),
	}
	servers := &fakeServerStore{servers: []models.GameServer{{
		ServerID:  h.serverID,
		GuildID:   h.guildID,
		Name:      "Overwatch Main",
		ServerKey: "sk-main",
		Enabled:   true,
	}}}
	h.engine = New(logx.New("engine-test", "test", "", "error"), Deps{
		Rules:         h.rules,
		Servers:       servers,
		Executor:      h.executor,
		Commands:      h.commands,
		Notifications: h.notify,
		Punishments:   h.punishments,
		Audit:         h.audit,
	})
	h.engine.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return h
}

func (h *harness) addRule(t *testing.T, trigger string, conditions string, actions string, interval int, lastRun *time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	h.rules.records = append(h.rules.records, models.Automation{
		AutomationID:    id,
		GuildID:         h.guildID,
		Name:            "rule-" + id.String()[:8],
		Trigger:         trigger,
		Conditions:      []byte(conditions),
		Actions:         []byte(actions),
		Enabled:         true,
		IntervalMinutes: interval,
		LastRunAt:       lastRun,
	})
	return id
}

func TestConfiguredHTTPTimeout(t *testing.T) {
	e := New(logx.Logger{}, Deps{HTTPTimeout: 3 * time.Second})
	if e.httpClient.Timeout != 3*time.Second {
		t.Fatalf("expected configured 3s timeout, got %v", e.httpClient.Timeout)
	}
	e = New(logx.Logger{}, Deps{})
	if e.httpClient.Timeout != 10*time.Second {
		t.Fatalf("expected 10s fallback, got %v", e.httpClient.Timeout)
	}
}

func TestSubstituteRendersPlayerTokens(t *testing.T) {
	ec := Context{Player: &PlayerInfo{Name: "Bob", ID: "123"}}
	got := Substitute(":kick {player_name} {player_id}", ec, nil)
	if got != ":kick Bob 123" {
		t.Fatalf("got %q", got)
	}
}

func TestSubstituteFallbacks(t *testing.T) {
	got := Substitute("{player_name} / {punishment_reason} / {player_count}", Context{}, nil)
	if got != "Unknown / None / 0" {
		t.Fatalf("got %q", got)
	}
}

func TestSubstituteLegacyTokens(t *testing.T) {
	ec := Context{Player: &PlayerInfo{Name: "Bob", ID: "123"}}
	if got := Substitute(":pm %id% hello %name%", ec, nil); got != ":pm 123 hello Bob" {
		t.Fatalf("got %q", got)
	}
}

func TestConditionGreaterThan(t *testing.T) {
	cond := Condition{Field: "player.permission", Operator: OpGreaterThan, Value: "0"}
	if !evaluate(cond, Context{Player: &PlayerInfo{Permission: 5}}, nil) {
		t.Fatalf("permission 5 should match > 0")
	}
	if evaluate(cond, Context{Player: &PlayerInfo{Permission: 0}}, nil) {
		t.Fatalf("permission 0 should not match > 0")
	}
}

func TestConditionUnknownFieldFailsGracefully(t *testing.T) {
	cond := Condition{Field: "player.nonsense", Operator: OpGreaterThan, Value: "1"}
	if evaluate(cond, Context{Player: &PlayerInfo{}}, nil) {
		t.Fatalf("unknown field must fail numeric comparison")
	}
	neq := Condition{Field: "punishment.type", Operator: OpNotEquals, Value: "ban"}
	if !evaluate(neq, Context{}, nil) {
		t.Fatalf("NOT_EQUALS against absent data should pass")
	}
}

func TestParseRuleRejectsBadOperator(t *testing.T) {
	_, err := ParseRule(models.Automation{
		AutomationID: uuid.New(),
		Trigger:      TriggerPlayerJoined,
		Conditions:   []byte(`[{"field":"player.name","operator":"LIKE","value":"x"}]`),
		Actions:      []byte(`[{"type":"command","content":":h hi"}]`),
	})
	if err == nil {
		t.Fatalf("expected parse error for unknown operator")
	}
}

func TestParseRuleRejectsUnknownTrigger(t *testing.T) {
	_, err := ParseRule(models.Automation{
		AutomationID: uuid.New(),
		Trigger:      "on_full_moon",
		Actions:      []byte(`[{"type":"command","content":":h hi"}]`),
	})
	if err == nil {
		t.Fatalf("expected parse error for unknown trigger")
	}
}

func TestParseRuleAcceptsLegacyIntervalTrigger(t *testing.T) {
	rule, err := ParseRule(models.Automation{
		AutomationID:    uuid.New(),
		Trigger:         "time_interval",
		Actions:         []byte(`[{"type":"command","content":":h hi"}]`),
		IntervalMinutes: 15,
	})
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if rule.Trigger != TriggerInterval {
		t.Fatalf("expected trigger normalized to %q, got %q", TriggerInterval, rule.Trigger)
	}
}

func TestTriggerFiresMatchingRule(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, TriggerPunishmentIssued,
		`[{"field":"punishment.type","operator":"EQUALS","value":"ban"}]`,
		`[{"type":"command","content":":kick {player_name} {player_id}"}]`, 0, nil)

	ec := Context{
		GuildID:    h.guildID,
		Player:     &PlayerInfo{Name: "Bob", ID: "123"},
		Punishment: &PunishmentInfo{Type: "ban", Reason: "rdm"},
	}
	if err := h.engine.Trigger(context.Background(), TriggerPunishmentIssued, ec, nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(h.executor.commands) != 1 || h.executor.commands[0] != ":kick Bob 123" {
		t.Fatalf("unexpected commands %v", h.executor.commands)
	}
}

func TestTriggerSkipsWhenConditionsFail(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, TriggerPunishmentIssued,
		`[{"field":"punishment.type","operator":"EQUALS","value":"ban"}]`,
		`[{"type":"command","content":":kick {player_name}"}]`, 0, nil)

	ec := Context{
		GuildID:    h.guildID,
		Punishment: &PunishmentInfo{Type: "warning"},
	}
	if err := h.engine.Trigger(context.Background(), TriggerPunishmentIssued, ec, nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(h.executor.commands) != 0 {
		t.Fatalf("rule should not have fired, got %v", h.executor.commands)
	}
}

func TestTriggerSkipsLiveFetchWhenUnreferenced(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, TriggerPlayerJoined, `[]`,
		`[{"type":"notification","content":"{player_name} joined"}]`, 0, nil)

	ec := Context{GuildID: h.guildID, Player: &PlayerInfo{Name: "Bob"}}
	if err := h.engine.Trigger(context.Background(), TriggerPlayerJoined, ec, nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if h.executor.statusCalls != 0 {
		t.Fatalf("expected no live-state fetch, got %d", h.executor.statusCalls)
	}
}

func TestTriggerFetchesLiveStateForServerConditions(t *testing.T) {
	h := newHarness(t)
	h.executor.status = prc.ServerStatus{Name: "Overwatch Main", CurrentPlayers: 8}
	h.addRule(t, TriggerInterval,
		`[{"field":"server.player_count","operator":"GREATER_THAN","value":"5"}]`,
		`[{"type":"command","content":":h {server_name} has {player_count} online"}]`, 30, nil)

	if err := h.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if h.executor.statusCalls != 1 {
		t.Fatalf("expected one live-state fetch, got %d", h.executor.statusCalls)
	}
	if len(h.executor.commands) != 1 || h.executor.commands[0] != ":h Overwatch Main has 8 online" {
		t.Fatalf("unexpected commands %v", h.executor.commands)
	}
}

func TestActionFailureDoesNotAbortRemainingActions(t *testing.T) {
	h := newHarness(t)
	h.notify.err = errors.New("sink down")
	h.addRule(t, TriggerPlayerJoined, `[]`,
		`[{"type":"notification","content":"a"},{"type":"command","content":":h b"}]`, 0, nil)

	ec := Context{GuildID: h.guildID, Player: &PlayerInfo{Name: "Bob"}}
	if err := h.engine.Trigger(context.Background(), TriggerPlayerJoined, ec, nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(h.executor.commands) != 1 {
		t.Fatalf("second action should still run, got %v", h.executor.commands)
	}
}

func TestIntervalGating(t *testing.T) {
	h := newHarness(t)
	recent := time.Now().Add(-30 * time.Minute)
	overdue := time.Now().Add(-61 * time.Minute)
	h.addRule(t, TriggerInterval, `[]`, `[{"type":"command","content":":h recent"}]`, 60, &recent)
	overdueID := h.addRule(t, TriggerInterval, `[]`, `[{"type":"command","content":":h overdue"}]`, 60, &overdue)

	if err := h.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(h.executor.commands) != 1 || h.executor.commands[0] != ":h overdue" {
		t.Fatalf("only the overdue rule should fire, got %v", h.executor.commands)
	}
	if _, ok := h.rules.lastRuns[overdueID]; !ok {
		t.Fatalf("lastRunAt must be recorded after firing")
	}
}

func TestWarningActionRecordsPunishment(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, TriggerPlayerJoined, `[]`,
		`[{"type":"warning","content":"AFK farming: {player_name}"}]`, 0, nil)

	ec := Context{GuildID: h.guildID, Player: &PlayerInfo{Name: "Bob", ID: "123"}}
	if err := h.engine.Trigger(context.Background(), TriggerPlayerJoined, ec, nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(h.punishments.warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(h.punishments.warnings))
	}
	w := h.punishments.warnings[0]
	if w.PlayerID != "123" || w.Type != "warning" || w.Reason != "AFK farming: Bob" {
		t.Fatalf("unexpected warning %+v", w)
	}
}

func TestQueueCommandActionEnqueues(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, TriggerPunishmentIssued, `[]`,
		`[{"type":"queue_command","content":":ban {player_id}","priority":5}]`, 0, nil)

	ec := Context{GuildID: h.guildID, Player: &PlayerInfo{Name: "Bob", ID: "123"}}
	if err := h.engine.Trigger(context.Background(), TriggerPunishmentIssued, ec, nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(h.commands.enqueued) != 1 {
		t.Fatalf("expected one enqueued command, got %d", len(h.commands.enqueued))
	}
	cmd := h.commands.enqueued[0]
	if cmd.Command != ":ban 123" || cmd.Priority != 5 || cmd.ServerID != h.serverID {
		t.Fatalf("unexpected enqueued command %+v", cmd)
	}
}

func TestTriggerWithoutResolvableServerIsSilent(t *testing.T) {
	h := newHarness(t)
	ec := Context{GuildID: uuid.New()}
	if err := h.engine.Trigger(context.Background(), TriggerPlayerJoined, ec, nil); err != nil {
		t.Fatalf("expected silent skip, got %v", err)
	}
}
