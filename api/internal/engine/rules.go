package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"overwatch-command-core/api/internal/models"
)

const (
	TriggerPunishmentIssued = "punishment_issued"
	TriggerPlayerJoined     = "player_joined"
	TriggerPlayerLeft       = "player_left"
	TriggerServerCommand    = "server_command"
	TriggerInterval         = "interval"
)

type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpContains    Operator = "CONTAINS"
)

type ActionType string

const (
	ActionCommand      ActionType = "command"
	ActionQueueCommand ActionType = "queue_command"
	ActionNotification ActionType = "notification"
	ActionDirectMsg    ActionType = "direct_message"
	ActionAudit        ActionType = "audit"
	ActionWarning      ActionType = "warning"
	ActionHTTP         ActionType = "http"
	ActionDelay        ActionType = "delay"
)

// Condition is one {field, operator, value} clause. A rule's conditions
// are an implicit AND.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

type Action struct {
	Type     ActionType `json:"type"`
	Content  string     `json:"content"`
	Target   string     `json:"target"`
	Priority int        `json:"priority"`
	DelayMS  int        `json:"delay_ms"`
}

// Rule is a stored automation parsed into typed form. Parsing happens
// at load time so malformed rules surface before firing, not during.
type Rule struct {
	ID              uuid.UUID
	GuildID         uuid.UUID
	Name            string
	Trigger         string
	Conditions      []Condition
	Actions         []Action
	IntervalMinutes int
	LastRunAt       *time.Time
}

func ParseRule(record models.Automation) (Rule, error) {
	rule := Rule{
		ID:              record.AutomationID,
		GuildID:         record.GuildID,
		Name:            record.Name,
		Trigger:         strings.ToLower(strings.TrimSpace(record.Trigger)),
		IntervalMinutes: record.IntervalMinutes,
		LastRunAt:       record.LastRunAt,
	}
	// Older dashboard builds stored interval rules as "time_interval".
	if rule.Trigger == "time_interval" {
		rule.Trigger = TriggerInterval
	}
	switch rule.Trigger {
	case TriggerPunishmentIssued, TriggerPlayerJoined, TriggerPlayerLeft,
		TriggerServerCommand, TriggerInterval:
	default:
		return Rule{}, fmt.Errorf("rule %s: unknown trigger %q", record.AutomationID, record.Trigger)
	}
	if rule.Trigger == TriggerInterval && rule.IntervalMinutes <= 0 {
		return Rule{}, fmt.Errorf("rule %s: interval trigger needs interval_minutes", record.AutomationID)
	}

	if len(record.Conditions) > 0 {
		if err := json.Unmarshal(record.Conditions, &rule.Conditions); err != nil {
			return Rule{}, fmt.Errorf("rule %s: conditions: %w", record.AutomationID, err)
		}
	}
	for i, cond := range rule.Conditions {
		op := Operator(strings.ToUpper(strings.TrimSpace(string(cond.Operator))))
		switch op {
		case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains:
			rule.Conditions[i].Operator = op
		default:
			return Rule{}, fmt.Errorf("rule %s: unknown operator %q", record.AutomationID, cond.Operator)
		}
		if strings.TrimSpace(cond.Field) == "" {
			return Rule{}, fmt.Errorf("rule %s: condition %d has no field", record.AutomationID, i)
		}
	}

	if len(record.Actions) > 0 {
		if err := json.Unmarshal(record.Actions, &rule.Actions); err != nil {
			return Rule{}, fmt.Errorf("rule %s: actions: %w", record.AutomationID, err)
		}
	}
	if len(rule.Actions) == 0 {
		return Rule{}, fmt.Errorf("rule %s: no actions", record.AutomationID)
	}
	for i, action := range rule.Actions {
		kind := ActionType(strings.ToLower(strings.TrimSpace(string(action.Type))))
		switch kind {
		case ActionCommand, ActionQueueCommand, ActionNotification, ActionDirectMsg,
			ActionAudit, ActionWarning, ActionHTTP, ActionDelay:
			rule.Actions[i].Type = kind
		default:
			return Rule{}, fmt.Errorf("rule %s: unknown action type %q", record.AutomationID, action.Type)
		}
	}
	return rule, nil
}

// DueAt reports whether an interval rule is eligible to fire at now.
func (r Rule) DueAt(now time.Time) bool {
	if r.Trigger != TriggerInterval || r.IntervalMinutes <= 0 {
		return false
	}
	if r.LastRunAt == nil {
		return true
	}
	return !now.Before(r.LastRunAt.Add(time.Duration(r.IntervalMinutes) * time.Minute))
}
